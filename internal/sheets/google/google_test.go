package google

import (
	"context"
	"testing"

	"cargostat/internal/core"
	"cargostat/internal/store"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if _, err := New(context.Background(), "sheet-id", ""); err == nil {
		t.Fatal("expected missing credentials error")
	}
}

func TestWriteSnapshot_NotInitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetName: defaultSheetName}
	if err := c.WriteSnapshot(context.Background(), store.Snapshot{}); err == nil {
		t.Fatal("expected error without a sheets service")
	}
}

func TestBuildRows(t *testing.T) {
	ctx := context.Background()
	s := store.New()
	coal, _ := s.Taxonomy().AddCategory(ctx, "Coal")
	thermal, _ := s.Taxonomy().AddSubCategory(ctx, coal, "Thermal")
	s.Taxonomy().AddSubCategory(ctx, coal, "Coking")
	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")
	s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("120"), "t")
	s.TimeSeries().Upsert(ctx, 2024, coal, nil, core.MustVolume("5"), "t")
	s.TimeSeries().Upsert(ctx, 2023, ore, nil, core.MustVolume("0.5"), "t")
	snap, _ := s.Snapshot(ctx)

	rows := buildRows(snap)

	want := [][]any{
		header,
		{2023, "Ore", "", "0.5", "t", "", ""},
		{2023, "Ore", "", "", "t", "0.5", "100.00"},
		{2024, "Coal", "", "5", "t", "", ""},
		{2024, "Coal", "Thermal", "120", "t", "", "96.00"},
		{2024, "Coal", "", "", "t", "125", "100.00"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d: %v", len(want), len(rows), rows)
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Fatalf("row %d col %d: got %v, want %v", i, j, rows[i][j], want[i][j])
			}
		}
	}
}
