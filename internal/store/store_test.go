package store

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"cargostat/internal/core"
)

func seedCoal(t *testing.T, s *Store) (core.CategoryID, core.SubCategoryID, core.SubCategoryID) {
	t.Helper()
	ctx := context.Background()
	coal, err := s.Taxonomy().AddCategory(ctx, "Coal")
	if err != nil {
		t.Fatalf("add category: %v", err)
	}
	thermal, err := s.Taxonomy().AddSubCategory(ctx, coal, "Thermal")
	if err != nil {
		t.Fatalf("add thermal: %v", err)
	}
	coking, err := s.Taxonomy().AddSubCategory(ctx, coal, "Coking")
	if err != nil {
		t.Fatalf("add coking: %v", err)
	}
	return coal, thermal, coking
}

func TestTaxonomyAddAndNavigate(t *testing.T) {
	s := New()
	coal, thermal, coking := seedCoal(t, s)

	children, err := s.Taxonomy().Children(coal)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 2 || children[0] != thermal || children[1] != coking {
		t.Fatalf("unexpected children order: %v", children)
	}
	parent, err := s.Taxonomy().Parent(coking)
	if err != nil || parent != coal {
		t.Fatalf("expected parent %d, got %d (err=%v)", coal, parent, err)
	}
	if _, err := s.Taxonomy().Children(99); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Taxonomy().Parent(99); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaxonomyDuplicateNames(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, _, _ := seedCoal(t, s)
	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")

	var dup *core.DuplicateNameError
	if _, err := s.Taxonomy().AddCategory(ctx, " coal "); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateNameError, got %v", err)
	}
	if _, err := s.Taxonomy().AddSubCategory(ctx, coal, "THERMAL"); !errors.Is(err, core.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	// Same subcategory name under another parent is fine.
	if _, err := s.Taxonomy().AddSubCategory(ctx, ore, "Thermal"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := s.Taxonomy().RenameCategory(ctx, ore, "Coal"); !errors.Is(err, core.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName on rename, got %v", err)
	}
	if err := s.Taxonomy().RenameCategory(ctx, ore, "Iron ore"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.Taxonomy().AddSubCategory(ctx, 42, "X"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveCategoryRequiresPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, _ := seedCoal(t, s)
	if _, err := s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("120"), "t"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var hd *core.HasDependentsError
	if err := s.Taxonomy().RemoveCategory(ctx, coal); !errors.As(err, &hd) || hd.Records != 1 {
		t.Fatalf("expected HasDependentsError with 1 record, got %v", err)
	}
	if err := s.Taxonomy().RemoveSubCategory(ctx, thermal); !errors.Is(err, core.ErrHasDependents) {
		t.Fatalf("expected ErrHasDependents, got %v", err)
	}

	n, err := s.TimeSeries().PurgeCategory(ctx, coal)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if err := s.Taxonomy().RemoveCategory(ctx, coal); err != nil {
		t.Fatalf("remove after purge: %v", err)
	}
	if _, err := s.Taxonomy().SubCategory(thermal); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected subcategory cascade, got %v", err)
	}
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, _ := seedCoal(t, s)
	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")
	before := s.Versions()

	cases := []struct {
		name string
		cat  core.CategoryID
		sub  *core.SubCategoryID
		vol  core.Volume
		unit string
		want error
	}{
		{"negative volume", coal, nil, core.NewVolume(-1, 0), "t", core.ErrInvalidVolume},
		{"unknown category", 77, nil, core.MustVolume("1"), "t", core.ErrDanglingReference},
		{"unknown subcategory", coal, core.SubID(77), core.MustVolume("1"), "t", core.ErrDanglingReference},
		{"foreign subcategory", ore, core.SubID(thermal), core.MustVolume("1"), "t", core.ErrDanglingReference},
		{"missing unit", coal, nil, core.MustVolume("1"), " ", core.ErrInvalidUnit},
		{"huge exponent", coal, nil, core.NewVolume(1, 5000000), "t", core.ErrInvalidVolume},
		{"too precise", coal, nil, core.NewVolume(1, -30), "t", core.ErrInvalidVolume},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.TimeSeries().Upsert(ctx, 2024, tc.cat, tc.sub, tc.vol, tc.unit)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := s.TimeSeries().Upsert(ctx, 1066, coal, nil, core.MustVolume("1"), "t"); !errors.Is(err, core.ErrInvalidYear) {
		t.Fatalf("expected ErrInvalidYear, got %v", err)
	}
	if got := s.Versions(); got != before {
		t.Fatalf("failed writes bumped versions: %+v -> %+v", before, got)
	}
	if n := countSeq(s.TimeSeries().Query(Filter{})); n != 0 {
		t.Fatalf("failed writes left %d records", n)
	}
}

func TestUpsertReplacesSameKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, _ := seedCoal(t, s)

	id1, err := s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("100"), "t")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("120"), "t")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same record id, got %d and %d", id1, id2)
	}
	direct, _ := s.TimeSeries().Upsert(ctx, 2024, coal, nil, core.MustVolume("5"), "t")
	if direct == id1 {
		t.Fatalf("direct entry must be a separate record")
	}
	rec, err := s.TimeSeries().Record(id1)
	if err != nil || !rec.Volume.Equal(core.MustVolume("120")) {
		t.Fatalf("expected updated volume 120, got %v (err=%v)", rec.Volume, err)
	}
	if err := s.TimeSeries().Remove(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.TimeSeries().Remove(ctx, id1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// The key is free again after removal.
	id3, _ := s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("1"), "t")
	if id3 == id1 {
		t.Fatalf("record ids must not be reused")
	}
}

func TestQueryFiltersAndRestarts(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, coking := seedCoal(t, s)
	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")
	s.TimeSeries().Upsert(ctx, 2023, coal, core.SubID(thermal), core.MustVolume("1"), "t")
	s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(coking), core.MustVolume("2"), "t")
	s.TimeSeries().Upsert(ctx, 2024, ore, nil, core.MustVolume("3"), "t")

	y := core.Year(2024)
	seq := s.TimeSeries().Query(Filter{Year: &y})
	if n := countSeq(seq); n != 2 {
		t.Fatalf("expected 2 records for 2024, got %d", n)
	}
	// Ranging again yields the same records, even after a later write.
	s.TimeSeries().Upsert(ctx, 2024, coal, nil, core.MustVolume("4"), "t")
	if n := countSeq(seq); n != 2 {
		t.Fatalf("expected restartable sequence of 2, got %d", n)
	}

	if n := countSeq(s.TimeSeries().Query(Filter{Year: &y, CategoryID: &coal})); n != 2 {
		t.Fatalf("expected 2 coal records for 2024, got %d", n)
	}
	if n := countSeq(s.TimeSeries().Query(Filter{CategoryID: &coal})); n != 3 {
		t.Fatalf("expected 3 coal records, got %d", n)
	}
	var prev core.Year
	for rec := range s.TimeSeries().Query(Filter{}) {
		if rec.Year < prev {
			t.Fatalf("records not ordered by year")
		}
		prev = rec.Year
	}
	if years := s.TimeSeries().Years(); len(years) != 2 || years[0] != 2023 || years[1] != 2024 {
		t.Fatalf("unexpected years %v", years)
	}
}

func TestVersionsAndHooks(t *testing.T) {
	ctx := context.Background()
	s := New()
	var events []ChangeEvent
	s.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	coal, thermal, _ := seedCoal(t, s)
	v := s.Versions()
	if v.Taxonomy != 3 || v.Data != 0 {
		t.Fatalf("unexpected versions after taxonomy writes: %+v", v)
	}
	s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("1"), "t")
	if got := s.Versions(); got.Data != 1 || got.Taxonomy != 3 {
		t.Fatalf("unexpected versions after data write: %+v", got)
	}
	if len(events) != 4 || events[3].Kind != ChangeData || events[3].Versions.Data != 1 {
		t.Fatalf("unexpected events %+v", events)
	}
	if n, err := s.TimeSeries().PurgeCategory(ctx, coal); err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if n, _ := s.TimeSeries().PurgeCategory(ctx, coal); n != 0 || s.Versions().Data != 2 {
		t.Fatalf("empty purge must not bump versions")
	}
}

func TestHooksRunInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		s.OnChange(func(ev ChangeEvent) { calls = append(calls, name+":"+ev.Op) })
	}
	coal, err := s.Taxonomy().AddCategory(ctx, "Coal")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Taxonomy().RenameCategory(ctx, coal, "Hard coal"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	want := []string{
		"first:create_category", "second:create_category", "third:create_category",
		"first:rename_category", "second:rename_category", "third:rename_category",
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d hook calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
	// A hook registered from inside a hook is picked up by the next mutation.
	s.OnChange(func(ChangeEvent) {
		s.OnChange(func(ChangeEvent) { calls = append(calls, "late") })
	})
	s.Taxonomy().SetCategoryColor(ctx, coal, "#000")
	s.Taxonomy().SetCategoryColor(ctx, coal, "#111")
	if calls[len(calls)-1] != "late" {
		t.Fatalf("expected late hook to run, got %v", calls)
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestCategoryChangesApplyTogether(t *testing.T) {
	ctx := context.Background()
	s := New()
	var events []ChangeEvent
	s.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	coal, err := s.Taxonomy().CreateCategory(ctx, CategoryChanges{
		Name:        strPtr("  Coal "),
		Description: strPtr(" Seaborne coal "),
		Color:       strPtr("#abc"),
		ChartType:   strPtr("PIE"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.Taxonomy().Category(coal)
	want := core.Category{ID: coal, Name: "Coal", Description: "Seaborne coal", Color: "#AABBCC", ChartType: core.ChartPie}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if v := s.Versions().Taxonomy; v != 1 || len(events) != 1 {
		t.Fatalf("create must be one mutation, version=%d events=%d", v, len(events))
	}

	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")
	if c, _ := s.Taxonomy().Category(ore); c.Color != core.DefaultColor || c.ChartType != core.ChartColumn || c.Active {
		t.Fatalf("unexpected defaults %+v", c)
	}

	cases := []struct {
		name string
		ch   CategoryChanges
		want error
	}{
		{"invalid colour with valid name", CategoryChanges{Name: strPtr("Iron ore"), Color: strPtr("red")}, core.ErrInvalidColor},
		{"duplicate name with valid colour", CategoryChanges{Name: strPtr("coal"), Color: strPtr("#000")}, core.ErrDuplicateName},
		{"bad chart type", CategoryChanges{Name: strPtr("Iron ore"), ChartType: strPtr("bar")}, core.ErrInvalidChartType},
	}
	before := s.Versions()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Taxonomy().UpdateCategory(ctx, ore, tc.ch); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if c, _ := s.Taxonomy().Category(ore); c.Name != "Ore" || c.Color != core.DefaultColor {
				t.Fatalf("failed update changed the category: %+v", c)
			}
		})
	}
	if s.Versions() != before {
		t.Fatalf("failed updates bumped versions")
	}

	if err := s.Taxonomy().UpdateCategory(ctx, ore, CategoryChanges{Name: strPtr("Iron ore"), Color: strPtr("#123456")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if c, _ := s.Taxonomy().Category(ore); c.Name != "Iron ore" || c.Color != "#123456" {
		t.Fatalf("unexpected category %+v", c)
	}
	if s.Versions().Taxonomy != before.Taxonomy+1 {
		t.Fatalf("update must bump the version once")
	}
	if _, err := s.Taxonomy().CreateCategory(ctx, CategoryChanges{Color: strPtr("#000")}); !errors.Is(err, core.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName without a name, got %v", err)
	}
}

// countingPersister fails every SaveCategories call from the failFrom-th on.
type countingPersister struct {
	Persister
	failFrom int
	saves    int
	saved    []core.Category
}

func (p *countingPersister) SaveCategories(_ context.Context, cats ...core.Category) error {
	p.saves++
	if p.failFrom > 0 && p.saves >= p.failFrom {
		return errors.New("disk full")
	}
	p.saved = append(p.saved, cats...)
	return nil
}

func TestCreateCategoryPersistsOnce(t *testing.T) {
	cases := []struct {
		name        string
		failFrom    int
		wantErr     bool
		wantVersion uint64
	}{
		{"first save fails", 1, true, 0},
		{"second save would fail", 2, false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &countingPersister{failFrom: tc.failFrom}
			s := New(WithPersister(p))
			events := 0
			s.OnChange(func(ChangeEvent) { events++ })

			_, err := s.Taxonomy().CreateCategory(context.Background(), CategoryChanges{Name: strPtr("Coal"), Color: strPtr("#00f")})
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if p.saves != 1 {
				t.Fatalf("expected exactly one save, got %d", p.saves)
			}
			if got := s.Versions().Taxonomy; got != tc.wantVersion {
				t.Fatalf("expected taxonomy version %d, got %d", tc.wantVersion, got)
			}
			if uint64(events) != tc.wantVersion {
				t.Fatalf("expected %d change events, got %d", tc.wantVersion, events)
			}
			cats := s.Taxonomy().Categories()
			if tc.wantErr {
				if len(cats) != 0 {
					t.Fatalf("failed create left %+v", cats)
				}
				return
			}
			if len(cats) != 1 || cats[0].Color != "#0000FF" || p.saved[0].Color != "#0000FF" {
				t.Fatalf("expected colour stored with the category, got %+v (saved %+v)", cats, p.saved)
			}
		})
	}
}

func TestActiveCategoryLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	ids := make([]core.CategoryID, 0, 4)
	for _, name := range []string{"Coal", "Ore", "Grain", "Oil"} {
		id, err := s.Taxonomy().AddCategory(ctx, name)
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids[:core.MaxActiveCategories] {
		if err := s.Taxonomy().SetCategoryActive(ctx, id, true); err != nil {
			t.Fatalf("activate %d: %v", id, err)
		}
	}
	// Re-activating an active category is not a new activation.
	if err := s.Taxonomy().SetCategoryActive(ctx, ids[0], true); err != nil {
		t.Fatalf("re-activate: %v", err)
	}

	var limit *core.ActiveLimitError
	if err := s.Taxonomy().SetCategoryActive(ctx, ids[2], true); !errors.As(err, &limit) {
		t.Fatalf("expected ActiveLimitError, got %v", err)
	}
	if len(limit.Active) != 2 || limit.Active[0] != ids[0] || limit.Active[1] != ids[1] {
		t.Fatalf("unexpected active list %v", limit.Active)
	}
	if _, err := s.Taxonomy().CreateCategory(ctx, CategoryChanges{Name: strPtr("Gas"), Active: boolPtr(true)}); !errors.Is(err, core.ErrActiveLimit) {
		t.Fatalf("expected ErrActiveLimit on create, got %v", err)
	}
	if len(s.Taxonomy().Categories()) != 4 {
		t.Fatalf("refused create must not add a category")
	}

	if err := s.Taxonomy().SetCategoryActive(ctx, ids[1], false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := s.Taxonomy().SetCategoryActive(ctx, ids[2], true); err != nil {
		t.Fatalf("activate after freeing a slot: %v", err)
	}
}

func TestSubCategoryColor(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, _ := seedCoal(t, s)
	if sub, _ := s.Taxonomy().SubCategory(thermal); sub.Color != core.DefaultColor {
		t.Fatalf("expected default colour, got %q", sub.Color)
	}
	if err := s.Taxonomy().SetSubCategoryColor(ctx, thermal, "#0f0"); err != nil {
		t.Fatalf("set colour: %v", err)
	}
	if sub, _ := s.Taxonomy().SubCategory(thermal); sub.Color != "#00FF00" {
		t.Fatalf("expected normalized colour, got %q", sub.Color)
	}
	if err := s.Taxonomy().UpdateSubCategory(ctx, thermal, SubCategoryChanges{Name: strPtr("Steam"), Color: strPtr("nope")}); !errors.Is(err, core.ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
	if sub, _ := s.Taxonomy().SubCategory(thermal); sub.Name != "Thermal" {
		t.Fatalf("failed update renamed the subcategory to %q", sub.Name)
	}
	id, err := s.Taxonomy().CreateSubCategory(ctx, coal, SubCategoryChanges{Name: strPtr("Anthracite"), Color: strPtr("#222")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub, _ := s.Taxonomy().SubCategory(id); sub.Color != "#222222" {
		t.Fatalf("expected colour on create, got %q", sub.Color)
	}
}

func TestReorderAndColor(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, coking := seedCoal(t, s)
	ore, _ := s.Taxonomy().AddCategory(ctx, "Ore")

	if err := s.Taxonomy().ReorderCategories(ctx, []core.CategoryID{ore, coal}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	cats := s.Taxonomy().Categories()
	if cats[0].ID != ore || cats[1].ID != coal {
		t.Fatalf("unexpected category order %+v", cats)
	}
	if err := s.Taxonomy().ReorderCategories(ctx, []core.CategoryID{ore, ore}); !errors.Is(err, core.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if err := s.Taxonomy().ReorderSubCategories(ctx, coal, []core.SubCategoryID{coking, thermal}); err != nil {
		t.Fatalf("reorder subs: %v", err)
	}
	children, _ := s.Taxonomy().Children(coal)
	if children[0] != coking {
		t.Fatalf("unexpected child order %v", children)
	}
	if err := s.Taxonomy().SetCategoryColor(ctx, coal, "#abc"); err != nil {
		t.Fatalf("set color: %v", err)
	}
	if c, _ := s.Taxonomy().Category(coal); c.Color != "#AABBCC" {
		t.Fatalf("expected normalized color, got %q", c.Color)
	}
	if err := s.Taxonomy().SetCategoryColor(ctx, coal, "red"); !errors.Is(err, core.ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, coking := seedCoal(t, s)
	s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(thermal), core.MustVolume("120"), "t")
	s.TimeSeries().Upsert(ctx, 2024, coal, core.SubID(coking), core.MustVolume("80"), "t")
	s.TimeSeries().Upsert(ctx, 2024, coal, nil, core.MustVolume("5"), "t")

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Categories) != 1 || len(snap.SubCategories) != 2 || len(snap.Records) != 3 {
		t.Fatalf("unexpected snapshot sizes: %+v", snap)
	}

	other := New()
	if err := other.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	again, _ := other.Snapshot(ctx)
	if len(again.Records) != 3 || again.Records[0].ID != snap.Records[0].ID {
		t.Fatalf("restored records differ")
	}
	if v := other.Versions(); v.Taxonomy != 1 || v.Data != 1 {
		t.Fatalf("restore should bump both versions once, got %+v", v)
	}
	// New ids continue after the restored ones.
	id, _ := other.Taxonomy().AddCategory(ctx, "Ore")
	if id <= coal {
		t.Fatalf("expected id greater than %d, got %d", coal, id)
	}

	bad := snap
	bad.Records = append([]core.CargoData(nil), snap.Records...)
	bad.Records = append(bad.Records, core.CargoData{ID: 99, Year: 2024, CategoryID: coal, Volume: core.MustVolume("1"), Unit: "t"})
	if err := New().Restore(ctx, bad); !errors.Is(err, core.ErrInvalidSnapshot) {
		t.Fatalf("expected invalid snapshot error on restore, got %v", err)
	}
}

type recordingPersister struct {
	Persister
	replaced []Snapshot
}

func (p *recordingPersister) ReplaceAll(_ context.Context, snap Snapshot) error {
	p.replaced = append(p.replaced, snap)
	return nil
}

func TestRestorePersistsNormalizedState(t *testing.T) {
	ctx := context.Background()
	p := &recordingPersister{}
	s := New(WithPersister(p))
	snap := Snapshot{
		FormatVersion: 1,
		Categories:    []core.Category{{ID: 3, Name: "  Coal ", Color: "#fff"}},
		SubCategories: []core.SubCategory{{ID: 4, CategoryID: 3, Name: " Thermal", Color: "#abc"}},
		Records: []core.CargoData{
			{ID: 5, Year: 2024, CategoryID: 3, SubCategoryID: core.SubID(4), Volume: core.MustVolume("120"), Unit: " t "},
		},
	}
	if err := s.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(p.replaced) != 1 {
		t.Fatalf("expected one ReplaceAll, got %d", len(p.replaced))
	}
	got := p.replaced[0]
	if got.FormatVersion != SnapshotFormatVersion {
		t.Fatalf("expected format %d, got %d", SnapshotFormatVersion, got.FormatVersion)
	}
	cat := got.Categories[0]
	if cat.Name != "Coal" || cat.Color != "#FFFFFF" || cat.ChartType != core.ChartColumn {
		t.Fatalf("persisted category not normalized: %+v", cat)
	}
	if sub := got.SubCategories[0]; sub.Name != "Thermal" || sub.Color != "#AABBCC" {
		t.Fatalf("persisted subcategory not normalized: %+v", sub)
	}
	if rec := got.Records[0]; rec.Unit != "t" {
		t.Fatalf("persisted record not normalized: %+v", rec)
	}
	// The installed state matches what was persisted.
	if c, _ := s.Taxonomy().Category(3); c != cat {
		t.Fatalf("installed %+v, persisted %+v", c, cat)
	}
}

func TestRestoreRejects(t *testing.T) {
	base := func() Snapshot {
		return Snapshot{
			Categories: []core.Category{{ID: 1, Name: "Coal"}, {ID: 2, Name: "Ore"}, {ID: 3, Name: "Grain"}},
			Records:    []core.CargoData{{ID: 1, Year: 2024, CategoryID: 1, Volume: core.MustVolume("1"), Unit: "t"}},
		}
	}
	cases := []struct {
		name   string
		modify func(*Snapshot)
		want   error
	}{
		{"three active categories", func(s *Snapshot) {
			for i := range s.Categories {
				s.Categories[i].Active = true
			}
		}, core.ErrActiveLimit},
		{"unknown chart type", func(s *Snapshot) { s.Categories[0].ChartType = "donut" }, core.ErrInvalidChartType},
		{"huge volume exponent", func(s *Snapshot) { s.Records[0].Volume = core.NewVolume(1, 5000000) }, core.ErrInvalidVolume},
		{"future format", func(s *Snapshot) { s.FormatVersion = SnapshotFormatVersion + 1 }, core.ErrInvalidSnapshot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &recordingPersister{}
			s := New(WithPersister(p))
			snap := base()
			tc.modify(&snap)
			err := s.Restore(context.Background(), snap)
			if !errors.Is(err, tc.want) || !errors.Is(err, core.ErrInvalidSnapshot) {
				t.Fatalf("expected %v wrapped in ErrInvalidSnapshot, got %v", tc.want, err)
			}
			if len(p.replaced) != 0 || s.Versions() != (Versions{}) {
				t.Fatalf("refused restore must not persist or bump versions")
			}
		})
	}
}

func TestSnapshotCancelled(t *testing.T) {
	s := New()
	seedCoal(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type failingPersister struct {
	Persister
	err error
}

func (f failingPersister) SaveCategories(context.Context, ...core.Category) error { return f.err }

func TestPersisterFailureAbortsMutation(t *testing.T) {
	boom := errors.New("disk full")
	s := New(WithPersister(failingPersister{err: boom}))
	if _, err := s.Taxonomy().AddCategory(context.Background(), "Coal"); !errors.Is(err, boom) {
		t.Fatalf("expected persister error, got %v", err)
	}
	if len(s.Taxonomy().Categories()) != 0 || s.Versions().Taxonomy != 0 {
		t.Fatalf("failed persist must leave store untouched")
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := New()
	coal, thermal, _ := seedCoal(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.TimeSeries().Upsert(ctx, core.Year(2000+j), coal, core.SubID(thermal), core.NewVolume(int64(i*j), 0), "t")
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, err := s.Snapshot(ctx)
				if err != nil {
					t.Errorf("snapshot: %v", err)
					return
				}
				if uint64(len(snap.Records)) > snap.Versions.Data {
					t.Errorf("snapshot shows %d records at data version %d", len(snap.Records), snap.Versions.Data)
					return
				}
			}
		}()
	}
	wg.Wait()
	if n := countSeq(s.TimeSeries().Query(Filter{})); n != 50 {
		t.Fatalf("expected 50 distinct records, got %d", n)
	}
}

func countSeq[T any](seq iter.Seq[T]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}
