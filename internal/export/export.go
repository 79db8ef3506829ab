// Package export writes store snapshots to backup destinations.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"cargostat/internal/log"
	"cargostat/internal/store"
)

// Sink receives complete snapshots. Implementations must not leave a
// partial artifact behind when WriteSnapshot fails or ctx ends.
type Sink interface {
	Name() string
	WriteSnapshot(ctx context.Context, snap store.Snapshot) error
}

// SinkError reports which sink failed.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// Fanout writes each snapshot to all sinks concurrently. One failing sink
// does not stop the others; all failures are joined.
type Fanout struct {
	sinks []Sink
	limit int
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, limit: 4}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) WriteSnapshot(ctx context.Context, snap store.Snapshot) error {
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	g.SetLimit(f.limit)
	for i, sink := range f.sinks {
		g.Go(func() error {
			if err := sink.WriteSnapshot(ctx, snap); err != nil {
				slog.ErrorContext(ctx, "Snapshot sink failed",
					"sink", sink.Name(),
					log.FieldDataVer, snap.Versions.Data,
					"error", err)
				errs[i] = &SinkError{Sink: sink.Name(), Err: err}
				return nil
			}
			slog.InfoContext(ctx, "Snapshot written",
				"sink", sink.Name(),
				log.FieldTaxonomyVer, snap.Versions.Taxonomy,
				log.FieldDataVer, snap.Versions.Data)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
