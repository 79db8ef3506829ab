package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cargostat/internal/amqp"
	"cargostat/internal/export"
	"cargostat/internal/log"
	"cargostat/internal/store"
)

// SnapshotSource produces complete store snapshots.
type SnapshotSource interface {
	ExportSnapshot(ctx context.Context) (store.Snapshot, error)
}

// BackupConfig holds the periodic backup settings.
type BackupConfig struct {
	// Interval is how often a backup is attempted without a change
	// notification (default: 1h). Unchanged state is never re-exported.
	Interval time.Duration
}

func DefaultBackupConfig() BackupConfig {
	return BackupConfig{Interval: time.Hour}
}

// BackupWorker exports snapshots to a sink whenever the stores change.
// Exports are serialized and skipped when the newest announced versions
// are already covered by the last successful export.
type BackupWorker struct {
	source SnapshotSource
	sink   export.Sink
	config BackupConfig

	exportMu    sync.Mutex
	exported    store.Versions
	hasExported bool

	mu      sync.Mutex
	pending store.Versions
	origin  string
	reset   bool
	running bool
	trigger chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewBackupWorker(source SnapshotSource, sink export.Sink, config BackupConfig) *BackupWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultBackupConfig().Interval
	}
	return &BackupWorker{
		source:  source,
		sink:    sink,
		config:  config,
		trigger: make(chan struct{}, 1),
	}
}

// Notify records newly committed versions and wakes the loop. It never
// blocks, so it is safe as a store change hook.
func (w *BackupWorker) Notify(v store.Versions) {
	w.note(v)
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// OnStoreChange adapts Notify to store.Store.OnChange.
func (w *BackupWorker) OnStoreChange(ev store.ChangeEvent) {
	w.Notify(ev.Versions)
}

// HandleChangeMessage processes one change notification from AMQP. The
// export runs synchronously so a failure requeues the message.
func (w *BackupWorker) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	slog.InfoContext(ctx, "Processing change message",
		"kind", msg.Kind,
		"op", msg.Op,
		log.FieldTaxonomyVer, msg.TaxonomyVersion,
		log.FieldDataVer, msg.DataVersion)
	w.noteFrom(msg.Source, msg.Versions())
	return w.RunBackup(ctx)
}

// noteFrom is note for versions that may come from a restarted publisher.
// A new origin starts a new version sequence.
func (w *BackupWorker) noteFrom(origin string, v store.Versions) {
	w.mu.Lock()
	if origin != w.origin {
		if w.origin != "" {
			slog.Info("Change source changed, versions restart",
				"previous", w.origin, "current", origin)
		}
		w.origin = origin
		w.pending = store.Versions{}
		w.reset = true
	}
	w.mu.Unlock()
	w.note(v)
}

func (w *BackupWorker) note(v store.Versions) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v.Taxonomy > w.pending.Taxonomy {
		w.pending.Taxonomy = v.Taxonomy
	}
	if v.Data > w.pending.Data {
		w.pending.Data = v.Data
	}
}

// RunBackup exports one snapshot unless nothing changed since the last
// successful export. The first call always exports.
func (w *BackupWorker) RunBackup(ctx context.Context) error {
	w.exportMu.Lock()
	defer w.exportMu.Unlock()

	w.mu.Lock()
	target := w.pending
	if w.reset {
		w.hasExported = false
		w.reset = false
	}
	w.mu.Unlock()

	if w.hasExported && !newer(target, w.exported) {
		slog.DebugContext(ctx, "Backup up to date",
			log.FieldTaxonomyVer, w.exported.Taxonomy,
			log.FieldDataVer, w.exported.Data)
		return nil
	}

	snap, err := w.source.ExportSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	// Sources reloading from the database cannot report versions.
	if snap.Versions == (store.Versions{}) {
		snap.Versions = target
	}

	if err := w.sink.WriteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	w.exported = snap.Versions
	w.hasExported = true

	slog.InfoContext(ctx, "Backup completed",
		"sink", w.sink.Name(),
		log.FieldTaxonomyVer, snap.Versions.Taxonomy,
		log.FieldDataVer, snap.Versions.Data,
		"records", len(snap.Records))
	return nil
}

// Start begins the backup loop. Returns an error if already running.
func (w *BackupWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("backup worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Backup worker started",
		"sink", w.sink.Name(),
		"interval", w.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current export to finish.
func (w *BackupWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Backup worker stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Backup worker stop timed out")
		return ctx.Err()
	}
}

func (w *BackupWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *BackupWorker) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Startup backup.
	w.runLogged(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-w.trigger:
			w.runLogged(ctx)
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *BackupWorker) runLogged(ctx context.Context) {
	if err := w.RunBackup(ctx); err != nil {
		slog.ErrorContext(ctx, "Backup failed", "error", err)
	}
}

func newer(a, b store.Versions) bool {
	return a.Taxonomy > b.Taxonomy || a.Data > b.Data
}
