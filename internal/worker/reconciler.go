package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/notify"
	"lms-server/internal/domain/transcode"
	"lms-server/internal/infrastructure/database/entities"
	"lms-server/internal/infrastructure/metrics"
	"lms-server/internal/infrastructure/storage"
)

const staleBatchSize = 100

// Store is the object store slice the reconciler sweeps.
type Store interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// VideoIndex answers which stored objects are still referenced.
type VideoIndex interface {
	ListStaleObjects(ctx context.Context, limit int) ([]entities.StaleObject, error)
	DeleteStaleObject(ctx context.Context, id uint) error
	StorageKeyReferenced(ctx context.Context, key string) (bool, error)
	ListReadyVideoIDs(ctx context.Context) (map[string]string, error)
}

// Reconciler runs the periodic cleanup and catch-up passes: stale object
// deletion, orphan garbage collection, missed ready notifications, and
// buffered webhook replay.
type Reconciler struct {
	cfg       *config.Config
	store     Store
	videos    VideoIndex
	notifier  *notify.Service
	transcode *transcode.Service
	log       zerolog.Logger
	stopChan  chan struct{}
}

func NewReconciler(
	cfg *config.Config,
	store Store,
	videos VideoIndex,
	notifier *notify.Service,
	transcodeSvc *transcode.Service,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		videos:    videos,
		notifier:  notifier,
		transcode: transcodeSvc,
		log:       log.With().Str("component", "reconciler").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start runs reconciliation passes on the configured interval until the
// context is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info().Dur("interval", r.cfg.ReconcileInterval).Msg("reconciler started")

	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped by context")
			return
		case <-r.stopChan:
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// Stop gracefully stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopChan)
}

// RunOnce executes every pass a single time. Passes are independent; one
// failing does not block the others.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.drainStaleObjects(ctx)
	r.collectOrphans(ctx)
	r.sweepReadyNotifications(ctx)
	r.replayBufferedEvents(ctx)
}

// drainStaleObjects deletes objects whose videos were replaced or detached.
// Entries stay in the queue until the store confirms the delete.
func (r *Reconciler) drainStaleObjects(ctx context.Context) {
	rows, err := r.videos.ListStaleObjects(ctx, staleBatchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot list stale objects")
		metrics.RecordReconcilePass("stale_objects", "error")
		return
	}

	for _, row := range rows {
		if err := r.store.Delete(ctx, row.StorageKey); err != nil {
			r.log.Warn().Err(err).Str("key", row.StorageKey).Msg("stale object delete failed, will retry")
			continue
		}
		if err := r.videos.DeleteStaleObject(ctx, row.ID); err != nil {
			r.log.Warn().Err(err).Uint("id", row.ID).Msg("cannot dequeue deleted stale object")
		}
	}
	metrics.RecordReconcilePass("stale_objects", "ok")
}

// collectOrphans removes video objects older than the grace period that no
// live video row references: aborted proxied uploads, finalizes that never
// came, rows lost to partial failures.
func (r *Reconciler) collectOrphans(ctx context.Context) {
	objects, err := r.store.List(ctx, storage.PrefixVideos)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot list video objects for orphan sweep")
		metrics.RecordReconcilePass("orphans", "error")
		return
	}

	cutoff := time.Now().Add(-r.cfg.OrphanGracePeriod)
	removed := 0
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		referenced, err := r.videos.StorageKeyReferenced(ctx, obj.Key)
		if err != nil {
			r.log.Warn().Err(err).Str("key", obj.Key).Msg("reference check failed, skipping object")
			continue
		}
		if referenced {
			continue
		}
		if err := r.store.Delete(ctx, obj.Key); err != nil {
			r.log.Warn().Err(err).Str("key", obj.Key).Msg("orphan delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		r.log.Info().Int("removed", removed).Msg("orphaned objects collected")
	}
	metrics.RecordReconcilePass("orphans", "ok")
}

// sweepReadyNotifications re-runs fan-out for lessons whose video is ready
// but which still have subscribers, catching fan-outs lost to crashes or
// enqueue failures.
func (r *Reconciler) sweepReadyNotifications(ctx context.Context) {
	lessons, err := r.notifier.LessonsWithSubscribers(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot list lessons with subscribers")
		metrics.RecordReconcilePass("ready_sweep", "error")
		return
	}
	if len(lessons) == 0 {
		metrics.RecordReconcilePass("ready_sweep", "ok")
		return
	}

	ready, err := r.videos.ListReadyVideoIDs(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot list ready videos")
		metrics.RecordReconcilePass("ready_sweep", "error")
		return
	}

	for _, lessonID := range lessons {
		videoID, ok := ready[lessonID]
		if !ok {
			continue
		}
		r.notifier.VideoReady(ctx, lessonID, videoID)
	}
	metrics.RecordReconcilePass("ready_sweep", "ok")
}

// replayBufferedEvents applies webhook events that arrived before their
// video rows existed.
func (r *Reconciler) replayBufferedEvents(ctx context.Context) {
	applied, err := r.transcode.DrainPending(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot drain buffered webhook events")
		metrics.RecordReconcilePass("webhook_replay", "error")
		return
	}
	if applied > 0 {
		r.log.Info().Int("applied", applied).Msg("buffered webhook events applied")
	}
	metrics.RecordReconcilePass("webhook_replay", "ok")
}
