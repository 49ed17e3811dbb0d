package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/notify"
	"lms-server/internal/domain/transcode"
	"lms-server/internal/infrastructure/database/entities"
	"lms-server/internal/infrastructure/storage"
	transcodeclient "lms-server/internal/infrastructure/transcode"
	"lms-server/internal/utils/platformerrors"
	"lms-server/internal/worker"
)

type mockStore struct {
	objects  []storage.ObjectInfo
	deleted  []string
	failKeys map[string]bool
}

func (m *mockStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return m.objects, nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	if m.failKeys[key] {
		return storage.ErrStoreUnavailable
	}
	m.deleted = append(m.deleted, key)
	return nil
}

type mockIndex struct {
	stale      []entities.StaleObject
	dequeued   []uint
	referenced map[string]bool
	ready      map[string]string
}

func (m *mockIndex) ListStaleObjects(ctx context.Context, limit int) ([]entities.StaleObject, error) {
	return m.stale, nil
}

func (m *mockIndex) DeleteStaleObject(ctx context.Context, id uint) error {
	m.dequeued = append(m.dequeued, id)
	return nil
}

func (m *mockIndex) StorageKeyReferenced(ctx context.Context, key string) (bool, error) {
	return m.referenced[key], nil
}

func (m *mockIndex) ListReadyVideoIDs(ctx context.Context) (map[string]string, error) {
	return m.ready, nil
}

type mockSubRepo struct {
	subs map[string][]notify.Subscription
}

func (m *mockSubRepo) Create(ctx context.Context, userID, lessonID string) (bool, error) {
	return true, nil
}

func (m *mockSubRepo) ListByLesson(ctx context.Context, lessonID string) ([]notify.Subscription, error) {
	return m.subs[lessonID], nil
}

func (m *mockSubRepo) LessonsWithSubscribers(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	return out, nil
}

func (m *mockSubRepo) Delete(ctx context.Context, id uint) error { return nil }

type captureQueue struct {
	payloads [][]byte
}

func (q *captureQueue) EnqueueNotification(ctx context.Context, payload []byte) error {
	q.payloads = append(q.payloads, payload)
	return nil
}

type emptyLessons struct{}

func (emptyLessons) GetVideoByUploadID(ctx context.Context, uploadID string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (emptyLessons) GetVideoByProviderAssetID(ctx context.Context, assetID string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(context.Background(), platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (emptyLessons) MarkAssetCreated(ctx context.Context, videoID, assetID string) (*lesson.Video, error) {
	return nil, nil
}

func (emptyLessons) SetVideoStatus(ctx context.Context, videoID string, target lesson.Status, upd lesson.StatusUpdate) (*lesson.Video, error) {
	return nil, nil
}

type emptyBuffer struct{}

func (emptyBuffer) MarkEventSeen(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	return true, nil
}

func (emptyBuffer) BufferPendingEvent(ctx context.Context, uploadID string, payload []byte, ttl time.Duration) error {
	return nil
}

func (emptyBuffer) PendingEventIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (emptyBuffer) PeekPendingEvent(ctx context.Context, uploadID string) ([]byte, error) {
	return nil, storage.ErrNotFound
}

func (emptyBuffer) DropPendingEvent(ctx context.Context, uploadID string) error { return nil }

func newReconciler(store *mockStore, index *mockIndex, subs *mockSubRepo, queue *captureQueue) *worker.Reconciler {
	cfg := &config.Config{
		ReconcileInterval: time.Minute,
		OrphanGracePeriod: 24 * time.Hour,
	}
	notifier := notify.NewService(subs, queue, zerolog.Nop())
	transcodeSvc := transcode.NewService(cfg, transcodeclient.NewClient(cfg, zerolog.Nop()),
		emptyLessons{}, emptyBuffer{}, zerolog.Nop())
	return worker.NewReconciler(cfg, store, index, notifier, transcodeSvc, zerolog.Nop())
}

func TestRunOnce_DrainsStaleObjects(t *testing.T) {
	store := &mockStore{failKeys: map[string]bool{"videos/2-b.mp4": true}}
	index := &mockIndex{
		stale: []entities.StaleObject{
			{ID: 1, StorageKey: "videos/1-a.mp4"},
			{ID: 2, StorageKey: "videos/2-b.mp4"},
		},
	}
	r := newReconciler(store, index, &mockSubRepo{}, &captureQueue{})

	r.RunOnce(context.Background())

	assert.Equal(t, []string{"videos/1-a.mp4"}, store.deleted)
	assert.Equal(t, []uint{1}, index.dequeued, "failed deletes must stay queued")
}

func TestRunOnce_CollectsOrphansPastGracePeriod(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	store := &mockStore{
		objects: []storage.ObjectInfo{
			{Key: "videos/1-orphan.mp4", LastModified: old},
			{Key: "videos/2-referenced.mp4", LastModified: old},
			{Key: "videos/3-recent.mp4", LastModified: fresh},
		},
	}
	index := &mockIndex{referenced: map[string]bool{"videos/2-referenced.mp4": true}}
	r := newReconciler(store, index, &mockSubRepo{}, &captureQueue{})

	r.RunOnce(context.Background())

	assert.Equal(t, []string{"videos/1-orphan.mp4"}, store.deleted,
		"referenced and recent objects must survive the sweep")
}

func TestRunOnce_SweepsMissedReadyNotifications(t *testing.T) {
	subs := &mockSubRepo{
		subs: map[string][]notify.Subscription{
			"les_ready":   {{ID: 1, UserID: "usr_1", LessonID: "les_ready"}},
			"les_pending": {{ID: 2, UserID: "usr_2", LessonID: "les_pending"}},
		},
	}
	index := &mockIndex{ready: map[string]string{"les_ready": "vid_1"}}
	queue := &captureQueue{}
	r := newReconciler(&mockStore{}, index, subs, queue)

	r.RunOnce(context.Background())

	require.Len(t, queue.payloads, 1, "only lessons with a ready video fan out")
}
