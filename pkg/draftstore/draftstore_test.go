package draftstore_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/pkg/draftstore"
)

func newStore(t *testing.T, opts draftstore.Options) *draftstore.Store {
	t.Helper()
	s, err := draftstore.New(t.TempDir(), opts, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewID(t *testing.T) {
	a := draftstore.NewID()
	b := draftstore.NewID()
	assert.True(t, strings.HasPrefix(a, "drf_"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t, draftstore.Options{})
	id := draftstore.NewID()

	blob := []byte("recorded-bytes")
	meta := draftstore.Meta{Title: "Lecture 1", DurationS: 12.5, Quality: "720p"}
	require.NoError(t, s.Save(id, blob, meta))

	got, gotMeta, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	assert.Equal(t, "Lecture 1", gotMeta.Title)
	assert.Equal(t, int64(len(blob)), gotMeta.SizeBytes)
	assert.NotZero(t, gotMeta.TimestampMS)
}

func TestSave_ReplacesPreviousVersion(t *testing.T) {
	s := newStore(t, draftstore.Options{})
	id := draftstore.NewID()

	require.NoError(t, s.Save(id, []byte("v1"), draftstore.Meta{Title: "a"}))
	require.NoError(t, s.Save(id, []byte("v2-longer"), draftstore.Meta{Title: "b"}))

	blob, meta, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-longer"), blob)
	assert.Equal(t, "b", meta.Title)
}

func TestLoad_MissingDraft(t *testing.T) {
	s := newStore(t, draftstore.Options{})
	_, _, err := s.Load("drf_missing")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
}

func TestDelete_AbsentIsNoOp(t *testing.T) {
	s := newStore(t, draftstore.Options{})
	assert.NoError(t, s.Delete("drf_missing"))
}

func TestList_NewestFirst(t *testing.T) {
	s := newStore(t, draftstore.Options{})

	require.NoError(t, s.Save("drf_old", []byte("a"), draftstore.Meta{TimestampMS: 1000}))
	require.NoError(t, s.Save("drf_new", []byte("b"), draftstore.Meta{TimestampMS: 3000}))
	require.NoError(t, s.Save("drf_mid", []byte("c"), draftstore.Meta{TimestampMS: 2000}))

	drafts, err := s.List()
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, "drf_new", drafts[0].ID)
	assert.Equal(t, "drf_mid", drafts[1].ID)
	assert.Equal(t, "drf_old", drafts[2].ID)
}

func TestList_CollectsExpiredDrafts(t *testing.T) {
	s := newStore(t, draftstore.Options{MaxAge: time.Hour})

	expired := time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, s.Save("drf_expired", []byte("a"), draftstore.Meta{TimestampMS: expired}))
	require.NoError(t, s.Save("drf_live", []byte("b"), draftstore.Meta{}))

	drafts, err := s.List()
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "drf_live", drafts[0].ID)

	_, _, err = s.Load("drf_expired")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
}

func TestSave_EvictsOldestWhenOverQuota(t *testing.T) {
	s := newStore(t, draftstore.Options{MaxBytes: 100})

	require.NoError(t, s.Save("drf_oldest", make([]byte, 40), draftstore.Meta{TimestampMS: 1000}))
	require.NoError(t, s.Save("drf_newer", make([]byte, 40), draftstore.Meta{TimestampMS: 2000}))

	// 40+40+40 > 100: the oldest draft has to go.
	require.NoError(t, s.Save("drf_incoming", make([]byte, 40), draftstore.Meta{TimestampMS: 3000}))

	_, _, err := s.Load("drf_oldest")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
	_, _, err = s.Load("drf_newer")
	assert.NoError(t, err)
}

func TestSave_QuotaExceededWhenNothingToEvict(t *testing.T) {
	s := newStore(t, draftstore.Options{MaxBytes: 100})

	err := s.Save("drf_huge", make([]byte, 200), draftstore.Meta{})
	assert.ErrorIs(t, err, draftstore.ErrQuotaExceeded)
}

func TestStartAutosave_SkipsUnchangedPayload(t *testing.T) {
	s := newStore(t, draftstore.Options{AutosaveInterval: 10 * time.Millisecond})

	var mu sync.Mutex
	saves := 0
	id, stop := s.StartAutosave(
		func() ([]byte, error) { return []byte("constant"), nil },
		func() draftstore.Meta { return draftstore.Meta{Title: "t"} },
		func(d draftstore.Draft, err error) {
			mu.Lock()
			saves++
			mu.Unlock()
		},
	)

	time.Sleep(100 * time.Millisecond)
	stop()

	mu.Lock()
	got := saves
	mu.Unlock()
	assert.Equal(t, 1, got, "identical payloads must save once, not per tick")

	blob, _, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("constant"), blob)
}

func TestStartAutosave_SavesChangedPayload(t *testing.T) {
	s := newStore(t, draftstore.Options{AutosaveInterval: 10 * time.Millisecond})

	var mu sync.Mutex
	payload := []byte("v1")
	id, stop := s.StartAutosave(
		func() ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			return payload, nil
		},
		func() draftstore.Meta { return draftstore.Meta{} },
		nil,
	)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	payload = []byte("v2-grew")
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	stop()

	blob, _, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-grew"), blob)
}

func TestStartAutosave_ReportsBlobErrors(t *testing.T) {
	s := newStore(t, draftstore.Options{AutosaveInterval: 10 * time.Millisecond})

	var mu sync.Mutex
	var got error
	_, stop := s.StartAutosave(
		func() ([]byte, error) { return nil, errors.New("encoder stalled") },
		func() draftstore.Meta { return draftstore.Meta{} },
		func(d draftstore.Draft, err error) {
			mu.Lock()
			got = err
			mu.Unlock()
		},
	)

	time.Sleep(30 * time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, got)
	assert.Contains(t, got.Error(), "encoder stalled")
}

func TestStartAutosave_ActiveDraftSurvivesEviction(t *testing.T) {
	s := newStore(t, draftstore.Options{MaxBytes: 100, AutosaveInterval: time.Minute})

	id, stop := s.StartAutosave(
		func() ([]byte, error) { return make([]byte, 40), nil },
		func() draftstore.Meta { return draftstore.Meta{TimestampMS: 1} },
		nil,
	)
	defer stop()

	// Force the first save through the ticker path being slow: save directly.
	require.NoError(t, s.Save(id, make([]byte, 40), draftstore.Meta{TimestampMS: 1}))

	// This save needs space and the only candidate is the active draft.
	err := s.Save("drf_other", make([]byte, 80), draftstore.Meta{TimestampMS: 2})
	assert.ErrorIs(t, err, draftstore.ErrQuotaExceeded)

	_, _, loadErr := s.Load(id)
	assert.NoError(t, loadErr, "active drafts are never evicted")
}
