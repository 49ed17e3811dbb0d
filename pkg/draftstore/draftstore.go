// Package draftstore is a durable local buffer for in-progress recordings.
// Drafts survive process crashes; each save replaces the previous payload
// atomically so a draft is never observed half-written.
package draftstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	blobFile = "blob.bin"
	metaFile = "meta.json"

	// DefaultMaxAge is how long an untouched draft stays eligible for load.
	DefaultMaxAge = 14 * 24 * time.Hour

	// DefaultMaxBytes bounds the total store size before eviction kicks in.
	DefaultMaxBytes = 2 << 30

	// DefaultAutosaveInterval is the periodic save cadence.
	DefaultAutosaveInterval = 5 * time.Second
)

var (
	// ErrQuotaExceeded reports a save that could not fit even after evicting
	// every inactive draft. The recording itself keeps running.
	ErrQuotaExceeded = errors.New("draft store quota exceeded")

	// ErrNotFound reports a missing or expired draft id.
	ErrNotFound = errors.New("draft not found")
)

// Meta describes a draft's recording.
type Meta struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	CourseRef   string  `json:"course_ref,omitempty"`
	DurationS   float64 `json:"duration_s"`
	Quality     string  `json:"quality"`
	SizeBytes   int64   `json:"size_bytes"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// Draft is one stored recording.
type Draft struct {
	ID   string `json:"id"`
	Meta Meta   `json:"meta"`
}

// Options tune a Store; zero values select the defaults.
type Options struct {
	MaxAge           time.Duration
	MaxBytes         int64
	AutosaveInterval time.Duration
}

// Store persists drafts under a root directory, one subdirectory per draft.
type Store struct {
	root     string
	maxAge   time.Duration
	maxBytes int64
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]bool
	hashes map[string][32]byte
}

// New opens (creating if needed) a draft store rooted at dir.
func New(dir string, opts Options, log zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("draftstore: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("draftstore: create root: %w", err)
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	return &Store{
		root:     dir,
		maxAge:   opts.MaxAge,
		maxBytes: opts.MaxBytes,
		interval: opts.AutosaveInterval,
		log:      log.With().Str("component", "draftstore").Logger(),
		active:   make(map[string]bool),
		hashes:   make(map[string][32]byte),
	}, nil
}

// NewID mints a draft id.
func NewID() string {
	return "drf_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// Save writes the draft atomically: payload and metadata land in temp files
// that are renamed over the previous versions. On quota pressure the oldest
// inactive drafts are evicted first; if the payload still does not fit the
// save fails with ErrQuotaExceeded and the previous version stays intact.
func (s *Store) Save(id string, blob []byte, meta Meta) error {
	if id == "" {
		return errors.New("draftstore: draft id is required")
	}
	meta.SizeBytes = int64(len(blob))
	if meta.TimestampMS == 0 {
		meta.TimestampMS = time.Now().UnixMilli()
	}

	if err := s.ensureSpace(id, int64(len(blob))); err != nil {
		return err
	}

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("draftstore: create draft dir: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, blobFile), blob); err != nil {
		if isNoSpace(err) {
			return ErrQuotaExceeded
		}
		return err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("draftstore: encode meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metaFile), metaBytes); err != nil {
		return err
	}

	s.mu.Lock()
	s.hashes[id] = sha256.Sum256(blob)
	s.mu.Unlock()
	return nil
}

// Load returns a draft's payload and metadata.
func (s *Store) Load(id string) ([]byte, Meta, error) {
	dir := filepath.Join(s.root, id)
	blob, err := os.ReadFile(filepath.Join(dir, blobFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("draftstore: read blob: %w", err)
	}
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, Meta{}, err
	}
	return blob, meta, nil
}

// Delete removes a draft. Deleting an absent draft is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.active, id)
	delete(s.hashes, id)
	s.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("draftstore: delete draft: %w", err)
	}
	return nil
}

// List enumerates drafts newest-first. Drafts past the age limit are
// garbage-collected during the walk, unless a recording is actively saving
// into them.
func (s *Store) List() ([]Draft, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("draftstore: list: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge).UnixMilli()
	drafts := make([]Draft, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		meta, err := s.readMeta(id)
		if err != nil {
			continue
		}
		if meta.TimestampMS < cutoff && !s.isActive(id) {
			if err := s.Delete(id); err != nil {
				s.log.Warn().Err(err).Str("draft_id", id).Msg("expired draft cleanup failed")
			}
			continue
		}
		drafts = append(drafts, Draft{ID: id, Meta: meta})
	}

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].Meta.TimestampMS > drafts[j].Meta.TimestampMS
	})
	return drafts, nil
}

// StartAutosave begins periodic persistence of a recording in progress and
// returns the draft id with a stop function. Saves are skipped while the
// payload is unchanged. Stop performs a final save and releases the draft
// for eviction and GC.
func (s *Store) StartAutosave(getBlob func() ([]byte, error), getMeta func() Meta, onSaved func(Draft, error)) (string, func()) {
	id := NewID()

	s.mu.Lock()
	s.active[id] = true
	s.mu.Unlock()

	stopCh := make(chan struct{})
	done := make(chan struct{})
	var stopOnce sync.Once

	save := func() {
		blob, err := getBlob()
		if err != nil {
			s.notify(onSaved, Draft{ID: id}, err)
			return
		}
		if s.unchanged(id, blob) {
			return
		}
		meta := getMeta()
		err = s.Save(id, blob, meta)
		s.notify(onSaved, Draft{ID: id, Meta: meta}, err)
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				save()
				return
			case <-ticker.C:
				save()
			}
		}
	}()

	stop := func() {
		stopOnce.Do(func() { close(stopCh) })
		<-done
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}
	return id, stop
}

func (s *Store) notify(onSaved func(Draft, error), d Draft, err error) {
	if onSaved != nil {
		onSaved(d, err)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("draft_id", d.ID).Msg("draft save failed")
	}
}

func (s *Store) unchanged(id string, blob []byte) bool {
	sum := sha256.Sum256(blob)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.hashes[id]; ok && prev == sum {
		return true
	}
	return false
}

func (s *Store) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// ensureSpace evicts oldest inactive drafts until the incoming payload fits
// the byte budget.
func (s *Store) ensureSpace(id string, incoming int64) error {
	if incoming > s.maxBytes {
		return ErrQuotaExceeded
	}
	for {
		used, err := s.usedBytes(id)
		if err != nil {
			return err
		}
		if used+incoming <= s.maxBytes {
			return nil
		}
		evicted, err := s.evictOldest(id)
		if err != nil {
			return err
		}
		if !evicted {
			return ErrQuotaExceeded
		}
	}
}

func (s *Store) usedBytes(excludeID string) (int64, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("draftstore: scan: %w", err)
	}
	var total int64
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == excludeID {
			continue
		}
		if meta, err := s.readMeta(entry.Name()); err == nil {
			total += meta.SizeBytes
		}
	}
	return total, nil
}

func (s *Store) evictOldest(excludeID string) (bool, error) {
	drafts, err := s.List()
	if err != nil {
		return false, err
	}
	for i := len(drafts) - 1; i >= 0; i-- {
		d := drafts[i]
		if d.ID == excludeID || s.isActive(d.ID) {
			continue
		}
		s.log.Info().Str("draft_id", d.ID).Msg("evicting draft for space")
		return true, s.Delete(d.ID)
	}
	return false, nil
}

func (s *Store) readMeta(id string) (Meta, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, id, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("draftstore: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("draftstore: decode meta: %w", err)
	}
	return meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".save-*")
	if err != nil {
		return fmt.Errorf("draftstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("draftstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("draftstore: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("draftstore: commit: %w", err)
	}
	return nil
}

func isNoSpace(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no space left")
}
