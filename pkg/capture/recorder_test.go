package capture_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lms-server/pkg/capture"
)

type fakeEncoder struct {
	configured capture.Quality
	configures int32
	writes     int32
	finalizes  int32

	configureErr error
	finalizeOut  []byte
	finalizeErr  error
}

func (e *fakeEncoder) Configure(q capture.Quality) error {
	atomic.AddInt32(&e.configures, 1)
	e.configured = q
	return e.configureErr
}

func (e *fakeEncoder) WriteVideo(capture.ComposedFrame) error {
	atomic.AddInt32(&e.writes, 1)
	return nil
}

func (e *fakeEncoder) WriteAudio([]int16, int) error { return nil }

func (e *fakeEncoder) Finalize() ([]byte, error) {
	atomic.AddInt32(&e.finalizes, 1)
	return e.finalizeOut, e.finalizeErr
}

type fakeFrameSource struct {
	kind capture.SourceKind
}

func (s *fakeFrameSource) Kind() capture.SourceKind { return s.kind }

func (s *fakeFrameSource) NextFrame() (capture.Frame, error) {
	time.Sleep(5 * time.Millisecond)
	return capture.Frame{Width: 1280, Height: 720, Data: []byte{0}}, nil
}

func (s *fakeFrameSource) Close() error { return nil }

type fakeAudioSource struct {
	kind capture.SourceKind
	rate int
}

func (s *fakeAudioSource) Kind() capture.SourceKind { return s.kind }
func (s *fakeAudioSource) SampleRate() int          { return s.rate }

func (s *fakeAudioSource) NextSamples() ([]int16, error) {
	time.Sleep(5 * time.Millisecond)
	return []int16{0, 0}, nil
}

func (s *fakeAudioSource) Close() error { return nil }

func newRecorder(t *testing.T, enc *fakeEncoder, opts capture.Options) *capture.Recorder {
	t.Helper()
	opts.Log = zerolog.Nop()
	rec, err := capture.NewRecorder(enc, opts)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rec
}

func TestNewRecorder(t *testing.T) {
	t.Run("requires an encoder", func(t *testing.T) {
		if _, err := capture.NewRecorder(nil, capture.Options{}); err == nil {
			t.Fatal("expected error for nil encoder")
		}
	})

	t.Run("rejects unknown layouts", func(t *testing.T) {
		_, err := capture.NewRecorder(&fakeEncoder{}, capture.Options{Layout: "diagonal"})
		if err == nil {
			t.Fatal("expected error for unknown layout")
		}
	})

	t.Run("configures the encoder with the chosen preset", func(t *testing.T) {
		enc := &fakeEncoder{}
		rec := newRecorder(t, enc, capture.Options{Preset: capture.Preset1080p})
		if enc.configures != 1 {
			t.Errorf("Configure calls = %d, want 1", enc.configures)
		}
		if enc.configured.Width != 1920 || enc.configured.Height != 1080 {
			t.Errorf("configured %dx%d, want 1920x1080", enc.configured.Width, enc.configured.Height)
		}
		if got := rec.Quality(); got.Preset != capture.Preset1080p {
			t.Errorf("Quality().Preset = %q, want %q", got.Preset, capture.Preset1080p)
		}
	})

	t.Run("falls back to the default preset", func(t *testing.T) {
		enc := &fakeEncoder{}
		rec := newRecorder(t, enc, capture.Options{})
		if got := rec.Quality(); got.Preset != capture.DefaultPreset {
			t.Errorf("Quality().Preset = %q, want %q", got.Preset, capture.DefaultPreset)
		}
	})

	t.Run("propagates encoder configure failures", func(t *testing.T) {
		enc := &fakeEncoder{configureErr: errors.New("codec unavailable")}
		if _, err := capture.NewRecorder(enc, capture.Options{}); err == nil {
			t.Fatal("expected configure error")
		}
	})
}

func TestRecorder_Sources(t *testing.T) {
	t.Run("rejects duplicate video sources", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		if err := rec.AddVideoSource(&fakeFrameSource{kind: capture.SourceScreen}); err != nil {
			t.Fatalf("first add: %v", err)
		}
		if err := rec.AddVideoSource(&fakeFrameSource{kind: capture.SourceScreen}); err == nil {
			t.Error("expected error for duplicate source kind")
		}
	})

	t.Run("removing an unattached source fails", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		if err := rec.RemoveVideoSource(capture.SourceCamera); err == nil {
			t.Error("expected error for unattached source")
		}
	})

	t.Run("rejects audio below the minimum sample rate", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		err := rec.AddAudioSource(&fakeAudioSource{kind: capture.SourceMicrophone, rate: 22050})
		if err == nil {
			t.Fatal("expected error for 22050 Hz source")
		}
		if err := rec.AddAudioSource(&fakeAudioSource{kind: capture.SourceMicrophone, rate: capture.MinSampleRate}); err != nil {
			t.Errorf("44100 Hz source should be accepted: %v", err)
		}
	})

	t.Run("no new sources after stop", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := rec.Stop(); !errors.Is(err, capture.ErrRecordingTooShort) {
			t.Fatalf("Stop error = %v, want ErrRecordingTooShort", err)
		}
		if err := rec.AddVideoSource(&fakeFrameSource{kind: capture.SourceScreen}); err == nil {
			t.Error("expected error adding video after stop")
		}
		if err := rec.AddAudioSource(&fakeAudioSource{kind: capture.SourceMicrophone, rate: 48000}); err == nil {
			t.Error("expected error adding audio after stop")
		}
	})
}

func TestRecorder_SetLayout(t *testing.T) {
	rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
	if err := rec.SetLayout(capture.LayoutPictureInPicture); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := rec.SetLayout("bogus"); err == nil {
		t.Error("expected error for unknown layout")
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	t.Run("stop before start", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		if _, err := rec.Stop(); err == nil {
			t.Fatal("expected error stopping an unstarted recorder")
		}
	})

	t.Run("double start", func(t *testing.T) {
		rec := newRecorder(t, &fakeEncoder{}, capture.Options{})
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := rec.Start(); err == nil {
			t.Error("expected error on second Start")
		}
		rec.Stop()
	})

	t.Run("too-short recordings are rejected without finalizing", func(t *testing.T) {
		enc := &fakeEncoder{finalizeOut: []byte("payload")}
		rec := newRecorder(t, enc, capture.Options{})
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		out, err := rec.Stop()
		if !errors.Is(err, capture.ErrRecordingTooShort) {
			t.Fatalf("Stop error = %v, want ErrRecordingTooShort", err)
		}
		if out != nil {
			t.Errorf("Stop payload = %q, want nil", out)
		}
		if enc.finalizes != 0 {
			t.Errorf("Finalize calls = %d, want 0", enc.finalizes)
		}
	})

	t.Run("a long enough recording returns the finalized payload", func(t *testing.T) {
		enc := &fakeEncoder{finalizeOut: []byte("recording")}
		rec := newRecorder(t, enc, capture.Options{Preset: capture.Preset480p})
		if err := rec.AddVideoSource(&fakeFrameSource{kind: capture.SourceScreen}); err != nil {
			t.Fatalf("AddVideoSource: %v", err)
		}
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		time.Sleep(capture.MinRecordingLength + 100*time.Millisecond)
		out, err := rec.Stop()
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if string(out) != "recording" {
			t.Errorf("payload = %q, want %q", out, "recording")
		}
		if atomic.LoadInt32(&enc.writes) == 0 {
			t.Error("expected at least one composed frame to reach the encoder")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		enc := &fakeEncoder{finalizeOut: []byte("once")}
		rec := newRecorder(t, enc, capture.Options{})
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		time.Sleep(capture.MinRecordingLength + 100*time.Millisecond)
		first, firstErr := rec.Stop()
		second, secondErr := rec.Stop()
		if firstErr != nil || secondErr != nil {
			t.Fatalf("Stop errors = %v, %v", firstErr, secondErr)
		}
		if string(first) != "once" || string(second) != "once" {
			t.Errorf("payloads = %q, %q, want %q twice", first, second, "once")
		}
		if enc.finalizes != 1 {
			t.Errorf("Finalize calls = %d, want 1", enc.finalizes)
		}
	})
}
