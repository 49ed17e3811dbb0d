// Package capture composes live sources into a single encoded recording.
// Sources and the encoder are interfaces; the package owns layout geometry,
// audio mixing, quality adjustment, and recording lifecycle.
package capture

import (
	"errors"
	"time"
)

// SourceKind identifies a capture input.
type SourceKind string

const (
	SourceCamera     SourceKind = "camera"
	SourceScreen     SourceKind = "screen"
	SourceMicrophone SourceKind = "microphone"
	SourceSystem     SourceKind = "system-audio"
)

// ErrRecordingTooShort rejects stops before the minimum recording length.
var ErrRecordingTooShort = errors.New("capture: recording shorter than minimum length")

// MinRecordingLength is the shortest recording Stop accepts.
const MinRecordingLength = time.Second

// Frame is one video frame from a source.
type Frame struct {
	Width  int
	Height int
	Data   []byte
	PTS    time.Duration
}

// FrameSource produces video frames. NextFrame blocks until a frame is
// available or the source ends; a source that ends returns an error and is
// dropped from composition.
type FrameSource interface {
	Kind() SourceKind
	NextFrame() (Frame, error)
	Close() error
}

// AudioSource produces PCM samples at its reported rate.
type AudioSource interface {
	Kind() SourceKind
	SampleRate() int
	NextSamples() ([]int16, error)
	Close() error
}

// ComposedFrame is one output frame with its layer placements resolved.
type ComposedFrame struct {
	Width  int
	Height int
	Layers []Layer
	PTS    time.Duration
}

// Layer is one source frame placed on the canvas.
type Layer struct {
	Source SourceKind
	Frame  Frame
	Region Rect
}

// Encoder turns composed frames and mixed audio into the output container.
// Implementations own the raster and codec work.
type Encoder interface {
	Configure(q Quality) error
	WriteVideo(frame ComposedFrame) error
	WriteAudio(samples []int16, sampleRate int) error
	// Finalize flushes the container and returns the completed payload.
	Finalize() ([]byte, error)
}

// Stats is sampled once per second during recording.
type Stats struct {
	FPS             float64
	FramesDropped   uint64
	AvgRenderTimeMS float64
	MemoryBytes     uint64
}

// StatsFunc receives the 1 Hz stats samples.
type StatsFunc func(Stats)
