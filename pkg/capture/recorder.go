package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configure a Recorder.
type Options struct {
	Preset     Preset
	Layout     Layout
	AutoAdjust bool
	OnStats    StatsFunc
	Log        zerolog.Logger
}

// autoAdjustWindow is the rolling window for the dropped-frame check.
const autoAdjustWindow = 5 * time.Second

// autoAdjustThreshold is the dropped-frame rate that triggers a step down.
const autoAdjustThreshold = 0.05

// Recorder drives composition and encoding for one recording session.
// Sources can be added and removed while recording; the shared canvas keeps
// re-composing, so already-captured data is never lost.
type Recorder struct {
	encoder Encoder
	mixer   *Mixer
	onStats StatsFunc
	auto    bool
	log     zerolog.Logger

	mu       sync.Mutex
	layout   Layout
	quality  Quality
	video    map[SourceKind]*videoPump
	audio    map[SourceKind]*audioPump
	started  bool
	stopped  bool
	startAt  time.Time
	result   []byte
	stopErr  error
	stopCh   chan struct{}
	loopDone chan struct{}

	framesOut     uint64
	framesDropped uint64
	renderTotalMS float64
	windowFrames  uint64
	windowDropped uint64
	windowStart   time.Time
}

// NewRecorder builds a recorder around an encoder.
func NewRecorder(encoder Encoder, opts Options) (*Recorder, error) {
	if encoder == nil {
		return nil, errors.New("capture: encoder is required")
	}
	layout := opts.Layout
	if layout == "" {
		layout = LayoutScreenOnly
	}
	if !layout.Valid() {
		return nil, fmt.Errorf("capture: unknown layout %q", layout)
	}
	q := Lookup(opts.Preset)
	if err := encoder.Configure(q); err != nil {
		return nil, fmt.Errorf("capture: configure encoder: %w", err)
	}
	return &Recorder{
		encoder: encoder,
		mixer:   NewMixer(),
		onStats: opts.OnStats,
		auto:    opts.AutoAdjust,
		log:     opts.Log.With().Str("component", "recorder").Logger(),
		layout:  layout,
		quality: q,
		video:   make(map[SourceKind]*videoPump),
		audio:   make(map[SourceKind]*audioPump),
		stopCh:  make(chan struct{}),
	}, nil
}

// Mixer exposes the audio mixer for gain and mute control.
func (r *Recorder) Mixer() *Mixer { return r.mixer }

// Quality reports the current encoding quality.
func (r *Recorder) Quality() Quality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality
}

// AddVideoSource attaches a frame source; allowed before and during
// recording.
func (r *Recorder) AddVideoSource(src FrameSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("capture: recorder already stopped")
	}
	if _, ok := r.video[src.Kind()]; ok {
		return fmt.Errorf("capture: source %q already attached", src.Kind())
	}
	pump := newVideoPump(src)
	r.video[src.Kind()] = pump
	pump.start()
	return nil
}

// RemoveVideoSource detaches a source mid-recording. Composition continues
// with the remaining sources on the next frame.
func (r *Recorder) RemoveVideoSource(kind SourceKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pump, ok := r.video[kind]
	if !ok {
		return fmt.Errorf("capture: source %q not attached", kind)
	}
	delete(r.video, kind)
	pump.stop()
	return nil
}

// AddAudioSource attaches an audio source to the mix.
func (r *Recorder) AddAudioSource(src AudioSource) error {
	if src.SampleRate() < MinSampleRate {
		return fmt.Errorf("capture: sample rate %d below minimum %d", src.SampleRate(), MinSampleRate)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("capture: recorder already stopped")
	}
	if _, ok := r.audio[src.Kind()]; ok {
		return fmt.Errorf("capture: source %q already attached", src.Kind())
	}
	pump := newAudioPump(src)
	r.audio[src.Kind()] = pump
	pump.start()
	return nil
}

// SetLayout switches composition; it takes effect on the next output frame.
func (r *Recorder) SetLayout(l Layout) error {
	if !l.Valid() {
		return fmt.Errorf("capture: unknown layout %q", l)
	}
	r.mu.Lock()
	r.layout = l
	r.mu.Unlock()
	return nil
}

// Start begins producing output frames.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("capture: already started")
	}
	r.started = true
	r.startAt = time.Now()
	r.windowStart = r.startAt
	r.loopDone = make(chan struct{})
	go r.loop()
	return nil
}

// Stop finalizes the recording and returns the completed payload. It is
// idempotent: repeated calls return the first outcome. Recordings shorter
// than the minimum length are rejected.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil, errors.New("capture: not started")
	}
	if r.stopped {
		result, err := r.result, r.stopErr
		r.mu.Unlock()
		return result, err
	}
	r.stopped = true
	elapsed := time.Since(r.startAt)
	close(r.stopCh)
	loopDone := r.loopDone
	r.mu.Unlock()

	<-loopDone

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pump := range r.video {
		pump.stop()
	}
	for _, pump := range r.audio {
		pump.stop()
	}

	if elapsed < MinRecordingLength {
		r.stopErr = ErrRecordingTooShort
		return nil, r.stopErr
	}

	r.result, r.stopErr = r.encoder.Finalize()
	return r.result, r.stopErr
}

func (r *Recorder) loop() {
	defer close(r.loopDone)

	r.mu.Lock()
	interval := time.Second / time.Duration(r.quality.FPS)
	r.mu.Unlock()

	frameTicker := time.NewTicker(interval)
	defer frameTicker.Stop()
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-statsTicker.C:
			r.emitStats()
		case <-frameTicker.C:
			r.renderFrame(interval)
			r.mixAudio()
		}
	}
}

func (r *Recorder) renderFrame(budget time.Duration) {
	start := time.Now()

	r.mu.Lock()
	layout := r.layout
	quality := r.quality
	pumps := make(map[SourceKind]*videoPump, len(r.video))
	for kind, pump := range r.video {
		pumps[kind] = pump
	}
	r.mu.Unlock()

	placements, err := layout.Regions(quality.Width, quality.Height)
	if err != nil {
		r.log.Error().Err(err).Msg("layout computation failed")
		return
	}

	composed := ComposedFrame{
		Width:  quality.Width,
		Height: quality.Height,
		PTS:    time.Since(r.startAt),
	}
	for _, p := range placements {
		pump, ok := pumps[p.Source]
		if !ok {
			continue
		}
		frame, ok := pump.latest()
		if !ok {
			continue
		}
		region := p.Region
		if layout == LayoutSideBySide {
			region = FitContain(region, frame.Width, frame.Height)
		}
		composed.Layers = append(composed.Layers, Layer{Source: p.Source, Frame: frame, Region: region})
	}

	err = r.encoder.WriteVideo(composed)
	renderTime := time.Since(start)

	r.mu.Lock()
	r.framesOut++
	r.windowFrames++
	r.renderTotalMS += float64(renderTime.Microseconds()) / 1000
	if err != nil || renderTime > budget {
		r.framesDropped++
		r.windowDropped++
	}
	r.maybeStepDownLocked()
	r.mu.Unlock()

	if err != nil {
		r.log.Warn().Err(err).Msg("video write failed")
	}
}

func (r *Recorder) mixAudio() {
	r.mu.Lock()
	pumps := make(map[SourceKind]*audioPump, len(r.audio))
	for kind, pump := range r.audio {
		pumps[kind] = pump
	}
	r.mu.Unlock()

	if len(pumps) == 0 {
		return
	}

	chunks := make(map[SourceKind][]int16, len(pumps))
	rate := MinSampleRate
	for kind, pump := range pumps {
		if samples, ok := pump.take(); ok {
			chunks[kind] = samples
			if pump.src.SampleRate() > rate {
				rate = pump.src.SampleRate()
			}
		}
	}
	mixed := r.mixer.Mix(chunks)
	if len(mixed) == 0 {
		return
	}
	if err := r.encoder.WriteAudio(mixed, rate); err != nil {
		r.log.Warn().Err(err).Msg("audio write failed")
	}
}

// maybeStepDownLocked lowers the preset when the rolling dropped-frame rate
// crosses the threshold. Caller holds r.mu.
func (r *Recorder) maybeStepDownLocked() {
	if !r.auto {
		return
	}
	if time.Since(r.windowStart) < autoAdjustWindow {
		return
	}
	if r.windowFrames > 0 {
		rate := float64(r.windowDropped) / float64(r.windowFrames)
		if rate > autoAdjustThreshold {
			next := StepDown(r.quality)
			if next.Preset != r.quality.Preset {
				if err := r.encoder.Configure(next); err != nil {
					r.log.Warn().Err(err).Msg("bitrate step down failed")
				} else {
					r.log.Info().
						Str("from", string(r.quality.Preset)).
						Str("to", string(next.Preset)).
						Msg("stepping down quality after sustained frame drops")
					r.quality = next
				}
			}
		}
	}
	r.windowStart = time.Now()
	r.windowFrames = 0
	r.windowDropped = 0
}

func (r *Recorder) emitStats() {
	if r.onStats == nil {
		return
	}

	r.mu.Lock()
	elapsed := time.Since(r.startAt).Seconds()
	stats := Stats{
		FramesDropped: r.framesDropped,
	}
	if elapsed > 0 {
		stats.FPS = float64(r.framesOut) / elapsed
	}
	if r.framesOut > 0 {
		stats.AvgRenderTimeMS = r.renderTotalMS / float64(r.framesOut)
	}
	r.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.MemoryBytes = mem.HeapAlloc

	r.onStats(stats)
}

// videoPump pulls frames from a source into a latest-frame slot so the
// render loop never blocks on a slow source.
type videoPump struct {
	src   FrameSource
	mu    sync.Mutex
	frame Frame
	has   bool
	done  chan struct{}
	once  sync.Once
}

func newVideoPump(src FrameSource) *videoPump {
	return &videoPump{src: src, done: make(chan struct{})}
}

func (p *videoPump) start() {
	go func() {
		for {
			select {
			case <-p.done:
				return
			default:
			}
			frame, err := p.src.NextFrame()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.frame = frame
			p.has = true
			p.mu.Unlock()
		}
	}()
}

func (p *videoPump) latest() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame, p.has
}

func (p *videoPump) stop() {
	p.once.Do(func() {
		close(p.done)
		p.src.Close()
	})
}

// audioPump accumulates samples between render ticks.
type audioPump struct {
	src  AudioSource
	mu   sync.Mutex
	buf  []int16
	done chan struct{}
	once sync.Once
}

func newAudioPump(src AudioSource) *audioPump {
	return &audioPump{src: src, done: make(chan struct{})}
}

func (p *audioPump) start() {
	go func() {
		for {
			select {
			case <-p.done:
				return
			default:
			}
			samples, err := p.src.NextSamples()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.buf = append(p.buf, samples...)
			p.mu.Unlock()
		}
	}()
}

func (p *audioPump) take() ([]int16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		return nil, false
	}
	out := p.buf
	p.buf = nil
	return out, true
}

func (p *audioPump) stop() {
	p.once.Do(func() {
		close(p.done)
		p.src.Close()
	})
}
