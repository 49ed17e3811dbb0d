package capture

import (
	"fmt"
	"sync"
)

// MinSampleRate is the lowest mixed output rate the recorder produces.
const MinSampleRate = 44100

// Mixer combines audio sources into one output with per-source gain and
// mute. Gains are clamped to [0, 2].
type Mixer struct {
	mu    sync.RWMutex
	gains map[SourceKind]float64
	muted map[SourceKind]bool
}

func NewMixer() *Mixer {
	return &Mixer{
		gains: make(map[SourceKind]float64),
		muted: make(map[SourceKind]bool),
	}
}

// SetGain adjusts one source's gain.
func (m *Mixer) SetGain(kind SourceKind, gain float64) error {
	if gain < 0 || gain > 2 {
		return fmt.Errorf("capture: gain %v out of range [0, 2]", gain)
	}
	m.mu.Lock()
	m.gains[kind] = gain
	m.mu.Unlock()
	return nil
}

// SetMuted toggles one source's mute state independently of its gain.
func (m *Mixer) SetMuted(kind SourceKind, muted bool) {
	m.mu.Lock()
	m.muted[kind] = muted
	m.mu.Unlock()
}

// Gain returns the effective gain for a source: 0 when muted, the configured
// gain otherwise (default 1).
func (m *Mixer) Gain(kind SourceKind) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.muted[kind] {
		return 0
	}
	if g, ok := m.gains[kind]; ok {
		return g
	}
	return 1
}

// Mix combines per-source sample slices into one, applying gains and
// clipping to the int16 range. All inputs must share length and rate; extra
// samples beyond the shortest input are dropped.
func (m *Mixer) Mix(chunks map[SourceKind][]int16) []int16 {
	shortest := -1
	for _, samples := range chunks {
		if shortest < 0 || len(samples) < shortest {
			shortest = len(samples)
		}
	}
	if shortest <= 0 {
		return nil
	}

	out := make([]int16, shortest)
	for kind, samples := range chunks {
		gain := m.Gain(kind)
		if gain == 0 {
			continue
		}
		for i := 0; i < shortest; i++ {
			v := float64(out[i]) + float64(samples[i])*gain
			switch {
			case v > 32767:
				out[i] = 32767
			case v < -32768:
				out[i] = -32768
			default:
				out[i] = int16(v)
			}
		}
	}
	return out
}
