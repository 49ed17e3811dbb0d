package capture

// Preset is a named capture quality.
type Preset string

const (
	Preset480p  Preset = "480p"
	Preset720p  Preset = "720p"
	Preset1080p Preset = "1080p"

	// DefaultPreset is used when the caller does not choose one.
	DefaultPreset = Preset720p
)

// Quality carries the encoder parameters for a preset.
type Quality struct {
	Preset     Preset
	Width      int
	Height     int
	FPS        int
	BitrateBPS int
}

var presetTable = map[Preset]Quality{
	Preset480p:  {Preset: Preset480p, Width: 854, Height: 480, FPS: 30, BitrateBPS: 1_000_000},
	Preset720p:  {Preset: Preset720p, Width: 1280, Height: 720, FPS: 30, BitrateBPS: 2_500_000},
	Preset1080p: {Preset: Preset1080p, Width: 1920, Height: 1080, FPS: 30, BitrateBPS: 5_000_000},
}

// stepDownOrder lists presets from highest to lowest for auto-adjust.
var stepDownOrder = []Preset{Preset1080p, Preset720p, Preset480p}

// Lookup resolves a preset name; unknown names fall back to the default.
func Lookup(p Preset) Quality {
	if q, ok := presetTable[p]; ok {
		return q
	}
	return presetTable[DefaultPreset]
}

// StepDown returns the next lower preset, or the same quality when already
// at the bottom.
func StepDown(q Quality) Quality {
	for i, p := range stepDownOrder {
		if p == q.Preset && i+1 < len(stepDownOrder) {
			return presetTable[stepDownOrder[i+1]]
		}
	}
	return q
}
