package engine

import (
	"math"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/adapters"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/audiofmt"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audioio"
)

// Test-tone defaults used when the source config leaves them unset.
const (
	defaultToneFrequency = 220.0
	defaultToneAmplitude = 0.2
	defaultToneDuration  = 1.0
)

// configString reads a string value from a node config map.
func configString(cfg map[string]any, key, def string) string {
	if cfg == nil {
		return def
	}
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

// configInt reads a numeric value from a node config map. JSON decoding
// yields float64, so both numeric shapes are accepted.
func configInt(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func configFloat(cfg map[string]any, key string, def float64) float64 {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// ttsPromptFor picks the synthesis prompt for a tts source: explicit config
// text, then the node name, then a fixed fallback.
func ttsPromptFor(route schema.RouteRecord) string {
	if text := configString(route.Source.Config, "text", ""); text != "" {
		return text
	}
	if route.Source.Name != "" {
		return route.Source.Name
	}
	return "hello"
}

// sineWave renders a mono sine tone.
func sineWave(sampleRate int, frequency, amplitude, durationSeconds float64) []float32 {
	count := int(float64(sampleRate) * durationSeconds)
	if count < 1 {
		count = 1
	}
	out := make([]float32, count)
	step := 2 * math.Pi * frequency / float64(sampleRate)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(step*float64(i)))
	}
	return out
}

// configSamples reads a literal sample array from a node config map, as
// produced by JSON decoding.
func configSamples(cfg map[string]any) []float32 {
	raw, ok := cfg["samples"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case int:
			out = append(out, float32(n))
		}
	}
	return out
}

// materializeSignal renders the full sample buffer for a software source at
// the stream's sample rate. The returned adapter result is non-nil only for
// tts sources. A tts miss (no synthesized audio) falls through to the shared
// fallback below so the stream still plays something audible.
func (e *Engine) materializeSignal(route schema.RouteRecord, sampleRate int) ([]float32, *adapters.Result, error) {
	var ttsResult *adapters.Result

	switch schema.SourceKind(route.Source.Kind) {
	case schema.SourceTTS:
		prompt := ttsPromptFor(route)
		modelHint := configString(route.Source.Config, "model_id", "")
		samples, result := adapters.SafeSynthesize(e.tts, prompt, modelHint)
		ttsResult = &result
		if len(samples) > 0 {
			return samples, ttsResult, nil
		}
	case schema.SourceFileInput:
		path := configString(route.Source.Config, "path", "")
		if path == "" {
			return nil, nil, faults.Validationf("file_input source requires a path config value")
		}
		samples, fileRate, err := audioio.DecodeFile(path)
		if err != nil {
			return nil, nil, faults.Runtime("decode file source", err)
		}
		resampled, err := audiofmt.ResampleLinear(samples, fileRate, sampleRate)
		if err != nil {
			return nil, nil, faults.Runtime("resample file source", err)
		}
		return resampled, nil, nil
	}

	// test_tone, any other software source, and tts misses: a literal
	// samples array wins, otherwise a sine tone.
	if samples := configSamples(route.Source.Config); samples != nil {
		return samples, ttsResult, nil
	}
	freq := configFloat(route.Source.Config, "tone_hz", defaultToneFrequency)
	amp := configFloat(route.Source.Config, "amplitude", defaultToneAmplitude)
	dur := configFloat(route.Source.Config, "duration_seconds", defaultToneDuration)
	return sineWave(sampleRate, freq, amp, dur), ttsResult, nil
}
