package audiofmt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ToMono collapses interleaved samples to a single channel by averaging
// across the channel axis. Input is left untouched when channels <= 1 or the
// sample count does not divide evenly into frames.
func ToMono(samples []float32, channels int) []float32 {
	if channels <= 1 || len(samples) < channels || len(samples)%channels != 0 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += samples[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleLinear converts samples from srcRate to dstRate using linear
// interpolation over the normalized [0,1) position axis. The target length is
// round(duration_seconds * dstRate); equal rates or empty input return the
// input unchanged.
func ResampleLinear(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audiofmt: sample rates must be positive (src=%d dst=%d)", srcRate, dstRate)
	}
	if len(samples) == 0 || srcRate == dstRate {
		return samples, nil
	}

	duration := float64(len(samples)) / float64(srcRate)
	targetLen := int(math.Round(duration * float64(dstRate)))
	if targetLen < 1 {
		targetLen = 1
	}

	srcLen := len(samples)
	out := make([]float32, targetLen)
	for i := range out {
		// Fractional position i/targetLen mapped into source index space;
		// positions beyond the final source sample clamp to it.
		pos := float64(i) / float64(targetLen) * float64(srcLen)
		idx := int(pos)
		if idx >= srcLen-1 {
			out[i] = samples[srcLen-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out, nil
}

// ConvertASRIngress enforces the ASR boundary rule: collapse to mono, then
// resample to 16 kHz. No other code path may alter channel count or rate on
// the way into speech recognition.
func ConvertASRIngress(samples []float32, sampleRate, channels int) ([]float32, error) {
	mono := ToMono(samples, channels)
	return ResampleLinear(mono, sampleRate, ASRTargetSampleRate)
}

// ComputeLevels measures peak, RMS, and clipping for a block. Empty input
// yields zero levels and no clip.
func ComputeLevels(samples []float32) (peak, rms float64, clipped bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sumSquares += v * v
	}
	rms = math.Sqrt(sumSquares / float64(len(samples)))
	clipped = peak >= 1.0
	return peak, rms, clipped
}

// GainFactor converts decibels to a linear multiplier.
func GainFactor(gainDB float64) float64 {
	return math.Pow(10, gainDB/20)
}

// Clamp limits a sample to the [-1, 1] range.
func Clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Float32ToPCM16 encodes samples as little-endian 16-bit PCM. Mono input is
// duplicated across channels when channels > 1; values are clamped first.
func Float32ToPCM16(samples []float32, channels int) []byte {
	if channels < 1 {
		channels = 1
	}
	out := make([]byte, len(samples)*channels*2)
	offset := 0
	for _, s := range samples {
		v := int16(Clamp(s) * 32767)
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[offset:], uint16(v))
			offset += 2
		}
	}
	return out
}

// PCM16ToFloat32 decodes little-endian 16-bit PCM into float32 samples in
// [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(data []byte) []float32 {
	count := len(data) / 2
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32767
	}
	return out
}
