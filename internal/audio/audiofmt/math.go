// Package audiofmt provides stateless signal utilities: PCM byte math,
// mono downmix, linear resampling, level metering, and the single sanctioned
// conversion applied at the speech-recognition ingress boundary.
package audiofmt

import (
	"math"
	"time"
)

// ASRTargetSampleRate is the fixed rate required at the ASR ingress boundary.
const ASRTargetSampleRate = 16000

// AudioFormat describes the characteristics of a PCM buffer.
type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// PCM16 returns a 16-bit PCM format at the given rate and channel count.
func PCM16(sampleRate, channels int) AudioFormat {
	return AudioFormat{SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

// BytesPerSample returns bytes used to encode a single sample.
func BytesPerSample(format AudioFormat) int {
	if format.BitDepth <= 0 {
		return 0
	}
	bytes := format.BitDepth / 8
	if bytes <= 0 {
		return 0
	}
	return bytes
}

// FrameSize returns PCM frame size in bytes (all channels for one sample point).
func FrameSize(format AudioFormat) int {
	if format.Channels <= 0 {
		return 0
	}
	bytesPerSample := BytesPerSample(format)
	if bytesPerSample <= 0 {
		return 0
	}
	return format.Channels * bytesPerSample
}

// BytesPerSecond returns byte throughput for the PCM format.
func BytesPerSecond(format AudioFormat) int {
	if format.SampleRate <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return format.SampleRate * frameSize
}

// PCMFrameCountFromBytes converts raw PCM byte length into complete frame count.
func PCMFrameCountFromBytes(format AudioFormat, dataLen int) int {
	if dataLen <= 0 {
		return 0
	}
	frameSize := FrameSize(format)
	if frameSize <= 0 {
		return 0
	}
	return dataLen / frameSize
}

// DurationFromFrames converts PCM frame count into duration using sample rate.
func DurationFromFrames(sampleRate, frames int) time.Duration {
	if sampleRate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// DurationFromPCMBytes converts raw PCM byte length into duration.
func DurationFromPCMBytes(format AudioFormat, dataLen int) time.Duration {
	return DurationFromFrames(format.SampleRate, PCMFrameCountFromBytes(format, dataLen))
}

// BlockSizeSamples calculates the sample count covering the given duration.
func BlockSizeSamples(sampleRate int, blockDuration time.Duration) int {
	if sampleRate <= 0 || blockDuration <= 0 {
		return 0
	}
	return int(math.Round(float64(sampleRate) * blockDuration.Seconds()))
}
