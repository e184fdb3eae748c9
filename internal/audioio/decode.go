package audioio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/audiofmt"
)

// DecodeFile loads an audio file into mono float32 samples, dispatching on
// the file extension. Supported containers are .wav (16-bit PCM) and .mp3.
func DecodeFile(path string) ([]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAVFile(path)
	case ".mp3":
		return decodeMP3File(path)
	default:
		return nil, 0, fmt.Errorf("audioio: unsupported file extension %q", filepath.Ext(path))
	}
}

func decodeWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audioio: open %s: %w", path, err)
	}
	reader, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	defer reader.Close()

	format := reader.Format()
	if format.BitDepth != 16 {
		return nil, 0, fmt.Errorf("audioio: unsupported wav bit depth %d", format.BitDepth)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("audioio: read %s: %w", path, err)
	}
	samples := audiofmt.PCM16ToFloat32(data)
	return audiofmt.ToMono(samples, format.Channels), format.SampleRate, nil
}

func decodeMP3File(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audioio: open %s: %w", path, err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("audioio: decode %s: %w", path, err)
	}
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("audioio: read %s: %w", path, err)
	}
	// The decoder always emits 16-bit stereo.
	samples := audiofmt.PCM16ToFloat32(data)
	return audiofmt.ToMono(samples, 2), decoder.SampleRate(), nil
}
