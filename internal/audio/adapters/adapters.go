// Package adapters defines the boundary between the routing engine and
// speech model integrations. The engine never calls an adapter directly; it
// goes through the Safe wrappers, which convert panics into error results so
// a misbehaving adapter cannot take down a hardware callback or worker loop.
package adapters

import "fmt"

// Status summarises an adapter invocation.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoModel       Status = "no_model"
	StatusNoAudioOutput Status = "no_audio_output"
	StatusError         Status = "error"
)

// Result reports the outcome of a single adapter dispatch.
type Result struct {
	Status      Status            `json:"status"`
	ModelID     string            `json:"model_id,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// ASRAdapter ingests mono 16 kHz sample chunks for speech recognition.
type ASRAdapter interface {
	Ingest(samples []float32, modelHint string) Result
}

// TTSAdapter synthesises mono samples for a text prompt.
type TTSAdapter interface {
	Synthesize(text, modelHint string) ([]float32, Result)
}

// NoopASR accepts every chunk without forwarding it anywhere.
type NoopASR struct{}

// Ingest implements ASRAdapter.
func (NoopASR) Ingest(samples []float32, modelHint string) Result {
	return Result{
		Status:  StatusOK,
		ModelID: modelHint,
		Diagnostics: map[string]string{
			"samples": fmt.Sprintf("%d", len(samples)),
		},
	}
}

// NoopTTS produces no audio for any prompt.
type NoopTTS struct{}

// Synthesize implements TTSAdapter.
func (NoopTTS) Synthesize(text, modelHint string) ([]float32, Result) {
	return nil, Result{
		Status:  StatusNoAudioOutput,
		ModelID: modelHint,
		Diagnostics: map[string]string{
			"text": text,
		},
	}
}

// SafeIngest dispatches to the ASR adapter, converting a nil adapter into a
// no-model result and a panic into an error result.
func SafeIngest(adapter ASRAdapter, samples []float32, modelHint string) (result Result) {
	if adapter == nil {
		return Result{Status: StatusNoModel, ModelID: modelHint}
	}
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Status:      StatusError,
				ModelID:     modelHint,
				Diagnostics: map[string]string{"panic": fmt.Sprintf("%v", r)},
			}
		}
	}()
	return adapter.Ingest(samples, modelHint)
}

// SafeSynthesize dispatches to the TTS adapter with the same guarantees as
// SafeIngest. A panic yields no samples and an error result.
func SafeSynthesize(adapter TTSAdapter, text, modelHint string) (samples []float32, result Result) {
	if adapter == nil {
		return nil, Result{Status: StatusNoModel, ModelID: modelHint}
	}
	defer func() {
		if r := recover(); r != nil {
			samples = nil
			result = Result{
				Status:      StatusError,
				ModelID:     modelHint,
				Diagnostics: map[string]string{"panic": fmt.Sprintf("%v", r)},
			}
		}
	}()
	return adapter.Synthesize(text, modelHint)
}
