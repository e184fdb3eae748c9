package graph

import (
	"strings"
	"testing"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
)

func route(source, sink string) schema.RouteUpsertRequest {
	return schema.RouteUpsertRequest{
		Source: schema.Node{Kind: source},
		Sink:   schema.Node{Kind: sink},
	}
}

func TestValidateRejectsUnknownKinds(t *testing.T) {
	t.Parallel()

	err := Validate(route("microphone", "speakers"))
	if !faults.IsValidation(err) {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if !strings.Contains(err.Error(), `invalid source kind "microphone"`) {
		t.Fatalf("unexpected message: %v", err)
	}
	if !strings.Contains(err.Error(), "file_input") {
		t.Fatalf("message should list allowed kinds: %v", err)
	}

	req := route("mic", "speakers")
	req.Processors = []schema.Node{{Kind: "reverb"}}
	if err := Validate(req); !faults.IsValidation(err) {
		t.Fatalf("expected validation fault for processor, got %v", err)
	}

	if err := Validate(route("mic", "headphones")); !faults.IsValidation(err) {
		t.Fatalf("expected validation fault for sink, got %v", err)
	}
}

func TestValidateAcceptsKnownKinds(t *testing.T) {
	t.Parallel()

	req := route("mic", "asr")
	req.Processors = []schema.Node{{Kind: "asr_ingress"}, {Kind: "passthrough"}}
	if err := Validate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMaterializeGeneratesRouteID(t *testing.T) {
	t.Parallel()

	record, err := Materialize(route("test_tone", "file"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if record.RouteID == "" {
		t.Fatal("expected generated route id")
	}
	if !record.Enabled {
		t.Fatal("enabled should default to true")
	}

	disabled := false
	req := route("test_tone", "file")
	req.RouteID = "  custom-id  "
	req.Enabled = &disabled
	record, err = Materialize(req)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if record.RouteID != "custom-id" {
		t.Fatalf("expected trimmed custom id, got %q", record.RouteID)
	}
	if record.Enabled {
		t.Fatal("enabled should honor explicit false")
	}
}

func TestMaterializeClonesNodes(t *testing.T) {
	t.Parallel()

	req := route("test_tone", "file")
	req.Source.Config = map[string]any{"frequency": 440.0}
	record, err := Materialize(req)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	req.Source.Config["frequency"] = 880.0
	if record.Source.Config["frequency"] != 440.0 {
		t.Fatal("materialized record should not share config maps with the request")
	}
}

func TestInferDirection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		source string
		sink   string
		want   schema.Direction
	}{
		{"mic", "asr", schema.DirectionCapture},
		{"mic", "file", schema.DirectionHybrid},
		{"loopback", "speakers", schema.DirectionHybrid},
		{"test_tone", "speakers", schema.DirectionPlayback},
		{"tts", "file", schema.DirectionPlayback},
		{"file_input", "virtual_output", schema.DirectionPlayback},
		{"test_tone", "asr", schema.DirectionHybrid},
		{"tts", "asr", schema.DirectionHybrid},
	}
	for _, tc := range cases {
		record := schema.RouteRecord{
			RouteID: "r",
			Source:  schema.Node{Kind: tc.source},
			Sink:    schema.Node{Kind: tc.sink},
		}
		if got := InferDirection(record); got != tc.want {
			t.Fatalf("%s -> %s: got %s want %s", tc.source, tc.sink, got, tc.want)
		}
	}
}

func TestInferDirectionIgnoresDeviceAndConfig(t *testing.T) {
	t.Parallel()

	record := schema.RouteRecord{
		RouteID: "r",
		Source:  schema.Node{Kind: "test_tone", DeviceID: "3", Config: map[string]any{"frequency": 440.0}},
		Sink:    schema.Node{Kind: "speakers", DeviceID: "7"},
	}
	if got := InferDirection(record); got != schema.DirectionPlayback {
		t.Fatalf("device ids must not affect direction, got %s", got)
	}
}
