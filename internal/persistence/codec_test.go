package persistence

import (
	"testing"

	"github.com/petrijr/stepflow/pkg/api"
)

func TestCodec_RoundTripAny(t *testing.T) {
	in := map[string]any{"choice": "confirm", "amount": 4200}

	data, err := EncodeValue(in)
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}

	out, err := DecodeValue[any](data)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if m["choice"] != "confirm" || m["amount"] != 4200 {
		t.Fatalf("value not round-tripped: %+v", m)
	}
}

func TestCodec_RoundTripConcreteTypes(t *testing.T) {
	steps := []api.StepID{"consent", "welcome"}

	data, err := EncodeValue(steps)
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}
	got, err := DecodeValue[[]api.StepID](data)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if len(got) != 2 || got[0] != "consent" || got[1] != "welcome" {
		t.Fatalf("steps not round-tripped: %v", got)
	}

	payloads := map[api.StepID]any{
		"region": map[string]any{"country": "FI"},
	}
	data, err = EncodeValue(payloads)
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}
	gotPayloads, err := DecodeValue[map[api.StepID]any](data)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	region, ok := gotPayloads["region"].(map[string]any)
	if !ok || region["country"] != "FI" {
		t.Fatalf("payloads not round-tripped: %+v", gotPayloads)
	}
}

func TestCodec_NilValue(t *testing.T) {
	data, err := EncodeValue(nil)
	if err != nil {
		t.Fatalf("EncodeValue(nil) failed: %v", err)
	}
	out, err := DecodeValue[any](data)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}
