package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

func TestComputeIsDeterministic(t *testing.T) {
	d := model.Directive{
		Backend: "mock",
		Prompt:  "a cat walking on a beach",
		Params:  map[string]interface{}{"duration": 5, "style": "cinematic"},
	}

	a, err := Compute(d, []byte("image-bytes"), "mock@1")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(d.Clone(), []byte("image-bytes"), "mock@1")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Errorf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeIgnoresParamKeyOrder(t *testing.T) {
	var p1, p2 map[string]interface{}
	if err := json.Unmarshal([]byte(`{"a":1,"b":{"x":true,"y":"z"}}`), &p1); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"b":{"y":"z","x":true},"a":1}`), &p2); err != nil {
		t.Fatal(err)
	}

	a, _ := Compute(model.Directive{Backend: "mock", Params: p1}, nil, "v1")
	b, _ := Compute(model.Directive{Backend: "mock", Params: p2}, nil, "v1")
	if a != b {
		t.Errorf("key order changed the fingerprint: %s vs %s", a, b)
	}
}

func TestComputeChangesWithAnyPart(t *testing.T) {
	base := model.Directive{Backend: "mock", Prompt: "sunrise"}
	ref, _ := Compute(base, []byte("in"), "v1")

	tests := []struct {
		name    string
		d       model.Directive
		input   []byte
		version string
	}{
		{"prompt", model.Directive{Backend: "mock", Prompt: "sunset"}, []byte("in"), "v1"},
		{"backend", model.Directive{Backend: "other", Prompt: "sunrise"}, []byte("in"), "v1"},
		{"input", base, []byte("in2"), "v1"},
		{"no input", base, nil, "v1"},
		{"version", base, []byte("in"), "v2"},
		{"params", model.Directive{Backend: "mock", Prompt: "sunrise", Params: map[string]interface{}{"seed": 7}}, []byte("in"), "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.d, tt.input, tt.version)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if got == ref {
				t.Errorf("expected fingerprint to change")
			}
		})
	}
}

func TestComputePartsDoNotRunTogether(t *testing.T) {
	a, _ := Compute(model.Directive{Backend: "m"}, []byte("ab"), "c")
	b, _ := Compute(model.Directive{Backend: "m"}, []byte("a"), "bc")
	if a == b {
		t.Error("input and version boundaries must be unambiguous")
	}
}
