package consumer

import (
	"context"
	"testing"

	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
)

type stubHandler struct {
	name string
}

func (s stubHandler) Name() string { return s.name }
func (s stubHandler) Topology() mqclient.Topology {
	return mqclient.Topology{Exchange: "x", Queue: s.name, RoutingKey: s.name}
}
func (s stubHandler) Process(ctx context.Context, deps *Deps, env model.Envelope) Disposition {
	return Ack
}

func TestNewRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(stubHandler{name: "Download\\HTTP"}, stubHandler{name: "Download\\HTTP"})
	if err == nil {
		t.Fatal("expected an error for duplicate handler names")
	}
}

func TestRegistryLookupAndNames(t *testing.T) {
	r, err := NewRegistry(stubHandler{name: "Download\\HTTP"}, stubHandler{name: "Extract\\Targz"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	h, ok := r.Lookup("Download\\HTTP")
	if !ok || h.Name() != "Download\\HTTP" {
		t.Fatalf("expected to find Download\\HTTP, got %v, %v", h, ok)
	}

	if _, ok := r.Lookup("Analysis\\PHPLoc"); ok {
		t.Error("expected no handler registered under Analysis\\PHPLoc")
	}

	names := r.Names()
	if len(names) != 2 {
		t.Errorf("expected 2 registered names, got %d", len(names))
	}
}
