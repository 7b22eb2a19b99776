// Package workflow drives a newsletter run through planning, generation and
// validation.
package workflow

import (
	"context"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/domain"
)

// GateDecision is the result of evaluating a phase's exit condition.
type GateDecision struct {
	Allow    bool
	Blockers []string
}

// Gate evaluates whether a run can exit its current phase.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, run domain.WorkflowRun) (GateDecision, error)
}

// OpenGate always allows the transition.
type OpenGate struct{}

// Name returns the gate name.
func (OpenGate) Name() string { return "open" }

// Evaluate allows every run.
func (OpenGate) Evaluate(context.Context, domain.WorkflowRun) (GateDecision, error) {
	return GateDecision{Allow: true}, nil
}

// ArtifactGate requires an artifact to be present for the run.
type ArtifactGate struct {
	Store    artifact.Store
	Artifact string
}

// Name returns the gate name.
func (g *ArtifactGate) Name() string {
	return "artifact:" + g.Artifact
}

// Evaluate checks that the artifact exists.
func (g *ArtifactGate) Evaluate(ctx context.Context, run domain.WorkflowRun) (GateDecision, error) {
	ok, err := g.Store.Exists(ctx, run.ID, g.Artifact)
	if err != nil {
		return GateDecision{}, err
	}
	if !ok {
		return GateDecision{Blockers: []string{g.Artifact + " is missing"}}, nil
	}
	return GateDecision{Allow: true}, nil
}

// PhaseGateRegistry maps each phase to its exit gate.
type PhaseGateRegistry struct {
	gates map[domain.Phase]Gate
}

// NewPhaseGateRegistry requires the outline to leave planning and the HTML
// to leave generation. Validation has no exit condition.
func NewPhaseGateRegistry(store artifact.Store) *PhaseGateRegistry {
	return &PhaseGateRegistry{gates: map[domain.Phase]Gate{
		domain.PhasePlanning:   &ArtifactGate{Store: store, Artifact: domain.ArtifactOutline},
		domain.PhaseGeneration: &ArtifactGate{Store: store, Artifact: domain.ArtifactHTML},
		domain.PhaseValidation: OpenGate{},
	}}
}

// Register sets a custom gate for a phase.
func (r *PhaseGateRegistry) Register(phase domain.Phase, gate Gate) {
	r.gates[phase] = gate
}

// Get returns the gate for a phase, or ErrInvalidPhase if none is registered.
func (r *PhaseGateRegistry) Get(phase domain.Phase) (Gate, error) {
	g, ok := r.gates[phase]
	if !ok {
		return nil, domain.ErrInvalidPhase
	}
	return g, nil
}
