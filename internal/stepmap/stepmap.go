// Package stepmap holds the fixed translation between provider workflow
// labels and the three canonical lifecycle steps.
package stepmap

import (
	"fmt"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// Mapping is a bijection between the canonical steps and one process's
// provider status strings. Reverse lookups outside the known set report
// unknown rather than guessing.
type Mapping struct {
	toProvider  map[domain.Step]string
	toCanonical map[string]domain.Step
}

// New builds a mapping from the three provider labels. The labels must
// be non-empty and pairwise distinct so the mapping stays a bijection.
func New(statusNew, statusInProgress, statusCompleted string) (*Mapping, error) {
	labels := map[domain.Step]string{
		domain.StepNew:        statusNew,
		domain.StepInProgress: statusInProgress,
		domain.StepCompleted:  statusCompleted,
	}

	m := &Mapping{
		toProvider:  make(map[domain.Step]string, len(labels)),
		toCanonical: make(map[string]domain.Step, len(labels)),
	}
	for step, label := range labels {
		if label == "" {
			return nil, fmt.Errorf("empty provider label for step %s", step)
		}
		if prev, dup := m.toCanonical[label]; dup {
			return nil, fmt.Errorf("provider label %q mapped to both %s and %s", label, prev, step)
		}
		m.toProvider[step] = label
		m.toCanonical[label] = step
	}
	return m, nil
}

// CanonicalToProvider returns the provider label for a canonical step.
func (m *Mapping) CanonicalToProvider(step domain.Step) (string, error) {
	label, ok := m.toProvider[step]
	if !ok {
		return "", fmt.Errorf("no provider label for step %q", step)
	}
	return label, nil
}

// ProviderToCanonical resolves a provider status string. ok is false when
// the status is outside the mapping; callers must treat that as a
// reconciliation error, never as a default.
func (m *Mapping) ProviderToCanonical(status string) (domain.Step, bool) {
	step, ok := m.toCanonical[status]
	return step, ok
}
