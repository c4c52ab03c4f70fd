package dto

import (
	"time"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// Step kinds of a replayed scenario
const (
	StepSupply = "supply"
	StepDemand = "demand"
)

// SimulationStep is one replayed scenario input and its outcome
type SimulationStep struct {
	At     time.Time     `json:"at"`
	Kind   string        `json:"kind"`
	Supply *SupplyResult `json:"supply,omitempty"`
	Demand *DemandResult `json:"demand,omitempty"`
}

// SimulationReport is the final state of a replayed trading day
type SimulationReport struct {
	Scenario      string                      `json:"scenario"`
	Store         string                      `json:"store"`
	Duration      time.Duration               `json:"duration_ns"`
	Steps         []SimulationStep            `json:"steps"`
	EndOfDay      *EndOfDayResult             `json:"end_of_day,omitempty"`
	Batches       []*BatchReport              `json:"batches"`
	Queues        []*QueueSnapshot            `json:"queues"`
	Notifications []entities.ThresholdCrossed `json:"notifications"`
	AuditErrors   []string                    `json:"audit_errors"`
}

// Allocations returns every allocation made during the replay, in step order
func (r *SimulationReport) Allocations() []entities.Allocation {
	var out []entities.Allocation
	for _, step := range r.Steps {
		switch {
		case step.Supply != nil:
			out = append(out, step.Supply.QueueAllocations...)
		case step.Demand != nil:
			out = append(out, step.Demand.Allocations...)
		}
	}
	return out
}
