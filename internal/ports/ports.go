// Package ports declares the interfaces through which the kernel consumes
// external collaborators (strategic-plan generation, narrative events,
// snapshot persistence) without depending on their implementations.
package ports

import "context"

// MarketStance is a competitor's current trading posture.
type MarketStance string

const (
	StanceAggressive MarketStance = "aggressive"
	StanceDefensive  MarketStance = "defensive"
	StanceNeutral    MarketStance = "neutral"
)

// StrategicPlan is one competitor's externally-produced high-level stance.
type StrategicPlan struct {
	CompetitorID      uint64
	PriorityIndustry  uint64 // commodity/category id the competitor should favor
	SecondaryIndustry uint64 // secondary commodity/category id, zero if none
	Stance            MarketStance
	TargetPlayer      bool
	InvestmentFocus   string // e.g. "expansion", "efficiency", "diversification"
	RiskLevel         float64 // [0,1]
	Reasoning         string  // free-text rationale, for logging/narrative surfacing only
}

// StrategicPlanProvider generates strategic plans for competitors. The
// runtime asks for at most one refresh per tick; an implementation backed by
// an LLM or external planner may return (nil, nil) to mean "no update this
// call", which the caller must treat identically to an error — fall back to
// the competitor's persona-driven default.
type StrategicPlanProvider interface {
	RequestPlan(ctx context.Context, competitorID uint64) (*StrategicPlan, error)
}

// NarrativeEvent is an external flavor-text event keyed to a tick.
type NarrativeEvent struct {
	Tick    uint64
	Kind    string
	Payload map[string]interface{}
}

// NarrativeEventProvider supplies narrative/flavor events for a tick. The
// kernel reads only the "price_changes" and "supply_changes" payload keys
// (each a map[uint64]float64 of commodity id to percentage) and ignores the
// rest of the payload.
type NarrativeEventProvider interface {
	PendingEvents(ctx context.Context, tick uint64) ([]NarrativeEvent, error)
}

// Snapshot is an opaque, transport-ready rendering of kernel state at a tick.
type Snapshot struct {
	Tick uint64
	Data interface{}
}

// SnapshotSink receives periodic and full state snapshots for external
// persistence or transport. The kernel never reads a snapshot back; this is
// a one-way hand-off.
type SnapshotSink interface {
	Emit(ctx context.Context, snap Snapshot) error
}
