package engine

// Health grades how far coupon distribution has fallen behind.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthWarning   Health = "warning"
	HealthCritical  Health = "critical"
	HealthEmergency Health = "emergency"
)

// CriticalPending is the number of undistributed snapshots at which health
// turns critical.
const CriticalPending = 3

// Phase names the lifecycle stage of a series.
type Phase string

const (
	PhaseActive    Phase = "active"
	PhasePaused    Phase = "paused"
	PhaseMatured   Phase = "matured"
	PhaseEmergency Phase = "emergency"
)

// Status is the composite lifecycle view.
type Status struct {
	Phase     Phase  `json:"phase"`
	Health    Health `json:"health"`
	Paused    bool   `json:"paused"`
	Matured   bool   `json:"matured"`
	Emergency bool   `json:"emergency"`
	Pending   uint64 `json:"pending_distributions"`
}

func gradeHealth(emergency bool, pending uint64) Health {
	switch {
	case emergency:
		return HealthEmergency
	case pending >= CriticalPending:
		return HealthCritical
	case pending >= 1:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Health returns emergency in emergency mode, otherwise grades the number
// of pending distributions.
func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return gradeHealth(e.emergency, e.index.Pending(e.snaps.Count()))
}

// Status returns the lifecycle flags and phase. Emergency outranks maturity,
// which outranks pause.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pending := e.index.Pending(e.snaps.Count())
	st := Status{
		Health:    gradeHealth(e.emergency, pending),
		Paused:    e.paused,
		Matured:   !e.Now().Before(e.maturity),
		Emergency: e.emergency,
		Pending:   pending,
	}
	switch {
	case st.Emergency:
		st.Phase = PhaseEmergency
	case st.Matured:
		st.Phase = PhaseMatured
	case st.Paused:
		st.Phase = PhasePaused
	default:
		st.Phase = PhaseActive
	}
	return st
}
