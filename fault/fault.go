// Package fault implements the fault manager (C8): the six fault kinds
// of §4.8, their recovery-action decision tables, and the running 0-100
// health score. C6 and C7 subscribe to fault events rather than polling,
// mirroring the teacher's hook-registration pattern already used in sched
// and link.
package fault

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbitlink/satlink/clog"
	"github.com/orbitlink/satlink/ids"
)

// Kind discriminates the closed fault taxonomy of §4.8.
type Kind uint8

const (
	KindHardware Kind = iota
	KindSoftware
	KindCommunication
	KindPower
	KindThermal
	KindMemory
)

var kindName = [...]string{"Hardware", "Software", "Communication", "Power", "Thermal", "Memory"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindName) {
		return kindName[k]
	}
	return "Unknown"
}

// Severity grades a raised fault for health-score bookkeeping, following
// the teacher's LogLevel-driven health deduction (Critical/Error/Warning).
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

// Fault is one occurrence of the closed fault taxonomy. Exactly one of
// the Kind-specific field groups is meaningful, selected by Kind - a
// tagged union expressed as a flat struct rather than an interface,
// since every variant here is a plain value with no behavior of its own.
type Fault struct {
	Kind Kind

	// Hardware
	Component string
	// Software
	Module string
	// Communication
	Band ids.BandType
	// Power
	Subsystem string
	// Thermal
	SensorID     uint16
	TemperatureC float64
	// Memory
	Address *uint32

	// ErrorCode is meaningful for every kind except Thermal.
	ErrorCode uint32
}

// discriminant identifies a fault's variant for active-fault de-duplication,
// mirroring core::mem::discriminant equality in the handler this is
// grounded on: two faults of the same Kind plus identifying field are the
// "same" active fault regardless of ErrorCode/TemperatureC drift.
type discriminant struct {
	kind      Kind
	component string
	band      ids.BandType
	sensorID  uint16
}

func (f Fault) discriminant() discriminant {
	switch f.Kind {
	case KindHardware:
		return discriminant{kind: f.Kind, component: f.Component}
	case KindSoftware:
		return discriminant{kind: f.Kind, component: f.Module}
	case KindCommunication:
		return discriminant{kind: f.Kind, band: f.Band}
	case KindPower:
		return discriminant{kind: f.Kind, component: f.Subsystem}
	case KindThermal:
		return discriminant{kind: f.Kind, sensorID: f.SensorID}
	default:
		return discriminant{kind: f.Kind}
	}
}

// ActionKind enumerates the recovery actions the decision tables select.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionRestartComponent
	ActionSwitchToBackup
	ActionPowerCycle
	ActionSafeMode
	ActionEmergencyShutdown
)

var actionName = [...]string{"None", "RestartComponent", "SwitchToBackup", "PowerCycle", "SafeMode", "EmergencyShutdown"}

// String implements fmt.Stringer.
func (a ActionKind) String() string {
	if int(a) < len(actionName) {
		return actionName[a]
	}
	return "Unknown"
}

// RecoveryAction is the decided response to a raised Fault. Target names
// the component/band/subsystem the action applies to, empty for
// SafeMode/EmergencyShutdown which are system-wide.
type RecoveryAction struct {
	Kind   ActionKind
	Target string
}

// decide applies the §4.8 per-kind threshold tables. A pure function: same
// Fault always yields the same RecoveryAction, independent of manager state.
func decide(f Fault) RecoveryAction {
	switch f.Kind {
	case KindHardware:
		switch {
		case f.ErrorCode >= 1000:
			return RecoveryAction{Kind: ActionEmergencyShutdown}
		case f.ErrorCode >= 500:
			return RecoveryAction{Kind: ActionPowerCycle, Target: f.Component}
		default:
			return RecoveryAction{Kind: ActionRestartComponent, Target: f.Component}
		}
	case KindSoftware:
		if f.ErrorCode >= 900 {
			return RecoveryAction{Kind: ActionSafeMode}
		}
		return RecoveryAction{Kind: ActionRestartComponent, Target: f.Module}
	case KindCommunication:
		if f.ErrorCode >= 800 {
			return RecoveryAction{Kind: ActionSwitchToBackup, Target: f.Band.String()}
		}
		return RecoveryAction{Kind: ActionRestartComponent, Target: f.Band.String()}
	case KindPower:
		if f.ErrorCode >= 700 {
			return RecoveryAction{Kind: ActionEmergencyShutdown}
		}
		return RecoveryAction{Kind: ActionPowerCycle, Target: f.Subsystem}
	case KindThermal:
		switch {
		case f.TemperatureC > 80 || f.TemperatureC < -50:
			return RecoveryAction{Kind: ActionEmergencyShutdown}
		case f.TemperatureC > 70 || f.TemperatureC < -40:
			return RecoveryAction{Kind: ActionSafeMode}
		default:
			return RecoveryAction{Kind: ActionNone}
		}
	case KindMemory:
		if f.ErrorCode >= 600 {
			return RecoveryAction{Kind: ActionSafeMode}
		}
		return RecoveryAction{Kind: ActionNone}
	default:
		return RecoveryAction{Kind: ActionNone}
	}
}

// severityOf grades a raised fault for health-score deduction. Thermal and
// memory faults that warrant only RestartComponent/None are Warning-grade;
// anything selecting SafeMode or worse is Critical, PowerCycle/
// SwitchToBackup is Error.
func severityOf(action RecoveryAction) Severity {
	switch action.Kind {
	case ActionSafeMode, ActionEmergencyShutdown:
		return SeverityCritical
	case ActionPowerCycle, ActionSwitchToBackup:
		return SeverityError
	default:
		return SeverityWarning
	}
}

const (
	healthMax             = 100
	healthRecoveryPerHour = 1
	healthResetOnAllClear = 10
)

func healthDelta(s Severity) int {
	switch s {
	case SeverityCritical:
		return -20
	case SeverityError:
		return -10
	default:
		return -2
	}
}

// metrics is the fault manager's prometheus instrumentation: a single
// live gauge, following the teacher's pattern of a caller-supplied
// registerer so tests can use a fresh registry.
type metrics struct {
	healthScore *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "satlink",
			Subsystem: "fault",
			Name:      "health_score",
			Help:      "Running 0-100 system health score.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.healthScore)
	}
	return m
}

// Manager tracks active faults and the running health score, deciding a
// RecoveryAction for each raised fault and notifying subscribers so C6/
// C7 mode transitions are event-driven rather than polled.
type Manager struct {
	mu           sync.Mutex
	active       map[discriminant]Fault
	health       int
	lastCritical time.Time
	hasCritical  bool
	metrics      *metrics
	subscribers  []func(Fault, RecoveryAction)
	log          clog.Clog
}

// NewManager builds a Manager with a full (100) health score. registerer
// may be nil to skip metrics registration.
func NewManager(registerer prometheus.Registerer) *Manager {
	logger := clog.NewLogger("fault")
	logger.LogMode(true)
	m := &Manager{
		active:  make(map[discriminant]Fault),
		health:  healthMax,
		metrics: newMetrics(registerer),
		log:     logger,
	}
	m.recordHealthGauge()
	return m
}

// Subscribe registers a sink invoked on every Raise with the fault and
// its decided recovery action.
func (m *Manager) Subscribe(fn func(Fault, RecoveryAction)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Raise records fault as active (deduplicated by discriminant), decides
// its RecoveryAction, deducts the health score, and notifies subscribers.
func (m *Manager) Raise(f Fault) RecoveryAction {
	action := decide(f)
	severity := severityOf(action)

	m.mu.Lock()
	m.active[f.discriminant()] = f
	m.health += healthDelta(severity)
	if m.health < 0 {
		m.health = 0
	}
	if severity == SeverityCritical {
		m.lastCritical = time.Now()
		m.hasCritical = true
	}
	m.recordHealthGaugeLocked()
	subscribers := append([]func(Fault, RecoveryAction){}, m.subscribers...)
	m.mu.Unlock()

	switch severity {
	case SeverityCritical:
		m.log.Critical("fault %s raised, action=%s, health=%d", f.Kind, action.Kind, m.HealthScore())
	case SeverityError:
		m.log.Error("fault %s raised, action=%s, health=%d", f.Kind, action.Kind, m.HealthScore())
	default:
		m.log.Warn("fault %s raised, action=%s, health=%d", f.Kind, action.Kind, m.HealthScore())
	}

	for _, s := range subscribers {
		s(f, action)
	}
	return action
}

// Clear removes a fault matching f's discriminant from the active set. If
// this empties the active set, the health score recovers by
// healthResetOnAllClear (the teacher's "resolved faults improve health"
// behavior), capped at healthMax.
func (m *Manager) Clear(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, f.discriminant())
	if len(m.active) == 0 {
		m.health += healthResetOnAllClear
		if m.health > healthMax {
			m.health = healthMax
		}
		m.hasCritical = false
	}
	m.recordHealthGaugeLocked()
}

// ActiveFaults returns a snapshot of currently active faults.
func (m *Manager) ActiveFaults() []Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Fault, 0, len(m.active))
	for _, f := range m.active {
		out = append(out, f)
	}
	return out
}

// RecoverOverTime credits healthRecoveryPerHour for each full hour elapsed
// since the last critical event with no critical events in that window,
// capped at healthMax. Intended to be driven by T4/T5-style periodic
// ticks rather than real wall-clock polling, so tests can pass an
// arbitrary elapsed duration.
func (m *Manager) RecoverOverTime(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasCritical {
		return
	}
	hours := int(elapsed.Hours())
	if hours <= 0 {
		return
	}
	m.health += hours * healthRecoveryPerHour
	if m.health > healthMax {
		m.health = healthMax
	}
	m.recordHealthGaugeLocked()
}

// HealthScore returns the current running 0-100 score.
func (m *Manager) HealthScore() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// HealthStatus maps the current score to a coarse grade via
// ids.HealthFromScore.
func (m *Manager) HealthStatus() ids.HealthStatus {
	return ids.HealthFromScore(m.HealthScore())
}

func (m *Manager) recordHealthGauge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordHealthGaugeLocked()
}

func (m *Manager) recordHealthGaugeLocked() {
	status := ids.HealthFromScore(m.health)
	m.metrics.healthScore.Reset()
	m.metrics.healthScore.WithLabelValues(status.String()).Set(float64(m.health))
}
