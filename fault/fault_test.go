package fault

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/orbitlink/satlink/ids"
)

func TestHardwareRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionRestartComponent, decide(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 10}).Kind)
	assert.Equal(t, ActionPowerCycle, decide(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 500}).Kind)
	assert.Equal(t, ActionEmergencyShutdown, decide(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 1000}).Kind)
}

func TestSoftwareRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionRestartComponent, decide(Fault{Kind: KindSoftware, Module: "attitude", ErrorCode: 899}).Kind)
	assert.Equal(t, ActionSafeMode, decide(Fault{Kind: KindSoftware, Module: "attitude", ErrorCode: 900}).Kind)
}

func TestCommunicationRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionRestartComponent, decide(Fault{Kind: KindCommunication, Band: ids.SBand, ErrorCode: 799}).Kind)
	a := decide(Fault{Kind: KindCommunication, Band: ids.SBand, ErrorCode: 800})
	assert.Equal(t, ActionSwitchToBackup, a.Kind)
	assert.Equal(t, "S-Band", a.Target)
}

func TestPowerRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionPowerCycle, decide(Fault{Kind: KindPower, Subsystem: "eps", ErrorCode: 699}).Kind)
	assert.Equal(t, ActionEmergencyShutdown, decide(Fault{Kind: KindPower, Subsystem: "eps", ErrorCode: 700}).Kind)
}

func TestThermalRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionNone, decide(Fault{Kind: KindThermal, TemperatureC: 50}).Kind)
	assert.Equal(t, ActionSafeMode, decide(Fault{Kind: KindThermal, TemperatureC: 75}).Kind)
	assert.Equal(t, ActionEmergencyShutdown, decide(Fault{Kind: KindThermal, TemperatureC: 85}).Kind)
	assert.Equal(t, ActionSafeMode, decide(Fault{Kind: KindThermal, TemperatureC: -45}).Kind)
	assert.Equal(t, ActionEmergencyShutdown, decide(Fault{Kind: KindThermal, TemperatureC: -55}).Kind)
}

func TestMemoryRecoveryThresholds(t *testing.T) {
	assert.Equal(t, ActionNone, decide(Fault{Kind: KindMemory, ErrorCode: 599}).Kind)
	assert.Equal(t, ActionSafeMode, decide(Fault{Kind: KindMemory, ErrorCode: 600}).Kind)
}

func TestRaiseDeductsHealthByCriticalSeverity(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	m.Raise(Fault{Kind: KindSoftware, Module: "attitude", ErrorCode: 900})
	assert.Equal(t, 80, m.HealthScore())
	assert.Equal(t, ids.HealthGood, m.HealthStatus())
}

func TestRaiseIsIdempotentPerDiscriminant(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	m.Raise(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 500})
	m.Raise(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 550})
	assert.Len(t, m.ActiveFaults(), 1)
}

func TestClearAllRestoresHealthByTen(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	f := Fault{Kind: KindPower, Subsystem: "eps", ErrorCode: 100}
	m.Raise(f)
	before := m.HealthScore()
	m.Clear(f)
	assert.Equal(t, before+healthResetOnAllClear, m.HealthScore())
	assert.Empty(t, m.ActiveFaults())
}

func TestHealthScoreFloorsAtZero(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	for i := 0; i < 10; i++ {
		m.Raise(Fault{Kind: KindPower, Subsystem: "eps", ErrorCode: 700 + uint32(i)})
		m.Clear(Fault{Kind: KindPower, Subsystem: "eps"})
	}
	for i := 0; i < 10; i++ {
		m.Raise(Fault{Kind: KindHardware, Component: "imu", ErrorCode: 1000 + uint32(i)})
		m.Clear(Fault{Kind: KindHardware, Component: "imu"})
	}
	assert.GreaterOrEqual(t, m.HealthScore(), 0)
}

func TestRecoverOverTimeAccruesHourlyWhenNoCriticalActive(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	m.Raise(Fault{Kind: KindCommunication, Band: ids.XBand, ErrorCode: 50})
	before := m.HealthScore()
	m.RecoverOverTime(1 * time.Hour)
	assert.Equal(t, before+1, m.HealthScore())
}

func TestRecoverOverTimeWithholdsWhileCriticalActive(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	m.Raise(Fault{Kind: KindSoftware, Module: "attitude", ErrorCode: 900})
	before := m.HealthScore()
	m.RecoverOverTime(5 * time.Hour)
	assert.Equal(t, before, m.HealthScore())
}

func TestSubscribeReceivesFaultAndAction(t *testing.T) {
	m := NewManager(prometheus.NewRegistry())
	var gotFault Fault
	var gotAction RecoveryAction
	m.Subscribe(func(f Fault, a RecoveryAction) {
		gotFault = f
		gotAction = a
	})
	m.Raise(Fault{Kind: KindThermal, SensorID: 3, TemperatureC: 90})
	assert.Equal(t, KindThermal, gotFault.Kind)
	assert.Equal(t, ActionEmergencyShutdown, gotAction.Kind)
}

func TestHealthStatusCriticalAtOrBelowTwentyNine(t *testing.T) {
	assert.Equal(t, ids.HealthCritical, ids.HealthFromScore(29))
	assert.Equal(t, ids.HealthPoor, ids.HealthFromScore(30))
}
