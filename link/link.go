// Package link implements the multi-band link selector and transmitter
// (C7): priority/mode-driven band selection with emergency override, a
// per-band failover state machine, per-band timing bookkeeping, and the
// narrow Transceiver/link-quality ports the core depends on rather than a
// concrete RF stack.
package link

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/orbitlink/satlink/clog"
	"github.com/orbitlink/satlink/fault"
	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/spacecmd"
	"github.com/orbitlink/satlink/xerr"
)

// communicationFaultErrorCode is the ErrorCode a link-level Communication
// fault carries, chosen to land on fault's SwitchToBackup branch
// (ErrorCode >= 800) rather than the lesser RestartComponent response — a
// failed or bypassed band warrants more than a retry.
const communicationFaultErrorCode = 850

// Per-priority send deadline the caller observes (§4.7). Critical and
// Emergency bypass deadline waits entirely.
func sendDeadline(p ids.MessagePriority) (time.Duration, bool) {
	switch p {
	case ids.PriorityHigh:
		return 10 * time.Millisecond, true
	case ids.PriorityMedium:
		return 100 * time.Millisecond, true
	case ids.PriorityLow:
		return 1 * time.Second, true
	default:
		return 0, false
	}
}

// TransceiverStatus is the immutable status view C7 publishes to C8;
// never aliased, always copied.
type TransceiverStatus struct {
	IsPowered        bool
	FrequencyHz      uint64
	TxPower0To100    uint8
	SignalStrengthDbm float64
	TemperatureC     float64
	IsLocked         bool
}

// Transceiver is the port the core requires from the RF hardware, per
// band (§6). Owned exclusively by the link manager; never shared.
type Transceiver interface {
	Transmit(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Status(ctx context.Context) (TransceiverStatus, error)
	SetPower(ctx context.Context, level0To100 uint8) error
	PowerCycle(ctx context.Context) error
}

// AtmosphericConditions is the opaque input to LinkQualityFunc; its
// internal shape belongs to the out-of-scope atmospheric module.
type AtmosphericConditions struct {
	Temperature    float64
	Humidity       float64
	PrecipitationMmPerHour float64
}

// LinkQualityReport is the pure, side-effect-free result of a link
// quality evaluation (§6).
type LinkQualityReport struct {
	DataRateBps uint64
	PathLossDb  float64
	SnrDb       float64
	Success     bool
}

// LinkQualityFunc is the read-only atmospheric/link-quality port;
// implementations must be pure.
type LinkQualityFunc func(band ids.BandType, conditions AtmosphericConditions) LinkQualityReport

// BandState is a band's failover state (§4.7).
type BandState uint8

const (
	BandOperational BandState = iota
	BandDegraded
	BandFailed
)

var bandStateName = [...]string{"Operational", "Degraded", "Failed"}

// String implements fmt.Stringer.
func (s BandState) String() string {
	if int(s) < len(bandStateName) {
		return bandStateName[s]
	}
	return "Unknown"
}

const consecutiveSuccessesToRecover = 3
const degradedSignalThreshold = 50.0

// bandEntry tracks one band's transceiver, state and recent performance.
type bandEntry struct {
	transceiver        Transceiver
	state              BandState
	consecutiveSuccess int
	txPower            uint8
}

// Config configures the Manager's initial per-band power level,
// following the teacher's Config+Valid()+DefaultConfig() pattern.
type Config struct {
	InitialPowerPercent uint8
}

// Valid fills in defaults for unset fields.
func (c *Config) Valid() error {
	if c.InitialPowerPercent == 0 {
		c.InitialPowerPercent = 100
	}
	return nil
}

// DefaultConfig returns the package's default configuration.
func DefaultConfig() Config {
	return Config{InitialPowerPercent: 100}
}

// Manager is C7: the link selector and transmitter, playing the role of the
// global CommunicationManager of §5. Band state is changed by transmit
// results, signal-quality updates and mode transitions under a write lock;
// Select, BandState and TelemetryHistory read it under a read lock.
type Manager struct {
	mu            sync.RWMutex
	bands         map[ids.BandType]*bandEntry
	emergencyMode bool
	linkQuality   LinkQualityFunc
	telemetryRing *cache.Cache
	telemetrySeq  uint64
	log           clog.Clog
	confirmations *spacecmd.ConfirmationStore
	faults        *fault.Manager
}

// SetConfirmationStore wires the confirmation-token gate checked at the
// transmit boundary (§4.4, Testable Property 10). Optional: without one,
// Transmit still rejects confirmation-required commands carrying an empty
// token, but cannot verify token authenticity against an issuing store.
func (m *Manager) SetConfirmationStore(store *spacecmd.ConfirmationStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = store
}

// SetFaultManager wires C8 into C7 in both directions (§5 "C8 influences
// C7's mode"): failover transitions and bypassed bands raise Communication
// faults into fm, and fm's subsequent RecoveryAction decisions are
// subscribed here so a Critical health status forces emergency mode without
// any caller needing to poll for it.
func (m *Manager) SetFaultManager(fm *fault.Manager) {
	m.mu.Lock()
	m.faults = fm
	m.mu.Unlock()

	fm.Subscribe(func(_ fault.Fault, _ fault.RecoveryAction) {
		if fm.HealthStatus() == ids.HealthCritical {
			_ = m.SetEmergencyMode(context.Background(), true)
		}
	})
}

func (m *Manager) isForcedEmergency() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyMode
}

func (m *Manager) raiseCommunicationFault(band ids.BandType) {
	m.mu.RLock()
	fm := m.faults
	m.mu.RUnlock()
	if fm == nil {
		return
	}
	fm.Raise(fault.Fault{Kind: fault.KindCommunication, Band: band, ErrorCode: communicationFaultErrorCode})
}

// NewManager builds a Manager with a Transceiver registered for every
// band present in transceivers, all starting Operational.
func NewManager(cfg Config, transceivers map[ids.BandType]Transceiver, linkQuality LinkQualityFunc) (*Manager, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	bands := make(map[ids.BandType]*bandEntry, len(transceivers))
	for band, t := range transceivers {
		bands[band] = &bandEntry{transceiver: t, state: BandOperational, txPower: cfg.InitialPowerPercent}
	}
	logger := clog.NewLogger("link")
	logger.LogMode(true)
	return &Manager{
		bands:         bands,
		linkQuality:   linkQuality,
		telemetryRing: cache.New(cache.NoExpiration, cache.NoExpiration),
		log:           logger,
	}, nil
}

// Select returns the band to use for priority under the current mode:
// forced UhfBand in emergency mode regardless of priority, else the
// §4.4 priority→band mapping, skipping Failed bands and preferring
// Operational over Degraded.
func (m *Manager) Select(priority ids.MessagePriority, mode ids.OperationalMode) ids.BandType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if mode == ids.ModeEmergency || m.emergencyMode {
		return ids.UhfBand
	}

	preferred := priorityBand(priority)
	if m.bandUsable(preferred) {
		return preferred
	}
	return m.bestAlternative(preferred)
}

func priorityBand(p ids.MessagePriority) ids.BandType {
	switch p {
	case ids.PriorityEmergency:
		return ids.KBand
	case ids.PriorityCritical:
		return ids.XBand
	case ids.PriorityHigh, ids.PriorityMedium:
		return ids.SBand
	default:
		return ids.UhfBand
	}
}

func (m *Manager) bandUsable(band ids.BandType) bool {
	e, ok := m.bands[band]
	return ok && e.state != BandFailed
}

// bestAlternative returns the best non-Failed band, preferring
// Operational over Degraded, falling back to preferred itself if nothing
// else is usable (the caller discovers the send failure at transmit time).
var bandPriorityOrder = [...]ids.BandType{ids.UhfBand, ids.SBand, ids.XBand, ids.KBand, ids.KaBand}

func (m *Manager) bestAlternative(preferred ids.BandType) ids.BandType {
	var degraded ids.BandType
	haveDegraded := false
	for _, band := range bandPriorityOrder {
		e, ok := m.bands[band]
		if !ok {
			continue
		}
		if e.state == BandOperational {
			return band
		}
		if e.state == BandDegraded && !haveDegraded {
			degraded, haveDegraded = band, true
		}
	}
	if haveDegraded {
		return degraded
	}
	return preferred
}

// SetEmergencyMode forces UHF as primary and halves transmit power on
// non-UHF bands; idempotent. Disabling restores the pre-emergency primary
// band selection but leaves halved power levels untouched — an explicit
// power reconfiguration is required to restore them.
func (m *Manager) SetEmergencyMode(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if enabled == m.emergencyMode {
		return nil
	}

	if enabled {
		for band, e := range m.bands {
			if band == ids.UhfBand {
				continue
			}
			halved := uint8(math.Ceil(float64(e.txPower) / 2))
			if e.transceiver != nil {
				if err := e.transceiver.SetPower(ctx, halved); err != nil {
					return err
				}
			}
			e.txPower = halved
		}
	}
	m.emergencyMode = enabled
	return nil
}

// RecordSendResult feeds a transmit outcome into band's failover state
// machine: a hardware error fails the band immediately; a success moves
// the consecutive-success counter toward recovery.
func (m *Manager) RecordSendResult(band ids.BandType, err error) {
	m.mu.Lock()
	e, ok := m.bands[band]
	if !ok {
		m.mu.Unlock()
		return
	}
	failed := err != nil
	if failed {
		e.state = BandFailed
		e.consecutiveSuccess = 0
		m.log.Error("band %s failed: %v", band, err)
	} else {
		e.consecutiveSuccess++
		if e.consecutiveSuccess >= consecutiveSuccessesToRecover {
			if e.state != BandOperational {
				m.log.Warn("band %s recovered to Operational", band)
			}
			e.state = BandOperational
		}
	}
	m.mu.Unlock()

	if failed {
		m.raiseCommunicationFault(band)
	}
}

// RecordSignalQuality applies the sustained signal_quality < 50 →
// Degraded transition.
func (m *Manager) RecordSignalQuality(band ids.BandType, signalQuality float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.bands[band]
	if !ok || e.state == BandFailed {
		return
	}
	if signalQuality < degradedSignalThreshold {
		e.state = BandDegraded
		e.consecutiveSuccess = 0
	}
}

// EvaluateLinkQuality runs the read-only link-quality port for band under
// conditions and folds the result into the failover state machine: an
// unsuccessful link evaluation degrades the band, otherwise a below-
// threshold SNR applies the sustained signal_quality < 50 transition.
func (m *Manager) EvaluateLinkQuality(band ids.BandType, conditions AtmosphericConditions) LinkQualityReport {
	if m.linkQuality == nil {
		return LinkQualityReport{}
	}
	report := m.linkQuality(band, conditions)
	if !report.Success {
		m.RecordSignalQuality(band, 0)
	} else {
		m.RecordSignalQuality(band, report.SnrDb)
	}
	return report
}

// BandState reports a band's current failover state.
func (m *Manager) BandState(band ids.BandType) BandState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.bands[band]; ok {
		return e.state
	}
	return BandFailed
}

// ExpectedOnAirDuration returns ceil(bits/rate) for band, used for
// deadline bookkeeping; the transmitter never busy-waits on it.
func ExpectedOnAirDuration(band ids.BandType, numBits uint64) time.Duration {
	rate := band.NominalBitRate()
	if rate == 0 {
		return 0
	}
	seconds := math.Ceil(float64(numBits) / float64(rate))
	return time.Duration(seconds * float64(time.Second))
}

// Transmit serializes msg's payload via ccsds-encoded bytes (produced by a
// SchedTransmitter from msg.SerializedPayload ahead of this call), selects a
// band, applies the per-priority send deadline (bypassed for Critical/
// Emergency), and delivers through the selected band's Transceiver,
// recording the outcome into the failover state machine.
func (m *Manager) Transmit(ctx context.Context, msg *spacecmd.Message, encoded []byte, mode ids.OperationalMode) error {
	if err := m.checkConfirmationGate(msg); err != nil {
		return err
	}

	band := m.Select(msg.Priority, mode)
	if preferred := priorityBand(msg.Priority); band != preferred && mode != ids.ModeEmergency && !m.isForcedEmergency() {
		m.raiseCommunicationFault(preferred)
	}

	m.mu.RLock()
	e, ok := m.bands[band]
	m.mu.RUnlock()
	if !ok || e.transceiver == nil {
		return xerr.NewHardwareFailure(band.String(), 0)
	}

	if deadline, bounded := sendDeadline(msg.Priority); bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	err := e.transceiver.Transmit(ctx, encoded)
	m.RecordSendResult(band, err)
	if err != nil {
		if ctx.Err() != nil {
			return xerr.NewCommunicationTimeout("transmit", int64(mustDeadlineMs(msg.Priority)))
		}
		return xerr.NewHardwareFailure(band.String(), 0).Wrap(err)
	}

	if msg.PayloadKind == spacecmd.PayloadTelemetry {
		m.recordTelemetry(encoded)
	}
	return nil
}

// checkConfirmationGate enforces §4.4's confirmation-required set at the
// transmit boundary (Testable Property 10): a command in that set without
// a redeemable token yields ConfigurationError and never reaches the
// transceiver.
func (m *Manager) checkConfirmationGate(msg *spacecmd.Message) error {
	if msg.Payload == nil || !msg.Payload.Kind().RequiresConfirmation() {
		return nil
	}
	if msg.ConfirmationToken == "" {
		return xerr.NewConfigurationError("confirmation_token", "", "confirmation required")
	}

	m.mu.RLock()
	store := m.confirmations
	m.mu.RUnlock()
	if store != nil && !store.RedeemConfirmation(msg.ConfirmationToken) {
		return xerr.NewConfigurationError("confirmation_token", msg.ConfirmationToken, "confirmation required")
	}
	return nil
}

func mustDeadlineMs(p ids.MessagePriority) int64 {
	d, _ := sendDeadline(p)
	return d.Milliseconds()
}

const telemetryRingCapacity = 1000

// recordTelemetry appends encoded to the bounded FIFO ring buffer used
// for ground-side replay (§6 "Persisted state layout").
func (m *Manager) recordTelemetry(encoded []byte) {
	m.mu.Lock()
	seq := m.telemetrySeq
	m.telemetrySeq++
	m.mu.Unlock()

	m.telemetryRing.SetDefault(ringKey(seq), append([]byte(nil), encoded...))
	if seq >= telemetryRingCapacity {
		m.telemetryRing.Delete(ringKey(seq - telemetryRingCapacity))
	}
}

// TelemetryHistory returns up to the last telemetryRingCapacity recorded
// telemetry packets, oldest first.
func (m *Manager) TelemetryHistory() [][]byte {
	m.mu.Lock()
	seq := m.telemetrySeq
	m.mu.Unlock()

	start := int64(0)
	if int64(seq) > telemetryRingCapacity {
		start = int64(seq) - telemetryRingCapacity
	}
	history := make([][]byte, 0, seq-uint64(start))
	for i := start; i < int64(seq); i++ {
		if v, ok := m.telemetryRing.Get(ringKey(uint64(i))); ok {
			history = append(history, v.([]byte))
		}
	}
	return history
}

func ringKey(seq uint64) string {
	return "telemetry:" + strconv.FormatUint(seq, 10)
}
