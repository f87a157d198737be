// Package spacecmd defines the closed 24-variant SpaceCommand enum, its
// priority/band/confirmation tables, stable discriminants, and the pure
// builder that turns a command into an enqueueable Message.
package spacecmd

import (
	"fmt"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/xid"

	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/xerr"
)

// Kind is the stable discriminant identity for a SpaceCommand variant.
// Ranges are fixed per priority tier: Emergency 0x0001-0x000F, Critical
// 0x0010-0x001F, High 0x0020-0x002F, Medium 0x0030-0x003F, Low
// 0x0040-0x004F. Within a tier, commands are numbered in declared order
// starting at the tier's low bound.
type Kind uint32

const (
	KindEmergencyAbort            Kind = 0x0001
	KindEmergencyHalt             Kind = 0x0002
	KindActivateSafeMode          Kind = 0x0003
	KindEmergencyPowerDown        Kind = 0x0004
	KindEmergencyAttitudeRecovery Kind = 0x0005

	KindAbortMission     Kind = 0x0010
	KindHaltSubsystem    Kind = 0x0011
	KindCollisionAvoidance Kind = 0x0012
	KindAttitudeControl  Kind = 0x0013
	KindSwitchCommBackup Kind = 0x0014
	KindResetSystem      Kind = 0x0015

	KindUpdateOrbit         Kind = 0x0020
	KindReconfigureComm     Kind = 0x0021
	KindDeploy              Kind = 0x0022
	KindStartDataCollection Kind = 0x0023
	KindConfigurePower      Kind = 0x0024

	KindRequestTelemetry   Kind = 0x0030
	KindUpdateConfig       Kind = 0x0031
	KindCalibrateInstrument Kind = 0x0032
	KindScheduleOperation  Kind = 0x0033
	KindStoreData          Kind = 0x0034

	KindSendStatus         Kind = 0x0040
	KindUpdateTime         Kind = 0x0041
	KindPerformMaintenance Kind = 0x0042
	KindLogEvent           Kind = 0x0043
)

var kindName = map[Kind]string{
	KindEmergencyAbort:            "EmergencyAbort",
	KindEmergencyHalt:             "EmergencyHalt",
	KindActivateSafeMode:          "ActivateSafeMode",
	KindEmergencyPowerDown:        "EmergencyPowerDown",
	KindEmergencyAttitudeRecovery: "EmergencyAttitudeRecovery",
	KindAbortMission:              "AbortMission",
	KindHaltSubsystem:             "HaltSubsystem",
	KindCollisionAvoidance:        "CollisionAvoidance",
	KindAttitudeControl:           "AttitudeControl",
	KindSwitchCommBackup:          "SwitchCommBackup",
	KindResetSystem:               "ResetSystem",
	KindUpdateOrbit:               "UpdateOrbit",
	KindReconfigureComm:           "ReconfigureComm",
	KindDeploy:                    "Deploy",
	KindStartDataCollection:       "StartDataCollection",
	KindConfigurePower:            "ConfigurePower",
	KindRequestTelemetry:          "RequestTelemetry",
	KindUpdateConfig:              "UpdateConfig",
	KindCalibrateInstrument:       "CalibrateInstrument",
	KindScheduleOperation:         "ScheduleOperation",
	KindStoreData:                 "StoreData",
	KindSendStatus:                "SendStatus",
	KindUpdateTime:                "UpdateTime",
	KindPerformMaintenance:        "PerformMaintenance",
	KindLogEvent:                  "LogEvent",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindName[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%#x)", uint32(k))
}

// priorityTable maps every Kind to its MessagePriority, table-defined and
// total over all 24 variants (Testable Property 5).
var priorityTable = map[Kind]ids.MessagePriority{
	KindEmergencyAbort:            ids.PriorityEmergency,
	KindEmergencyHalt:             ids.PriorityEmergency,
	KindActivateSafeMode:          ids.PriorityEmergency,
	KindEmergencyPowerDown:        ids.PriorityEmergency,
	KindEmergencyAttitudeRecovery: ids.PriorityEmergency,

	KindAbortMission:       ids.PriorityCritical,
	KindHaltSubsystem:      ids.PriorityCritical,
	KindCollisionAvoidance: ids.PriorityCritical,
	KindAttitudeControl:    ids.PriorityCritical,
	KindSwitchCommBackup:   ids.PriorityCritical,
	KindResetSystem:        ids.PriorityCritical,

	KindUpdateOrbit:         ids.PriorityHigh,
	KindReconfigureComm:     ids.PriorityHigh,
	KindDeploy:              ids.PriorityHigh,
	KindStartDataCollection: ids.PriorityHigh,
	KindConfigurePower:      ids.PriorityHigh,

	KindRequestTelemetry:    ids.PriorityMedium,
	KindUpdateConfig:        ids.PriorityMedium,
	KindCalibrateInstrument: ids.PriorityMedium,
	KindScheduleOperation:   ids.PriorityMedium,
	KindStoreData:           ids.PriorityMedium,

	KindSendStatus:         ids.PriorityLow,
	KindUpdateTime:         ids.PriorityLow,
	KindPerformMaintenance: ids.PriorityLow,
	KindLogEvent:           ids.PriorityLow,
}

// bandPreferenceTable maps MessagePriority to its pre-failover preferred
// band (§4.4), a function of priority only.
var bandPreferenceTable = map[ids.MessagePriority]ids.BandType{
	ids.PriorityEmergency: ids.KBand,
	ids.PriorityCritical:  ids.XBand,
	ids.PriorityHigh:      ids.SBand,
	ids.PriorityMedium:    ids.SBand,
	ids.PriorityLow:       ids.UhfBand,
}

// confirmationSet is the subset of commands whose dispatch requires an
// out-of-band token at the transmit boundary.
var confirmationSet = map[Kind]bool{
	KindEmergencyAbort:     true,
	KindEmergencyHalt:      true,
	KindActivateSafeMode:   true,
	KindAbortMission:       true,
	KindCollisionAvoidance: true,
	KindResetSystem:        true,
	KindDeploy:             true,
}

// Priority returns k's table-defined priority. Always defined for the 24
// closed variants; returns PriorityLow for any unrecognized Kind as a safe
// default, which should never occur for values produced by this package.
func (k Kind) Priority() ids.MessagePriority {
	if p, ok := priorityTable[k]; ok {
		return p
	}
	return ids.PriorityLow
}

// PreferredBand returns k's priority's pre-failover default band.
func (k Kind) PreferredBand() ids.BandType {
	return bandPreferenceTable[k.Priority()]
}

// RequiresConfirmation reports whether k is in the confirmation-required set.
func (k Kind) RequiresConfirmation() bool {
	return confirmationSet[k]
}

// SpaceCommand is the closed sum type of all 24 mission commands. The
// unexported marker method keeps the set closed to this package.
type SpaceCommand interface {
	Kind() Kind
	spaceCommand()
}

// --- Emergency ---------------------------------------------------------

type EmergencyReason uint8

const (
	ReasonCollisionImminent EmergencyReason = iota
	ReasonPowerCritical
	ReasonThermalRunaway
	ReasonAttitudeLoss
	ReasonGroundCommand
)

type EmergencyAbort struct {
	Reason           EmergencyReason
	ConfirmationCode uint32
}

func (EmergencyAbort) Kind() Kind   { return KindEmergencyAbort }
func (EmergencyAbort) spaceCommand() {}

type EmergencyHalt struct {
	Subsystems   []ids.ComponentId
	OverrideCode uint64
}

func (EmergencyHalt) Kind() Kind   { return KindEmergencyHalt }
func (EmergencyHalt) spaceCommand() {}

type SafeModeLevel uint8

const (
	SafeModeMinimal SafeModeLevel = iota
	SafeModeStandard
	SafeModeDeep
)

type ActivateSafeMode struct {
	SafeModeLevel   SafeModeLevel
	DurationSeconds *uint32
}

func (ActivateSafeMode) Kind() Kind   { return KindActivateSafeMode }
func (ActivateSafeMode) spaceCommand() {}

type EmergencyPowerDown struct {
	SystemsToPreserve       []ids.ComponentId
	BatteryThresholdPercent uint8
}

func (EmergencyPowerDown) Kind() Kind   { return KindEmergencyPowerDown }
func (EmergencyPowerDown) spaceCommand() {}

type EmergencyAttitudeRecovery struct {
	TargetAttitude     [4]float32 // quaternion
	MaxAngularVelocity float32
}

func (EmergencyAttitudeRecovery) Kind() Kind   { return KindEmergencyAttitudeRecovery }
func (EmergencyAttitudeRecovery) spaceCommand() {}

// --- Critical ------------------------------------------------------------

type AbortMission struct {
	MissionID    uint32
	AbortReason  string
	PreserveData bool
}

func (AbortMission) Kind() Kind   { return KindAbortMission }
func (AbortMission) spaceCommand() {}

type HaltSubsystem struct {
	Subsystem        ids.ComponentId
	GracefulShutdown bool
	TimeoutSeconds   uint32
}

func (HaltSubsystem) Kind() Kind   { return KindHaltSubsystem }
func (HaltSubsystem) spaceCommand() {}

type ManeuverType uint8

const (
	ManeuverProgradeBurn ManeuverType = iota
	ManeuverRetrogradeBurn
	ManeuverRadialBurn
	ManeuverCollisionAvoidance
)

type CollisionAvoidance struct {
	DebrisID      uint64
	ManeuverType  ManeuverType
	DeltaV        [3]float32 // m/s, X/Y/Z
	ExecutionTime uint64     // Unix timestamp
}

func (CollisionAvoidance) Kind() Kind   { return KindCollisionAvoidance }
func (CollisionAvoidance) spaceCommand() {}

type AttitudeMode uint8

const (
	AttitudeModeInertial AttitudeMode = iota
	AttitudeModeSunPointing
	AttitudeModeEarthPointing
	AttitudeModeSpinStabilized
)

type AttitudeControl struct {
	TargetQuaternion [4]float32
	AngularRates     [3]float32 // rad/s
	ControlMode      AttitudeMode
	DeadlineMs       uint32
}

func (AttitudeControl) Kind() Kind   { return KindAttitudeControl }
func (AttitudeControl) spaceCommand() {}

type SwitchCommBackup struct {
	PrimaryFailure     string
	BackupBand         ids.BandType
	PowerLevelPercent  uint8
}

func (SwitchCommBackup) Kind() Kind   { return KindSwitchCommBackup }
func (SwitchCommBackup) spaceCommand() {}

type ResetType uint8

const (
	ResetSoft ResetType = iota
	ResetHard
	ResetFactory
)

type ResetSystem struct {
	Component      ids.ComponentId
	ResetType      ResetType
	PreserveConfig bool
}

func (ResetSystem) Kind() Kind   { return KindResetSystem }
func (ResetSystem) spaceCommand() {}

// --- High ------------------------------------------------------------

type UpdateOrbit struct {
	SemiMajorAxisKm float64
	Eccentricity    float64
	InclinationDeg  float64
	RAANDeg         float64
	ArgPeriapsisDeg float64
	TrueAnomalyDeg  float64
}

func (UpdateOrbit) Kind() Kind   { return KindUpdateOrbit }
func (UpdateOrbit) spaceCommand() {}

type ModulationType uint8

const (
	ModulationBPSK ModulationType = iota
	ModulationQPSK
	Modulation8PSK
	ModulationQAM16
)

type ReconfigureComm struct {
	Band            ids.BandType
	FrequencyHz     uint64
	PowerLevel      uint8 // 0-100
	Modulation      ModulationType
	ErrorCorrection bool
}

func (ReconfigureComm) Kind() Kind   { return KindReconfigureComm }
func (ReconfigureComm) spaceCommand() {}

type DeployableType uint8

const (
	DeployableSolarPanel DeployableType = iota
	DeployableAntenna
	DeployableBoom
)

type Deploy struct {
	Deployable      DeployableType
	DeploymentAngle float32 // degrees
	DeploymentRate  float32 // degrees/second
	ForceLimit      float32 // Newtons
}

func (Deploy) Kind() Kind   { return KindDeploy }
func (Deploy) spaceCommand() {}

type StartDataCollection struct {
	Instrument      ids.ComponentId
	CollectionMode  string
	DurationSeconds uint32
	DataRateMbps    float32
}

func (StartDataCollection) Kind() Kind   { return KindStartDataCollection }
func (StartDataCollection) spaceCommand() {}

type BatteryMode uint8

const (
	BatteryModeCharging BatteryMode = iota
	BatteryModeDischarging
	BatteryModeStandby
)

type ConfigurePower struct {
	SolarPanelOrientation [3]float32
	BatteryMode           BatteryMode
	PowerBudgetWatts      float32
	LoadSheddingPriority  []ids.ComponentId
}

func (ConfigurePower) Kind() Kind   { return KindConfigurePower }
func (ConfigurePower) spaceCommand() {}

// --- Medium ------------------------------------------------------------

type TelemetryType uint8

const (
	TelemetryHousekeeping TelemetryType = iota
	TelemetryScience
	TelemetryDiagnostic
)

type RequestTelemetry struct {
	TelemetryType   TelemetryType
	SamplingRateHz  float32
	DurationSeconds uint32
	Compression     bool
}

func (RequestTelemetry) Kind() Kind   { return KindRequestTelemetry }
func (RequestTelemetry) spaceCommand() {}

type UpdateConfig struct {
	ConfigID         string
	Parameters       []byte
	ApplyImmediately bool
	BackupCurrent    bool
}

func (UpdateConfig) Kind() Kind   { return KindUpdateConfig }
func (UpdateConfig) spaceCommand() {}

type CalibrationType uint8

const (
	CalibrationZeroOffset CalibrationType = iota
	CalibrationGain
	CalibrationFull
)

type CalibrateInstrument struct {
	Instrument              ids.ComponentId
	CalibrationType         CalibrationType
	ReferenceValues         []float32
	TemperatureCompensation bool
}

func (CalibrateInstrument) Kind() Kind   { return KindCalibrateInstrument }
func (CalibrateInstrument) spaceCommand() {}

type ScheduleOperation struct {
	OperationID     uint64
	ScheduledTime   uint64 // Unix timestamp
	Command         SpaceCommand
	RepeatInterval  *uint32 // seconds
}

func (ScheduleOperation) Kind() Kind   { return KindScheduleOperation }
func (ScheduleOperation) spaceCommand() {}

type DataType uint8

const (
	DataTypeTelemetry DataType = iota
	DataTypeScience
	DataTypeLog
)

type StorageLocation uint8

const (
	StorageLocationPrimary StorageLocation = iota
	StorageLocationBackup
	StorageLocationScratch
)

type StoreData struct {
	DataType          DataType
	StorageLocation   StorageLocation
	CompressionLevel  uint8
	Encryption        bool
}

func (StoreData) Kind() Kind   { return KindStoreData }
func (StoreData) spaceCommand() {}

// --- Low ------------------------------------------------------------

type StatusType uint8

const (
	StatusTypeNominal StatusType = iota
	StatusTypeDegraded
	StatusTypeFault
)

type ReportFormat uint8

const (
	ReportFormatCompact ReportFormat = iota
	ReportFormatVerbose
)

type SendStatus struct {
	StatusType          StatusType
	IncludeDiagnostics  bool
	Format              ReportFormat
}

func (SendStatus) Kind() Kind   { return KindSendStatus }
func (SendStatus) spaceCommand() {}

type TimeSource uint8

const (
	TimeSourceGroundUplink TimeSource = iota
	TimeSourceGPS
	TimeSourceInternalClock
)

type UpdateTime struct {
	UTCTime               uint64 // Unix timestamp
	TimeSource            TimeSource
	PrecisionMicroseconds uint32
}

func (UpdateTime) Kind() Kind   { return KindUpdateTime }
func (UpdateTime) spaceCommand() {}

type MaintenanceType uint8

const (
	MaintenanceTypeRoutine MaintenanceType = iota
	MaintenanceTypeDiagnostic
	MaintenanceTypeFirmwareUpdate
)

type PerformMaintenance struct {
	MaintenanceType    MaintenanceType
	Automated          bool
	EstimatedDuration  uint32 // seconds
}

func (PerformMaintenance) Kind() Kind   { return KindPerformMaintenance }
func (PerformMaintenance) spaceCommand() {}

type EventType uint8

const (
	EventTypeStateChange EventType = iota
	EventTypeAnomaly
	EventTypeCommandAck
)

type EventSeverity uint8

const (
	EventSeverityInfo EventSeverity = iota
	EventSeverityWarning
	EventSeverityError
)

type LogEvent struct {
	EventType       EventType
	Severity        EventSeverity
	Description     string
	AssociatedData  []byte
}

func (LogEvent) Kind() Kind   { return KindLogEvent }
func (LogEvent) spaceCommand() {}

// --- Builder -------------------------------------------------------------

// PayloadKind classifies a built Message's payload for C5/C6 bookkeeping.
type PayloadKind uint8

const (
	PayloadTelemetry PayloadKind = iota
	PayloadCommand
	PayloadStatus
	PayloadRaw
	PayloadEmergency
)

// Message is the unit enqueued by C5, built from a SpaceCommand by Build.
type Message struct {
	ID             ids.MessageId
	Priority       ids.MessagePriority
	Source         ids.ComponentId
	Destination    ids.ComponentId
	TimestampNs    ids.Timestamp
	Payload        SpaceCommand
	PayloadKind    PayloadKind
	PreferredBand  ids.BandType
	TTLSeconds     uint32
	RetryCount     uint8
	MaxRetries     uint8

	// ConfirmationToken carries the out-of-band token redeemed at the
	// transmit boundary for commands in the confirmation-required set
	// (§4.4); empty for every other command.
	ConfirmationToken string

	// SerializedPayload is cmd's parameters serialized by Build, the bytes
	// C3 wraps into a SpacePacket's Payload at the transmit boundary.
	SerializedPayload []byte
}

const maxPayloadSerializedSize = 2048

func isFiniteQuaternion(q [4]float32) bool {
	for _, v := range q {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// Build constructs a Message from source/destination/command: computes
// priority, preferred band, TTL and retry budget from the tables, and
// fails only if parameter serialization would overflow the payload bound
// or a command field violates its own range (e.g. a non-finite quaternion).
func Build(source, destination ids.ComponentId, cmd SpaceCommand, nextID func() ids.MessageId, now ids.Timestamp) (*Message, error) {
	switch c := cmd.(type) {
	case EmergencyAttitudeRecovery:
		if !isFiniteQuaternion(c.TargetAttitude) {
			return nil, xerr.NewConfigurationError("target_attitude", "non-finite", "quaternion components must be finite")
		}
	case AttitudeControl:
		if !isFiniteQuaternion(c.TargetQuaternion) {
			return nil, xerr.NewConfigurationError("target_quaternion", "non-finite", "quaternion components must be finite")
		}
	}

	serialized, err := Serialize(cmd)
	if err != nil {
		return nil, err
	}

	priority := cmd.Kind().Priority()
	payloadKind := PayloadCommand
	if priority == ids.PriorityEmergency {
		payloadKind = PayloadEmergency
	}

	return &Message{
		ID:                nextID(),
		Priority:          priority,
		Source:            source,
		Destination:       destination,
		TimestampNs:       now,
		Payload:           cmd,
		PayloadKind:       payloadKind,
		PreferredBand:     cmd.Kind().PreferredBand(),
		TTLSeconds:        priority.TTLSeconds(),
		RetryCount:        0,
		MaxRetries:        priority.MaxRetries(),
		SerializedPayload: serialized,
	}, nil
}

// --- Confirmation tokens ---------------------------------------------------

const confirmationTokenTTL = 5 * time.Minute

// ConfirmationStore issues and redeems one-time confirmation tokens for
// commands in the confirmation-required set, backed by a TTL cache so an
// unredeemed token expires instead of accumulating.
type ConfirmationStore struct {
	tokens *cache.Cache
}

// NewConfirmationStore builds a store with the package's fixed token TTL.
func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{tokens: cache.New(confirmationTokenTTL, confirmationTokenTTL/2)}
}

// IssueConfirmation mints a token for cmd if its Kind requires
// confirmation; ok is false for commands outside the confirmation set.
func (s *ConfirmationStore) IssueConfirmation(cmd SpaceCommand) (token string, ok bool) {
	if !cmd.Kind().RequiresConfirmation() {
		return "", false
	}
	token = xid.New().String()
	s.tokens.SetDefault(token, cmd.Kind())
	return token, true
}

// RedeemConfirmation deletes-on-read: it reports whether token is valid
// and unexpired, consuming it so it cannot be reused.
func (s *ConfirmationStore) RedeemConfirmation(token string) bool {
	_, found := s.tokens.Get(token)
	if found {
		s.tokens.Delete(token)
	}
	return found
}
