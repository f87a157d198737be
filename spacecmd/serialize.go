package spacecmd

import (
	"math"

	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/xerr"
)

// cursor is the Append-style mutating byte encoder for command parameters,
// grounded on ccsds.cursor's Append*/Decode* idiom but carrying the wider
// primitive set (float32/float64/bool/length-prefixed string and bytes) a
// command payload needs that a packet header never does.
type cursor struct {
	buf []byte
}

func (c *cursor) u8(v uint8) {
	c.buf = append(c.buf, v)
}

func (c *cursor) u16(v uint16) {
	c.buf = append(c.buf, byte(v>>8), byte(v))
}

func (c *cursor) u32(v uint32) {
	c.buf = append(c.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (c *cursor) u64(v uint64) {
	c.buf = append(c.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (c *cursor) f32(v float32) {
	c.u32(math.Float32bits(v))
}

func (c *cursor) f64(v float64) {
	c.u64(math.Float64bits(v))
}

func (c *cursor) boolean(v bool) {
	if v {
		c.u8(1)
	} else {
		c.u8(0)
	}
}

// bytes appends b as a uint16-length-prefixed field, self-describing since
// nothing else in the stream marks where a variable-length field ends.
func (c *cursor) bytes(b []byte) {
	c.u16(uint16(len(b)))
	c.buf = append(c.buf, b...)
}

func (c *cursor) str(s string) {
	c.bytes([]byte(s))
}

func (c *cursor) componentID(id ids.ComponentId) {
	c.u16(id.Value())
}

func (c *cursor) componentIDs(list []ids.ComponentId) {
	c.u16(uint16(len(list)))
	for _, id := range list {
		c.componentID(id)
	}
}

func (c *cursor) float32s(list []float32) {
	c.u16(uint16(len(list)))
	for _, v := range list {
		c.f32(v)
	}
}

// optionalU32 appends a presence byte followed by four value bytes (zero
// when absent), the same pattern ActivateSafeMode/ScheduleOperation use for their one
// optional scalar field.
func (c *cursor) optionalU32(v *uint32) {
	if v == nil {
		c.u8(0)
		c.u32(0)
		return
	}
	c.u8(1)
	c.u32(*v)
}

// Serialize encodes cmd's own parameters into the command's payload bytes
// (the builder contract's "serializes the command parameters into the
// payload" step), prefixed with cmd.Kind() so the framing is self-describing
// even though decoding a command payload back is out of scope here — only
// C3's packet-level decode is exercised on ingress.
func Serialize(cmd SpaceCommand) ([]byte, error) {
	var c cursor
	c.u32(uint32(cmd.Kind()))

	switch v := cmd.(type) {
	case EmergencyAbort:
		c.u8(uint8(v.Reason))
		c.u32(v.ConfirmationCode)

	case EmergencyHalt:
		c.componentIDs(v.Subsystems)
		c.u64(v.OverrideCode)

	case ActivateSafeMode:
		c.u8(uint8(v.SafeModeLevel))
		c.optionalU32(v.DurationSeconds)

	case EmergencyPowerDown:
		c.componentIDs(v.SystemsToPreserve)
		c.u8(v.BatteryThresholdPercent)

	case EmergencyAttitudeRecovery:
		for _, q := range v.TargetAttitude {
			c.f32(q)
		}
		c.f32(v.MaxAngularVelocity)

	case AbortMission:
		c.u32(v.MissionID)
		c.str(v.AbortReason)
		c.boolean(v.PreserveData)

	case HaltSubsystem:
		c.componentID(v.Subsystem)
		c.boolean(v.GracefulShutdown)
		c.u32(v.TimeoutSeconds)

	case CollisionAvoidance:
		c.u64(v.DebrisID)
		c.u8(uint8(v.ManeuverType))
		for _, d := range v.DeltaV {
			c.f32(d)
		}
		c.u64(v.ExecutionTime)

	case AttitudeControl:
		for _, q := range v.TargetQuaternion {
			c.f32(q)
		}
		for _, r := range v.AngularRates {
			c.f32(r)
		}
		c.u8(uint8(v.ControlMode))
		c.u32(v.DeadlineMs)

	case SwitchCommBackup:
		c.str(v.PrimaryFailure)
		c.u8(uint8(v.BackupBand))
		c.u8(v.PowerLevelPercent)

	case ResetSystem:
		c.componentID(v.Component)
		c.u8(uint8(v.ResetType))
		c.boolean(v.PreserveConfig)

	case UpdateOrbit:
		c.f64(v.SemiMajorAxisKm)
		c.f64(v.Eccentricity)
		c.f64(v.InclinationDeg)
		c.f64(v.RAANDeg)
		c.f64(v.ArgPeriapsisDeg)
		c.f64(v.TrueAnomalyDeg)

	case ReconfigureComm:
		c.u8(uint8(v.Band))
		c.u64(v.FrequencyHz)
		c.u8(v.PowerLevel)
		c.u8(uint8(v.Modulation))
		c.boolean(v.ErrorCorrection)

	case Deploy:
		c.u8(uint8(v.Deployable))
		c.f32(v.DeploymentAngle)
		c.f32(v.DeploymentRate)
		c.f32(v.ForceLimit)

	case StartDataCollection:
		c.componentID(v.Instrument)
		c.str(v.CollectionMode)
		c.u32(v.DurationSeconds)
		c.f32(v.DataRateMbps)

	case ConfigurePower:
		for _, o := range v.SolarPanelOrientation {
			c.f32(o)
		}
		c.u8(uint8(v.BatteryMode))
		c.f32(v.PowerBudgetWatts)
		c.componentIDs(v.LoadSheddingPriority)

	case RequestTelemetry:
		c.u8(uint8(v.TelemetryType))
		c.f32(v.SamplingRateHz)
		c.u32(v.DurationSeconds)
		c.boolean(v.Compression)

	case UpdateConfig:
		c.str(v.ConfigID)
		c.bytes(v.Parameters)
		c.boolean(v.ApplyImmediately)
		c.boolean(v.BackupCurrent)

	case CalibrateInstrument:
		c.componentID(v.Instrument)
		c.u8(uint8(v.CalibrationType))
		c.float32s(v.ReferenceValues)
		c.boolean(v.TemperatureCompensation)

	case ScheduleOperation:
		c.u64(v.OperationID)
		c.u64(v.ScheduledTime)
		inner, err := Serialize(v.Command)
		if err != nil {
			return nil, err
		}
		c.bytes(inner)
		c.optionalU32(v.RepeatInterval)

	case StoreData:
		c.u8(uint8(v.DataType))
		c.u8(uint8(v.StorageLocation))
		c.u8(v.CompressionLevel)
		c.boolean(v.Encryption)

	case SendStatus:
		c.u8(uint8(v.StatusType))
		c.boolean(v.IncludeDiagnostics)
		c.u8(uint8(v.Format))

	case UpdateTime:
		c.u64(v.UTCTime)
		c.u8(uint8(v.TimeSource))
		c.u32(v.PrecisionMicroseconds)

	case PerformMaintenance:
		c.u8(uint8(v.MaintenanceType))
		c.boolean(v.Automated)
		c.u32(v.EstimatedDuration)

	case LogEvent:
		c.u8(uint8(v.EventType))
		c.u8(uint8(v.Severity))
		c.str(v.Description)
		c.bytes(v.AssociatedData)

	default:
		return nil, xerr.NewInvalidPacket("unrecognized command variant", nil)
	}

	if len(c.buf) > maxPayloadSerializedSize {
		return nil, xerr.NewInvalidPacket("command parameters exceed payload bound", nil)
	}
	return c.buf, nil
}
