package spacecmd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlink/satlink/ids"
)

var allKinds = []Kind{
	KindEmergencyAbort, KindEmergencyHalt, KindActivateSafeMode, KindEmergencyPowerDown, KindEmergencyAttitudeRecovery,
	KindAbortMission, KindHaltSubsystem, KindCollisionAvoidance, KindAttitudeControl, KindSwitchCommBackup, KindResetSystem,
	KindUpdateOrbit, KindReconfigureComm, KindDeploy, KindStartDataCollection, KindConfigurePower,
	KindRequestTelemetry, KindUpdateConfig, KindCalibrateInstrument, KindScheduleOperation, KindStoreData,
	KindSendStatus, KindUpdateTime, KindPerformMaintenance, KindLogEvent,
}

func TestTwentyFourCommandsTotal(t *testing.T) {
	require.Len(t, allKinds, 24)
}

func TestPriorityTotalAndRanged(t *testing.T) {
	bounds := map[ids.MessagePriority][2]Kind{
		ids.PriorityEmergency: {0x0001, 0x000F},
		ids.PriorityCritical:  {0x0010, 0x001F},
		ids.PriorityHigh:      {0x0020, 0x002F},
		ids.PriorityMedium:    {0x0030, 0x003F},
		ids.PriorityLow:       {0x0040, 0x004F},
	}
	for _, k := range allKinds {
		p := k.Priority()
		lo, hi := bounds[p][0], bounds[p][1]
		assert.GreaterOrEqual(t, k, lo, "kind %v priority %v", k, p)
		assert.LessOrEqual(t, k, hi, "kind %v priority %v", k, p)
	}
}

func TestDiscriminantStability(t *testing.T) {
	assert.Equal(t, Kind(0x0001), KindEmergencyAbort)
	assert.Equal(t, Kind(0x0005), KindEmergencyAttitudeRecovery)
	assert.Equal(t, Kind(0x0010), KindAbortMission)
	assert.Equal(t, Kind(0x0020), KindUpdateOrbit)
	assert.Equal(t, Kind(0x0030), KindRequestTelemetry)
	assert.Equal(t, Kind(0x0040), KindSendStatus)
	assert.Equal(t, Kind(0x0043), KindLogEvent)
}

func TestBandPreferenceByPriority(t *testing.T) {
	assert.Equal(t, ids.KBand, KindEmergencyAbort.PreferredBand())
	assert.Equal(t, ids.XBand, KindAbortMission.PreferredBand())
	assert.Equal(t, ids.SBand, KindUpdateOrbit.PreferredBand())
	assert.Equal(t, ids.SBand, KindRequestTelemetry.PreferredBand())
	assert.Equal(t, ids.UhfBand, KindSendStatus.PreferredBand())
}

func TestConfirmationSetMembership(t *testing.T) {
	required := []Kind{KindEmergencyAbort, KindEmergencyHalt, KindActivateSafeMode, KindAbortMission, KindCollisionAvoidance, KindResetSystem, KindDeploy}
	for _, k := range required {
		assert.True(t, k.RequiresConfirmation(), "%v should require confirmation", k)
	}
	assert.False(t, KindSendStatus.RequiresConfirmation())
}

func TestBuildRejectsNonFiniteQuaternion(t *testing.T) {
	nextID := func() ids.MessageId { return 1 }
	cmd := AttitudeControl{
		TargetQuaternion: [4]float32{0, 0, 0, float32(math.Inf(1))},
	}
	_, err := Build(1, 2, cmd, nextID, ids.Now())
	assert.Error(t, err)
}

func TestBuildComputesPriorityAndBand(t *testing.T) {
	nextID := func() ids.MessageId { return 42 }
	msg, err := Build(1, 2, RequestTelemetry{SamplingRateHz: 10}, nextID, ids.Now())
	require.NoError(t, err)
	assert.Equal(t, ids.PriorityMedium, msg.Priority)
	assert.Equal(t, ids.SBand, msg.PreferredBand)
	assert.Equal(t, uint8(1), msg.MaxRetries)
	assert.Equal(t, ids.MessageId(42), msg.ID)
}

func TestBuildPopulatesSerializedPayload(t *testing.T) {
	nextID := func() ids.MessageId { return 1 }
	msg, err := Build(1, 2, SendStatus{StatusType: StatusTypeDegraded, IncludeDiagnostics: true}, nextID, ids.Now())
	require.NoError(t, err)
	require.NotEmpty(t, msg.SerializedPayload)

	want, err := Serialize(SendStatus{StatusType: StatusTypeDegraded, IncludeDiagnostics: true})
	require.NoError(t, err)
	assert.Equal(t, want, msg.SerializedPayload)
}

func TestSerializePrefixesKindAndEncodesFields(t *testing.T) {
	out, err := Serialize(AbortMission{MissionID: 7, AbortReason: "ground abort", PreserveData: true})
	require.NoError(t, err)
	require.True(t, len(out) > 4)
	assert.Equal(t, uint32(KindAbortMission), uint32(out[0])<<24|uint32(out[1])<<16|uint32(out[2])<<8|uint32(out[3]))
}

func TestSerializeRejectsOversizedParameterBlob(t *testing.T) {
	_, err := Serialize(UpdateConfig{ConfigID: "c", Parameters: make([]byte, maxPayloadSerializedSize)})
	assert.Error(t, err)
}

func TestSerializeEncodesNestedScheduleOperation(t *testing.T) {
	interval := uint32(60)
	out, err := Serialize(ScheduleOperation{
		OperationID:    5,
		ScheduledTime:  1000,
		Command:        SendStatus{StatusType: StatusTypeNominal},
		RepeatInterval: &interval,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestConfirmationTokenIssueAndRedeem(t *testing.T) {
	store := NewConfirmationStore()

	token, ok := store.IssueConfirmation(EmergencyAbort{})
	require.True(t, ok)
	assert.True(t, store.RedeemConfirmation(token))
	assert.False(t, store.RedeemConfirmation(token), "token must be single-use")

	_, ok = store.IssueConfirmation(SendStatus{})
	assert.False(t, ok, "non confirmation-required commands mint no token")
}
