package xerr

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/orbitlink/satlink/fault"
	"github.com/orbitlink/satlink/ids"
)

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, SeverityCritical, KindHardwareFailure.Severity())
	assert.Equal(t, SeverityCritical, KindMemoryError.Severity())
	assert.Equal(t, SeverityCritical, KindCryptographicError.Severity())
	assert.Equal(t, SeverityCritical, KindIntegrityError.Severity())
	assert.Equal(t, SeverityMedium, KindInvalidPacket.Severity())
	assert.Equal(t, SeverityMedium, KindProtocolError.Severity())
	assert.Equal(t, SeverityMedium, KindConfigurationError.Severity())
	assert.Equal(t, SeverityMedium, KindResourceExhausted.Severity())
	assert.Equal(t, SeverityLow, KindCommunicationTimeout.Severity())
}

func TestRecoverability(t *testing.T) {
	assert.True(t, NewCommunicationTimeout("transmit", 500).IsRecoverable())
	assert.True(t, NewResourceExhausted("queue_slots", 95, 100).IsRecoverable())

	size := uint64(4096)
	assert.True(t, NewMemoryError(MemoryAllocationFailed, &size).IsRecoverable())
	assert.False(t, NewMemoryError(MemoryBufferOverflow, &size).IsRecoverable())

	assert.False(t, NewInvalidPacket("too short", nil).IsRecoverable())
	assert.False(t, NewProtocolError("ccsds", "version=0", "version=1").IsRecoverable())
	assert.False(t, NewConfigurationError("port", "-1", "out of range").IsRecoverable())
	assert.False(t, NewIntegrityError("crc16", 0x29B1, 0xDEAD).IsRecoverable())
	assert.False(t, NewCryptographicError("decrypt", "bad tag").IsRecoverable())

	component := "transceiver"
	assert.False(t, NewHardwareFailure(component, 7).IsRecoverable())
}

func TestWrapAndCause(t *testing.T) {
	root := errors.New("socket reset")
	wrapped := NewCommunicationTimeout("transmit", 500).Wrap(root)

	assert.Equal(t, root, pkgerrors.Cause(wrapped))
	assert.ErrorIs(t, wrapped, wrapped)
}

func TestFieldsIncludesKindAndPayload(t *testing.T) {
	err := NewInvalidPacket("APID out of range", nil)
	fields := err.Fields()

	assert.Equal(t, "InvalidPacket", fields["error_kind"])
	assert.Equal(t, "Medium", fields["severity"])
	assert.Equal(t, false, fields["recoverable"])
	assert.Equal(t, "APID out of range", fields["reason"])
}

func TestFaultConvertsCommunicationKindsAgainstBand(t *testing.T) {
	f := NewCommunicationTimeout("transmit", 500).Fault(ids.XBand, "unused")
	assert.Equal(t, fault.KindCommunication, f.Kind)
	assert.Equal(t, ids.XBand, f.Band)

	integrity := NewIntegrityError("crc16", 0x29B1, 0xDEAD).Fault(ids.SBand, "unused")
	assert.Equal(t, fault.KindCommunication, integrity.Kind)
	assert.Equal(t, ids.SBand, integrity.Band)
	assert.Equal(t, uint32(1000), integrity.ErrorCode)
}

func TestFaultConvertsHardwareFailurePreservingItsOwnFields(t *testing.T) {
	f := NewHardwareFailure("transceiver-a", 7).Fault(ids.UhfBand, "ignored")
	assert.Equal(t, fault.KindHardware, f.Kind)
	assert.Equal(t, "transceiver-a", f.Component)
	assert.Equal(t, uint32(7), f.ErrorCode)
}

func TestFaultConvertsMemoryErrorToMemoryKind(t *testing.T) {
	size := uint64(4096)
	f := NewMemoryError(MemoryCorruptionDetected, &size).Fault(ids.SBand, "unused")
	assert.Equal(t, fault.KindMemory, f.Kind)
	assert.Equal(t, uint32(1000), f.ErrorCode)
}

func TestFaultConvertsRemainingKindsToSoftwareWithModuleFromFields(t *testing.T) {
	f := NewConfigurationError("port", "-1", "out of range").Fault(ids.SBand, "fallback")
	assert.Equal(t, fault.KindSoftware, f.Kind)
	assert.Equal(t, "port", f.Module)

	f = NewResourceExhausted("queue_slots", 95, 100).Fault(ids.SBand, "fallback")
	assert.Equal(t, fault.KindSoftware, f.Kind)
	assert.Equal(t, "fallback", f.Module)
}
