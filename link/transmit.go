package link

import (
	"context"

	"github.com/orbitlink/satlink/ccsds"
	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/spacecmd"
)

// ModeProvider supplies the current system-wide operational mode (driven by
// C8) at dispatch time, so a mode transition takes effect on the very next
// transmit without the scheduler needing to know about it.
type ModeProvider func() ids.OperationalMode

// SchedTransmitter adapts a Manager into the single-method shape the
// scheduler dispatches through: it is the missing C6→C3→C7 link, turning a
// built Message's serialized payload into an encoded packet before handing
// it to Manager.Transmit. Structurally satisfies the scheduler's Transmitter
// port without this package importing the scheduler.
type SchedTransmitter struct {
	manager *Manager
	mode    ModeProvider
}

// NewSchedTransmitter builds an adapter over manager. mode may be nil, in
// which case the adapter always reports ids.ModeNormal.
func NewSchedTransmitter(manager *Manager, mode ModeProvider) *SchedTransmitter {
	if mode == nil {
		mode = func() ids.OperationalMode { return ids.ModeNormal }
	}
	return &SchedTransmitter{manager: manager, mode: mode}
}

// Transmit encodes msg's serialized payload into a CCSDS Space Packet
// (§4.3) — the sole place in the repo msg.SerializedPayload is wrapped for
// the wire — and delegates to the link manager.
func (t *SchedTransmitter) Transmit(ctx context.Context, msg *spacecmd.Message) error {
	encoded, err := EncodePacket(msg)
	if err != nil {
		return err
	}
	return t.manager.Transmit(ctx, msg, encoded, t.mode())
}

// EncodePacket wraps msg's serialized command payload into a CCSDS Space
// Packet and encodes it, deriving the packet's APID from msg's priority
// (§4.3) and its sequence count from msg's own monotonically increasing ID.
// Exported so tests and alternate transports can produce the same bytes
// SchedTransmitter sends without going through a Manager.
func EncodePacket(msg *spacecmd.Message) ([]byte, error) {
	packet := &ccsds.SpacePacket{
		Header: ccsds.PrimaryHeader{
			APID:          ccsds.APIDForPriority(msg.Priority),
			SequenceFlags: ccsds.SeqUnsegmented,
			SequenceCount: ccsds.SequenceCountOf(msg.ID.Value()),
		},
		Payload: msg.SerializedPayload,
	}
	return ccsds.Encode(packet)
}
