package ccsds

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16CCITTVector(t *testing.T) {
	assert.Equal(t, uint16(0x29B1), CalculateCRC([]byte("123456789")))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(maxPayloadSize)+1)
		rng.Read(payload)

		p := &SpacePacket{
			Header: PrimaryHeader{
				APID:          uint16(rng.Intn(int(maxAPID) + 1)),
				SequenceFlags: SeqUnsegmented,
				SequenceCount: uint16(rng.Intn(int(maxSeqCount) + 1)),
			},
			Payload: payload,
		}

		raw, err := Encode(p)
		require.NoError(t, err)

		decoded, err := Decode(raw, false)
		require.NoError(t, err)

		assert.Equal(t, p.Header.APID, decoded.Header.APID)
		assert.Equal(t, p.Header.SequenceCount, decoded.Header.SequenceCount)
		assert.Equal(t, p.Payload, decoded.Payload)
	}
}

func TestEncodeDecodeWithSecondaryHeaderAndCRC(t *testing.T) {
	crcPlaceholder := uint16(0)
	p := &SpacePacket{
		Header: PrimaryHeader{
			APID:          APIDCritical,
			SecHdrFlag:    true,
			SequenceFlags: SeqUnsegmented,
			SequenceCount: 42,
		},
		SecondaryHeader: &SecondaryHeader{
			TimestampNs:  1_700_000_000_000_000_000,
			MissionBytes: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		},
		Payload:      []byte{1, 2, 3, 4, 5},
		ErrorControl: &crcPlaceholder,
	}

	raw, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(raw, true)
	require.NoError(t, err)

	require.NotNil(t, decoded.SecondaryHeader)
	assert.Equal(t, p.SecondaryHeader.TimestampNs, decoded.SecondaryHeader.TimestampNs)
	assert.Equal(t, p.SecondaryHeader.MissionBytes, decoded.SecondaryHeader.MissionBytes)
	assert.Equal(t, p.Payload, decoded.Payload)
	assert.True(t, VerifyCRC(decoded))
}

func TestDecodeRejectsShortInput(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02}, false)
	assert.Error(t, err)
}

func TestDecodeRejectsNonZeroVersion(t *testing.T) {
	raw := []byte{0x20, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := Decode(raw, false)
	assert.Error(t, err)
}

func TestEncodeRejectsAPIDOverflow(t *testing.T) {
	p := &SpacePacket{Header: PrimaryHeader{APID: maxAPID + 1}}
	_, err := Encode(p)
	assert.Error(t, err)
}

func TestDecodeRejectsDeclaredLengthExceedingBuffer(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x00, 0xFF, 0xFF}
	_, err := Decode(raw, false)
	assert.Error(t, err)
}

func TestPacketIDDerivation(t *testing.T) {
	p := &SpacePacket{Header: PrimaryHeader{APID: APIDHigh, SequenceCount: 7}}
	assert.Equal(t, uint32(APIDHigh)<<16|7, p.PacketID().Value())
}

func TestVirtualChannelAccessUnitRejectsOverflow(t *testing.T) {
	packets := make([]*SpacePacket, maxPacketsPerVCAU+1)
	_, err := NewVirtualChannelAccessUnit(1, 0, packets)
	assert.Error(t, err)
}
