// Package ccsds implements the CCSDS Space Packet primary/secondary header
// codec: a bit-exact, big-endian wire format with a CRC-16-CCITT trailer,
// encoded and decoded with teacher-style cursor-mutating Append*/Decode*
// helpers over a byte slice.
package ccsds

import (
	"encoding/binary"

	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/xerr"
)

// SequenceFlags classifies a packet's position within a segmented group.
type SequenceFlags uint8

const (
	SeqContinuation SequenceFlags = 0b00
	SeqFirstSegment SequenceFlags = 0b01
	SeqLastSegment  SequenceFlags = 0b10
	SeqUnsegmented  SequenceFlags = 0b11
)

// APID values assigned by priority (stable, §4.3). TelemetryAPID is used
// for packets that are not priority-routed commands.
const (
	APIDEmergency  uint16 = 0x001
	APIDCritical   uint16 = 0x002
	APIDHigh       uint16 = 0x003
	APIDMedium     uint16 = 0x004
	APIDLow        uint16 = 0x005
	TelemetryAPID  uint16 = 0x100
	maxAPID        uint16 = 0x7FF
	maxSeqCount    uint16 = 0x3FFF
	maxPayloadSize        = 2048
	primaryHeaderSize     = 6
	secondaryTimestampLen = 8
	secondaryMissionMax   = 64
	crcSize               = 2
)

// PrimaryHeader is the fixed 6-byte CCSDS Space Packet header.
type PrimaryHeader struct {
	Version        uint8 // always 0, 3 bits
	Type           uint8 // 1 bit
	SecHdrFlag     bool  // 1 bit
	APID           uint16 // 11 bits
	SequenceFlags  SequenceFlags // 2 bits
	SequenceCount  uint16 // 14 bits
	DataLength     uint16 // stores len(remaining bytes) - 1
}

// SecondaryHeader carries an 8-byte big-endian nanosecond timestamp and up
// to 64 bytes of mission-specific bytes, per §4.3.
type SecondaryHeader struct {
	TimestampNs  uint64
	MissionBytes []byte
}

// SpacePacket is the full decoded packet value: header, optional secondary
// header, payload, and optional CRC-16 trailer.
type SpacePacket struct {
	Header          PrimaryHeader
	SecondaryHeader *SecondaryHeader
	Payload         []byte
	ErrorControl    *uint16
}

// PacketID derives a stable identifier for logging and for InvalidPacket's
// optional packet_id field: (apid<<16)|sequence_count.
func (p *SpacePacket) PacketID() ids.PacketId {
	return ids.NewPacketId(p.Header.APID, p.Header.SequenceCount)
}

// APIDForPriority maps a message priority to its assigned APID (§4.3), the
// C4→C3 wiring step that picks which priority-routed APID a built command's
// packet carries.
func APIDForPriority(p ids.MessagePriority) uint16 {
	switch p {
	case ids.PriorityEmergency:
		return APIDEmergency
	case ids.PriorityCritical:
		return APIDCritical
	case ids.PriorityHigh:
		return APIDHigh
	case ids.PriorityMedium:
		return APIDMedium
	default:
		return APIDLow
	}
}

// SequenceCountOf truncates a monotonically increasing id (e.g. a
// MessageId) to the 14-bit sequence-count field's range.
func SequenceCountOf(id uint64) uint16 {
	return uint16(id & uint64(maxSeqCount))
}

// cursor is the Append*/Decode* mutating encoder/decoder, grounded on the
// teacher's ASDU codec idiom but big-endian throughout as CCSDS requires.
type cursor struct {
	buf []byte
}

func (c *cursor) AppendUint16(v uint16) *cursor {
	c.buf = append(c.buf, byte(v>>8), byte(v))
	return c
}

func (c *cursor) AppendUint64(v uint64) *cursor {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	c.buf = append(c.buf, b[:]...)
	return c
}

func (c *cursor) AppendBytes(b ...byte) *cursor {
	c.buf = append(c.buf, b...)
	return c
}

func (c *cursor) DecodeUint16() uint16 {
	v := binary.BigEndian.Uint16(c.buf)
	c.buf = c.buf[2:]
	return v
}

func (c *cursor) DecodeUint64() uint64 {
	v := binary.BigEndian.Uint64(c.buf)
	c.buf = c.buf[8:]
	return v
}

func (c *cursor) DecodeBytes(n int) []byte {
	v := c.buf[:n]
	c.buf = c.buf[n:]
	return v
}

func (c *cursor) DecodeByte() byte {
	v := c.buf[0]
	c.buf = c.buf[1:]
	return v
}

// Encode serialises p into its wire-byte form. CRC, if present, is
// recomputed over the header/secondary-header/payload bytes rather than
// trusted from ErrorControl.
func Encode(p *SpacePacket) ([]byte, error) {
	if p.Header.APID > maxAPID {
		return nil, xerr.NewInvalidPacket("APID exceeds 0x7FF", nil)
	}
	if p.Header.SequenceCount > maxSeqCount {
		return nil, xerr.NewInvalidPacket("sequence count exceeds 0x3FFF", nil)
	}
	if len(p.Payload) > maxPayloadSize {
		return nil, xerr.NewInvalidPacket("payload exceeds 2048 bytes", nil)
	}
	if p.SecondaryHeader != nil && len(p.SecondaryHeader.MissionBytes) > secondaryMissionMax {
		return nil, xerr.NewInvalidPacket("secondary header mission bytes exceed 64 bytes", nil)
	}

	var body cursor
	if p.SecondaryHeader != nil {
		body.AppendUint64(p.SecondaryHeader.TimestampNs)
		body.AppendBytes(byte(len(p.SecondaryHeader.MissionBytes)))
		body.AppendBytes(p.SecondaryHeader.MissionBytes...)
	}
	body.AppendBytes(p.Payload...)

	dataLength := len(body.buf) - 1
	if p.ErrorControl != nil {
		dataLength += crcSize
	}
	if dataLength < 0 || dataLength > 0xFFFF {
		return nil, xerr.NewInvalidPacket("data length overflows 16 bits", nil)
	}

	var typeBit, secBit uint16
	if p.Header.Type != 0 {
		typeBit = 1
	}
	if p.Header.SecHdrFlag {
		secBit = 1
	}
	word0 := (uint16(p.Header.Version) << 13) | (typeBit << 12) | (secBit << 11) | p.Header.APID
	word1 := (uint16(p.Header.SequenceFlags) << 14) | p.Header.SequenceCount

	var out cursor
	out.AppendUint16(word0)
	out.AppendUint16(word1)
	out.AppendUint16(uint16(dataLength))
	out.AppendBytes(body.buf...)

	if p.ErrorControl != nil {
		crc := CalculateCRC(out.buf)
		out.AppendUint16(crc)
	}

	return out.buf, nil
}

// Decode parses raw into a SpacePacket. Secondary-header presence is read
// from the sec-hdr-flag bit; hasCRC tells the decoder whether the body ends
// in a 2-byte CRC trailer, since CRC presence is a link convention and is
// not encoded in the 6-byte primary header.
func Decode(raw []byte, hasCRC bool) (*SpacePacket, error) {
	if len(raw) < primaryHeaderSize {
		return nil, xerr.NewInvalidPacket("packet shorter than 6-byte primary header", nil)
	}

	c := cursor{buf: raw}
	word0 := c.DecodeUint16()
	word1 := c.DecodeUint16()
	dataLength := c.DecodeUint16()

	version := uint8(word0 >> 13 & 0b111)
	if version != 0 {
		return nil, xerr.NewInvalidPacket("version field must be 0", nil)
	}
	apid := word0 & maxAPID
	if apid > maxAPID {
		return nil, xerr.NewInvalidPacket("APID exceeds 0x7FF", nil)
	}
	typeBit := uint8(word0 >> 12 & 0b1)
	secHdrFlag := (word0>>11)&0b1 == 1
	seqFlags := SequenceFlags(word1 >> 14 & 0b11)
	seqCount := word1 & maxSeqCount

	totalBodyLen := int(dataLength) + 1
	if len(c.buf) < totalBodyLen {
		pid := (uint32(apid) << 16) | uint32(seqCount)
		return nil, xerr.NewInvalidPacket("declared length exceeds buffer", &pid)
	}

	body := c.buf[:totalBodyLen]
	var errorControl *uint16
	if hasCRC {
		if len(body) < crcSize {
			return nil, xerr.NewInvalidPacket("declared length too short for CRC trailer", nil)
		}
		crc := binary.BigEndian.Uint16(body[len(body)-crcSize:])
		errorControl = &crc
		body = body[:len(body)-crcSize]
	}

	bc := cursor{buf: body}
	var secondary *SecondaryHeader
	if secHdrFlag {
		if len(bc.buf) < secondaryTimestampLen+1 {
			return nil, xerr.NewInvalidPacket("declared length too short for secondary header", nil)
		}
		ts := bc.DecodeUint64()
		missionLen := int(bc.DecodeByte())
		if missionLen > secondaryMissionMax || len(bc.buf) < missionLen {
			return nil, xerr.NewInvalidPacket("secondary header mission length invalid", nil)
		}
		mission := append([]byte(nil), bc.DecodeBytes(missionLen)...)
		secondary = &SecondaryHeader{TimestampNs: ts, MissionBytes: mission}
	}
	payload := append([]byte(nil), bc.buf...)

	p := &SpacePacket{
		Header: PrimaryHeader{
			Version:       version,
			Type:          typeBit,
			SecHdrFlag:    secHdrFlag,
			APID:          apid,
			SequenceFlags: seqFlags,
			SequenceCount: seqCount,
			DataLength:    dataLength,
		},
		SecondaryHeader: secondary,
		Payload:         payload,
		ErrorControl:    errorControl,
	}
	return p, nil
}

// crcTable is the CRC-16-CCITT (polynomial 0x1021, no reflection) lookup
// table, computed once at package init.
var crcTable = buildCRCTable()

func buildCRCTable() [256]uint16 {
	var table [256]uint16
	const poly uint16 = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateCRC computes the CRC-16-CCITT (init 0xFFFF, no reflection, no
// final XOR) over data. The required test vector is
// CalculateCRC([]byte("123456789")) == 0x29B1.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// VerifyCRC reports whether p's ErrorControl matches the CRC recomputed
// over its header/secondary-header/payload bytes. Returns false if p has
// no ErrorControl.
func VerifyCRC(p *SpacePacket) bool {
	if p.ErrorControl == nil {
		return false
	}
	encoded, err := Encode(p)
	if err != nil {
		return false
	}
	return CalculateCRC(encoded[:len(encoded)-crcSize]) == *p.ErrorControl
}

// VirtualChannelAccessUnit groups up to 8 SpacePackets under a shared
// master/virtual channel ID and frame sequence number — a minimal slice of
// CCSDS Space Data Link Protocol framing, not a full AOS/TM frame.
type VirtualChannelAccessUnit struct {
	VirtualChannelID uint8
	FrameSequence    uint32
	Packets          []*SpacePacket
}

const maxPacketsPerVCAU = 8

// NewVirtualChannelAccessUnit groups packets into a single access unit.
func NewVirtualChannelAccessUnit(vcid uint8, frameSeq uint32, packets []*SpacePacket) (*VirtualChannelAccessUnit, error) {
	if len(packets) > maxPacketsPerVCAU {
		return nil, xerr.NewInvalidPacket("virtual channel access unit exceeds 8 packets", nil)
	}
	return &VirtualChannelAccessUnit{
		VirtualChannelID: vcid,
		FrameSequence:    frameSeq,
		Packets:          packets,
	}, nil
}
