package wire

import "encoding/binary"

// DataHeader is the fixed 17-byte header that precedes every Data payload.
// Field order and widths are fixed by the protocol and must not change.
type DataHeader struct {
	FrameID            uint32
	CaptureTimestampNs uint64
	PacketID           uint16
	TotalPackets       uint16
	IsKeyFrame         bool
}

// Encode appends the header's wire representation to dst and returns the
// extended slice.
func (h DataHeader) Encode(dst []byte) []byte {
	var buf [DataHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.FrameID)
	binary.BigEndian.PutUint64(buf[4:12], h.CaptureTimestampNs)
	binary.BigEndian.PutUint16(buf[12:14], h.PacketID)
	binary.BigEndian.PutUint16(buf[14:16], h.TotalPackets)
	if h.IsKeyFrame {
		buf[16] = 1
	}
	return append(dst, buf[:]...)
}

// DecodeDataHeader parses a DataHeader from the front of buf, returning the
// header and the remainder of buf (the payload).
func DecodeDataHeader(buf []byte) (DataHeader, []byte, error) {
	if len(buf) < DataHeaderSize {
		return DataHeader{}, nil, ErrMalformedHeader
	}
	h := DataHeader{
		FrameID:            binary.BigEndian.Uint32(buf[0:4]),
		CaptureTimestampNs: binary.BigEndian.Uint64(buf[4:12]),
		PacketID:           binary.BigEndian.Uint16(buf[12:14]),
		TotalPackets:       binary.BigEndian.Uint16(buf[14:16]),
		IsKeyFrame:         buf[16] != 0,
	}
	return h, buf[DataHeaderSize:], nil
}

// AckPacket acknowledges full receipt of a key frame.
type AckPacket struct {
	FrameID uint32
}

// Encode appends the ack body's wire representation to dst.
func (a AckPacket) Encode(dst []byte) []byte {
	var buf [AckSize]byte
	binary.BigEndian.PutUint32(buf[:], a.FrameID)
	return append(dst, buf[:]...)
}

// DecodeAckPacket parses an AckPacket body from buf.
func DecodeAckPacket(buf []byte) (AckPacket, error) {
	if len(buf) < AckSize {
		return AckPacket{}, ErrMalformedHeader
	}
	return AckPacket{FrameID: binary.BigEndian.Uint32(buf[:AckSize])}, nil
}

// BuildDataDatagram constructs a complete [tag][header][chunk] datagram.
func BuildDataDatagram(h DataHeader, chunk []byte) []byte {
	out := make([]byte, 0, 1+DataHeaderSize+len(chunk))
	out = append(out, byte(TypeData))
	out = h.Encode(out)
	out = append(out, chunk...)
	return out
}

// BuildAckDatagram constructs a complete [tag][frame_id] ack datagram.
func BuildAckDatagram(frameID uint32) []byte {
	out := make([]byte, 0, 1+AckSize)
	out = append(out, byte(TypeAck))
	out = AckPacket{FrameID: frameID}.Encode(out)
	return out
}

// BuildIFrameRequestDatagram constructs the single-byte IFrameRequest
// datagram; it carries no body.
func BuildIFrameRequestDatagram() []byte {
	return []byte{byte(TypeIFrameRequest)}
}

// BuildParameterSetDatagram constructs a [tag][blob] ParameterSet datagram.
// The blob is an opaque Annex-B byte stream; no internal framing is added.
func BuildParameterSetDatagram(blob []byte) []byte {
	out := make([]byte, 0, 1+len(blob))
	out = append(out, byte(TypeParameterSet))
	out = append(out, blob...)
	return out
}

// DecodeDataDatagram splits a full Data datagram (including its leading tag
// byte) into header and payload. Callers are expected to have already
// classified the tag byte.
func DecodeDataDatagram(datagram []byte) (DataHeader, []byte, error) {
	if len(datagram) < 1 {
		return DataHeader{}, nil, ErrMalformedHeader
	}
	return DecodeDataHeader(datagram[1:])
}

// DecodeAckDatagram splits a full Ack datagram (including its leading tag
// byte) into its AckPacket.
func DecodeAckDatagram(datagram []byte) (AckPacket, error) {
	if len(datagram) < 1 {
		return AckPacket{}, ErrMalformedHeader
	}
	return DecodeAckPacket(datagram[1:])
}

// DecodeParameterSetDatagram returns the opaque blob carried by a
// ParameterSet datagram (including its leading tag byte).
func DecodeParameterSetDatagram(datagram []byte) ([]byte, error) {
	if len(datagram) < 1 {
		return nil, ErrMalformedHeader
	}
	return datagram[1:], nil
}
