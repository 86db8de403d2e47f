package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	cases := []DataHeader{
		{FrameID: 0, CaptureTimestampNs: 0, PacketID: 0, TotalPackets: 1, IsKeyFrame: false},
		{FrameID: 7, CaptureTimestampNs: 123, PacketID: 0, TotalPackets: 1, IsKeyFrame: false},
		{FrameID: 10, CaptureTimestampNs: 9876543210, PacketID: 2, TotalPackets: 3, IsKeyFrame: true},
		{FrameID: 0xFFFFFFFF, CaptureTimestampNs: 0xFFFFFFFFFFFFFFFF, PacketID: 0xFFFF, TotalPackets: 0xFFFF, IsKeyFrame: true},
	}
	for _, h := range cases {
		encoded := h.Encode(nil)
		require.Len(t, encoded, DataHeaderSize)
		decoded, rest, err := DecodeDataHeader(encoded)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, h, decoded)
	}
}

func TestDecodeDataHeaderTooShort(t *testing.T) {
	_, _, err := DecodeDataHeader(make([]byte, DataHeaderSize-1))
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestAckPacketRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 42, 0xFFFFFFFF} {
		encoded := AckPacket{FrameID: id}.Encode(nil)
		require.Len(t, encoded, AckSize)
		decoded, err := DecodeAckPacket(encoded)
		require.NoError(t, err)
		assert.Equal(t, AckPacket{FrameID: id}, decoded)
	}
}

func TestDecodeAckPacketTooShort(t *testing.T) {
	_, err := DecodeAckPacket([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestBuildAndDecodeDataDatagram(t *testing.T) {
	h := DataHeader{FrameID: 10, CaptureTimestampNs: 999, PacketID: 1, TotalPackets: 3, IsKeyFrame: true}
	chunk := []byte("some encoded bytes")
	datagram := BuildDataDatagram(h, chunk)

	typ, err := Classify(datagram)
	require.NoError(t, err)
	assert.Equal(t, TypeData, typ)

	decodedHeader, payload, err := DecodeDataDatagram(datagram)
	require.NoError(t, err)
	assert.Equal(t, h, decodedHeader)
	assert.Equal(t, chunk, payload)
}

func TestBuildAndDecodeAckDatagram(t *testing.T) {
	datagram := BuildAckDatagram(55)
	typ, err := Classify(datagram)
	require.NoError(t, err)
	assert.Equal(t, TypeAck, typ)

	ack, err := DecodeAckDatagram(datagram)
	require.NoError(t, err)
	assert.Equal(t, AckPacket{FrameID: 55}, ack)
}

func TestIFrameRequestDatagram(t *testing.T) {
	datagram := BuildIFrameRequestDatagram()
	typ, err := Classify(datagram)
	require.NoError(t, err)
	assert.Equal(t, TypeIFrameRequest, typ)
	assert.Len(t, datagram, 1)
}

func TestParameterSetDatagramRoundTrip(t *testing.T) {
	blob := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1f}
	datagram := BuildParameterSetDatagram(blob)
	typ, err := Classify(datagram)
	require.NoError(t, err)
	assert.Equal(t, TypeParameterSet, typ)

	decoded, err := DecodeParameterSetDatagram(datagram)
	require.NoError(t, err)
	assert.Equal(t, blob, decoded)
}

func TestClassifyEmptyAndUnknown(t *testing.T) {
	_, err := Classify(nil)
	assert.ErrorIs(t, err, ErrEmptyBuffer)

	_, err = Classify([]byte{99})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "Data", TypeData.String())
	assert.Equal(t, "Ack", TypeAck.String())
	assert.Equal(t, "IFrameRequest", TypeIFrameRequest.String())
	assert.Equal(t, "ParameterSet", TypeParameterSet.String())
	assert.Equal(t, "Unknown", PacketType(200).String())
}
