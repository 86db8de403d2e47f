// Package fragment splits an encoded video frame into ordered datagrams
// sized to fit within the protocol's MAX_PAYLOAD_SIZE.
package fragment

import (
	"errors"

	"github.com/framebridge/camlink/pkg/wire"
)

// ErrEmptyFrame is returned when asked to fragment a zero-length frame.
var ErrEmptyFrame = errors.New("fragment: empty frame")

// Datagram pairs a fragment's header with its already-serialized wire bytes,
// ready for transmission or caching for retransmission.
type Datagram struct {
	Header DataHeader
	Bytes  []byte
}

// DataHeader is a type alias re-exporting wire.DataHeader so callers of
// this package never need to import wire directly just to read back
// PacketID/TotalPackets from a Split result.
type DataHeader = wire.DataHeader

// Split partitions frame into an ordered sequence of Data datagrams, each
// carrying at most wire.MaxPayloadSize bytes of payload. total_packets is
// ceil(len(frame)/MaxPayloadSize); packet ids run 0..total_packets-1.
//
// An empty frame is rejected: the protocol has no representation for a
// zero-fragment frame.
func Split(frame []byte, frameID uint32, isKeyFrame bool, captureTimestampNs uint64) ([]Datagram, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	totalPackets := (len(frame) + wire.MaxPayloadSize - 1) / wire.MaxPayloadSize
	datagrams := make([]Datagram, 0, totalPackets)

	for i := 0; i < totalPackets; i++ {
		start := i * wire.MaxPayloadSize
		end := start + wire.MaxPayloadSize
		if end > len(frame) {
			end = len(frame)
		}
		header := wire.DataHeader{
			FrameID:            frameID,
			CaptureTimestampNs: captureTimestampNs,
			PacketID:           uint16(i),
			TotalPackets:       uint16(totalPackets),
			IsKeyFrame:         isKeyFrame,
		}
		datagrams = append(datagrams, Datagram{
			Header: header,
			Bytes:  wire.BuildDataDatagram(header, frame[start:end]),
		})
	}

	return datagrams, nil
}
