// Package reassembly reconstructs encoded video frames from out-of-order,
// possibly-duplicated Data datagrams, and sweeps away partial frames that
// never complete.
package reassembly

import (
	"sync"
	"time"

	"github.com/framebridge/camlink/pkg/wire"
)

// Outcome classifies the result of ingesting a single Data datagram.
type Outcome int

const (
	// Stored means the packet filled a previously-empty slot but the frame
	// is not yet complete.
	Stored Outcome = iota
	// Completed means this packet was the last missing fragment; Frame,
	// IsKeyFrame and CaptureTimestampNs on the IngestResult are populated.
	Completed
	// DuplicateIgnored means the slot at this packet id was already filled.
	DuplicateIgnored
	// InvalidPacketID means packet_id >= total_packets for this frame.
	InvalidPacketID
	// ZeroLengthFrame means every fragment arrived but the reassembled
	// frame has length 0; the frame is dropped rather than delivered.
	ZeroLengthFrame
)

// IngestResult is returned by Registry.Ingest.
type IngestResult struct {
	Outcome            Outcome
	FrameID            uint32
	Frame              []byte
	IsKeyFrame         bool
	CaptureTimestampNs uint64
}

// ExpiredFrame describes a partial frame removed by Sweep because it sat
// unfinished longer than the configured timeout.
type ExpiredFrame struct {
	FrameID            uint32
	IsKeyFrame         bool
	CaptureTimestampNs uint64
	ReceivedCount      int
	TotalPackets       int
}

type slot struct {
	totalPackets       int
	isKeyFrame         bool
	captureTimestampNs uint64
	chunks             [][]byte
	receivedCount      int
	lastSeen           time.Time
}

// DefaultFrameTimeout is the reference value from the protocol: a partial
// frame older than this is considered abandoned.
const DefaultFrameTimeout = 5 * time.Second

// Registry tracks in-flight partial frames keyed by frame id. It is safe
// for concurrent use.
type Registry struct {
	mu           sync.Mutex
	slots        map[uint32]*slot
	frameTimeout time.Duration
}

// New constructs a Registry. A zero frameTimeout selects DefaultFrameTimeout.
func New(frameTimeout time.Duration) *Registry {
	if frameTimeout <= 0 {
		frameTimeout = DefaultFrameTimeout
	}
	return &Registry{
		slots:        make(map[uint32]*slot),
		frameTimeout: frameTimeout,
	}
}

// Ingest folds one Data datagram's header and payload into the registry.
// now is the caller-supplied wall clock time, allowing tests to control
// time without sleeping.
func (r *Registry) Ingest(header wire.DataHeader, payload []byte, now time.Time) IngestResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if header.PacketID >= header.TotalPackets {
		return IngestResult{Outcome: InvalidPacketID}
	}

	s, ok := r.slots[header.FrameID]
	if !ok {
		s = &slot{
			totalPackets:       int(header.TotalPackets),
			isKeyFrame:         header.IsKeyFrame,
			captureTimestampNs: header.CaptureTimestampNs,
			chunks:             make([][]byte, header.TotalPackets),
		}
		r.slots[header.FrameID] = s
	}
	s.lastSeen = now

	if s.chunks[header.PacketID] != nil {
		return IngestResult{Outcome: DuplicateIgnored}
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.chunks[header.PacketID] = stored
	s.receivedCount++

	if s.receivedCount < s.totalPackets {
		return IngestResult{Outcome: Stored}
	}

	frame := make([]byte, 0, len(payload)*s.totalPackets)
	for _, chunk := range s.chunks {
		frame = append(frame, chunk...)
	}
	delete(r.slots, header.FrameID)

	if len(frame) == 0 {
		return IngestResult{Outcome: ZeroLengthFrame, FrameID: header.FrameID}
	}

	return IngestResult{
		Outcome:            Completed,
		FrameID:            header.FrameID,
		Frame:              frame,
		IsKeyFrame:         s.isKeyFrame,
		CaptureTimestampNs: s.captureTimestampNs,
	}
}

// Sweep removes every partial frame whose last activity precedes
// now.Add(-frameTimeout), returning them for recovery handling (for example
// issuing an IFrameRequest for an expired non-key frame).
func (r *Registry) Sweep(now time.Time) []ExpiredFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []ExpiredFrame
	for frameID, s := range r.slots {
		if now.Sub(s.lastSeen) > r.frameTimeout {
			expired = append(expired, ExpiredFrame{
				FrameID:            frameID,
				IsKeyFrame:         s.isKeyFrame,
				CaptureTimestampNs: s.captureTimestampNs,
				ReceivedCount:      s.receivedCount,
				TotalPackets:       s.totalPackets,
			})
			delete(r.slots, frameID)
		}
	}
	return expired
}

// Len reports the number of partial frames currently tracked. Primarily
// useful for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
