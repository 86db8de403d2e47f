// Package receiver implements the receiving half of the camlink transport:
// a single dispatch loop that reassembles frames, injects cached parameter
// sets ahead of key frames, acknowledges key frames, and drives recovery
// via IFrameRequest when frames or peers go stale.
package receiver

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/framebridge/camlink/pkg/hostapi"
	"github.com/framebridge/camlink/pkg/logger"
	"github.com/framebridge/camlink/pkg/protoerr"
	"github.com/framebridge/camlink/pkg/reassembly"
	"github.com/framebridge/camlink/pkg/wire"
)

// Transport is the minimal socket surface the receiver needs.
// *net.UDPConn satisfies it; tests supply a fake.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	SetReadDeadline(t time.Time) error
}

// Config tunes the receiver's timers and parameter-set injection budget.
// Zero values select the protocol's reference defaults.
type Config struct {
	FrameTimeout          time.Duration
	SweepInterval         time.Duration
	ReadIdleTimeout       time.Duration
	ParameterInjectBudget int
	LatencyWindow         int
}

func (c Config) withDefaults() Config {
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = reassembly.DefaultFrameTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 1 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 200 * time.Millisecond
	}
	if c.ParameterInjectBudget <= 0 {
		c.ParameterInjectBudget = 3
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = DefaultLatencyWindow
	}
	return c
}

// Receiver is an instantiable receiver state machine. Callers construct
// one per incoming stream; there is no package-level global state.
type Receiver struct {
	transport Transport
	registry  *reassembly.Registry
	sink      hostapi.FrameSink
	cfg       Config
	log       *logger.Logger
	latency   *LatencyTracker

	peerAddr      net.Addr
	seenAnyPacket bool
	parameterBlob []byte
	injectBudget  int
}

// New constructs a Receiver delivering completed frames to sink.
func New(transport Transport, sink hostapi.FrameSink, cfg Config, log *logger.Logger) *Receiver {
	if log == nil {
		log = logger.Default()
	}
	cfg = cfg.withDefaults()
	return &Receiver{
		transport: transport,
		registry:  reassembly.New(cfg.FrameTimeout),
		sink:      sink,
		cfg:       cfg,
		log:       log.WithStr("session_id", uuid.NewString()),
		latency:   NewLatencyTracker(cfg.LatencyWindow),
	}
}

// Stats exposes the rolling latency window: sample count and average
// arrival-minus-capture latency in nanoseconds.
func (r *Receiver) Stats() (count int, averageLatencyNs int64) {
	return r.latency.Stats()
}

// Run drives the single-threaded dispatch loop until ctx-like stop channel
// closes. Stop is a channel the caller closes to request shutdown; Run
// returns once the current read completes.
func (r *Receiver) Run(stop <-chan struct{}) {
	buf := make([]byte, wire.MaxDatagramSize)
	nextSweep := time.Now().Add(r.cfg.SweepInterval)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = r.transport.SetReadDeadline(time.Now().Add(r.cfg.ReadIdleTimeout))
		n, addr, err := r.transport.ReadFrom(buf)
		now := time.Now()

		if err == nil {
			r.handleDatagram(buf[:n], addr, now)
		}

		if now.After(nextSweep) {
			r.runSweep(now)
			nextSweep = now.Add(r.cfg.SweepInterval)
		}
	}
}

func (r *Receiver) handleDatagram(datagram []byte, addr net.Addr, now time.Time) {
	r.checkPeerChange(addr)

	if !r.seenAnyPacket {
		r.seenAnyPacket = true
		r.sendIFrameRequest(addr)
	}

	typ, err := wire.Classify(datagram)
	if err != nil {
		r.log.Debug("dropping malformed datagram", "peer", addrString(addr), "reason", protoerr.ErrMalformedPacket.Error())
		return
	}

	switch typ {
	case wire.TypeData:
		r.handleData(datagram, addr, now)
	case wire.TypeParameterSet:
		r.handleParameterSet(datagram)
	case wire.TypeAck, wire.TypeIFrameRequest:
		// The receiver never originates acks-to-itself or expects
		// i-frame requests on this socket; ignore defensively.
	}
}

// checkPeerChange detects a change of source address (for example, a sender
// restart picking a new ephemeral port) and resets all stream state: the
// partial-frame registry is flushed, the downstream decoder is expected to
// restart on the next key frame, and a fresh IFrameRequest is issued.
func (r *Receiver) checkPeerChange(addr net.Addr) {
	if r.peerAddr != nil && addrString(addr) == addrString(r.peerAddr) {
		return
	}
	changed := r.peerAddr != nil
	r.peerAddr = addr
	if changed {
		r.log.Info("peer address changed, resetting stream state", "peer", addrString(addr))
		r.registry = reassembly.New(r.cfg.FrameTimeout)
		r.parameterBlob = nil
		r.injectBudget = 0
		r.sendIFrameRequest(addr)
	}
}

func (r *Receiver) handleParameterSet(datagram []byte) {
	blob, err := wire.DecodeParameterSetDatagram(datagram)
	if err != nil {
		return
	}
	if r.parameterBlob == nil || !bytes.Equal(r.parameterBlob, blob) {
		r.parameterBlob = append([]byte(nil), blob...)
		r.injectBudget = r.cfg.ParameterInjectBudget
	} else {
		r.parameterBlob = append([]byte(nil), blob...)
	}
}

func (r *Receiver) handleData(datagram []byte, addr net.Addr, now time.Time) {
	header, payload, err := wire.DecodeDataDatagram(datagram)
	if err != nil {
		r.log.Debug("malformed data datagram")
		return
	}

	result := r.registry.Ingest(header, payload, now)
	switch result.Outcome {
	case reassembly.Completed:
		r.deliverFrame(result, addr, now)
	case reassembly.ZeroLengthFrame:
		r.log.Warn("dropping zero-length completed frame", "frame_id", header.FrameID, "reason", protoerr.ErrZeroLengthFrame.Error())
	case reassembly.InvalidPacketID:
		r.log.Debug("invalid packet id", "frame_id", header.FrameID, "packet_id", header.PacketID, "reason", protoerr.ErrInvalidPacketID.Error())
	case reassembly.DuplicateIgnored, reassembly.Stored:
		// nothing to do
	}
}

func (r *Receiver) deliverFrame(result reassembly.IngestResult, addr net.Addr, now time.Time) {
	frame := result.Frame
	if result.IsKeyFrame && r.parameterBlob != nil && r.injectBudget > 0 {
		combined := make([]byte, 0, len(r.parameterBlob)+len(frame))
		combined = append(combined, r.parameterBlob...)
		combined = append(combined, frame...)
		frame = combined
		r.injectBudget--
	}

	if result.CaptureTimestampNs > 0 {
		latency := now.UnixNano() - int64(result.CaptureTimestampNs)
		r.latency.Record(latency)
	}

	if r.sink != nil {
		if err := r.sink.PushFrame(frame, result.IsKeyFrame, result.CaptureTimestampNs); err != nil {
			r.log.Error(fmt.Errorf("%w: %v", protoerr.ErrSinkFailed, err), "sink rejected frame")
		}
	}

	if result.IsKeyFrame {
		r.sendAck(addr, result.FrameID)
	}
}

// sendAck transmits an Ack for frameID back to addr. It runs synchronously
// in the dispatch loop; a failed send is logged, not retried, since the
// sender's own retransmitter loop will re-send the key frame on timeout.
func (r *Receiver) sendAck(addr net.Addr, frameID uint32) {
	if _, err := r.transport.WriteTo(wire.BuildAckDatagram(frameID), addr); err != nil {
		r.log.Warn("failed to send ack", "frame_id", frameID, "peer", addrString(addr))
	}
}

func (r *Receiver) sendIFrameRequest(addr net.Addr) {
	if addr == nil {
		return
	}
	if _, err := r.transport.WriteTo(wire.BuildIFrameRequestDatagram(), addr); err != nil {
		r.log.Warn("failed to send i-frame request", "peer", addrString(addr))
	}
}

func (r *Receiver) runSweep(now time.Time) {
	expired := r.registry.Sweep(now)
	for _, e := range expired {
		if e.IsKeyFrame {
			continue
		}
		r.log.Debug("non-key frame expired, requesting key frame", "frame_id", e.FrameID)
		r.sendIFrameRequest(r.peerAddr)
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
