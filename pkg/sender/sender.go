// Package sender implements the sending half of the camlink transport: it
// allocates frame ids, fragments and transmits encoded frames, retransmits
// unacknowledged key frames, and services incoming control packets.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/framebridge/camlink/pkg/fragment"
	"github.com/framebridge/camlink/pkg/hostapi"
	"github.com/framebridge/camlink/pkg/logger"
	"github.com/framebridge/camlink/pkg/protoerr"
	"github.com/framebridge/camlink/pkg/wire"
)

// ErrClosed is returned by SendFrame and SendParameterSet once the sender
// has been closed.
var ErrClosed = errors.New("sender: closed")

// Transport is the minimal socket surface the sender needs. *net.UDPConn
// satisfies it; tests supply a fake.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Config tunes the sender's reliability loop. Zero values select the
// protocol's reference defaults.
type Config struct {
	RetransmissionTimeout time.Duration
	MaxRetries            int
	RetransmitTick        time.Duration
	ControlIdleSleep      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetransmissionTimeout <= 0 {
		c.RetransmissionTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetransmitTick <= 0 {
		c.RetransmitTick = 200 * time.Millisecond
	}
	if c.ControlIdleSleep <= 0 {
		c.ControlIdleSleep = 10 * time.Millisecond
	}
	return c
}

type unackedEntry struct {
	datagrams [][]byte
	sentAt    time.Time
	retries   int
}

// Sender is an instantiable sender state machine. Callers construct one
// per outgoing stream; there is no package-level global state.
type Sender struct {
	transport Transport
	peerAddr  net.Addr
	cfg       Config
	log       *logger.Logger
	requester hostapi.KeyFrameRequester
	sessionID string

	frameID uint32 // atomic, wraps on overflow

	unackedMu     sync.Mutex
	unackedFrames map[uint32]*unackedEntry

	ackedMu     sync.Mutex
	ackedFrames map[uint32]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Sender that transmits to peerAddr over transport and
// invokes requester when an IFrameRequest control packet arrives.
func New(transport Transport, peerAddr net.Addr, requester hostapi.KeyFrameRequester, cfg Config, log *logger.Logger) *Sender {
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		transport:     transport,
		peerAddr:      peerAddr,
		cfg:           cfg.withDefaults(),
		log:           log.WithStr("session_id", uuid.NewString()),
		requester:     requester,
		unackedFrames: make(map[uint32]*unackedEntry),
		ackedFrames:   make(map[uint32]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	return s
}

// Start launches the control listener and retransmitter background loops.
func (s *Sender) Start() {
	s.wg.Add(2)
	go s.controlListenerLoop()
	go s.retransmitterLoop()
}

// Close stops the background loops and waits for them to exit. It does not
// close the transport itself, since callers may own it beyond the
// Sender's lifetime.
func (s *Sender) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// nextFrameID returns the next frame id, wrapping at 2^32 per the
// protocol's monotonic-modulo-wraparound rule.
func (s *Sender) nextFrameID() uint32 {
	return atomic.AddUint32(&s.frameID, 1) - 1
}

// SendFrame fragments and transmits frame synchronously in the caller's
// goroutine. Key frames are additionally cached for retransmission until
// acknowledged or retries are exhausted. A send error aborts the remaining
// chunks of this frame but never propagates past logging, matching the
// fire-and-forget transmission model used for P-frames.
func (s *Sender) SendFrame(frame []byte, isKeyFrame bool, captureTimestampNs uint64) (uint32, error) {
	select {
	case <-s.ctx.Done():
		return 0, ErrClosed
	default:
	}

	frameID := s.nextFrameID()
	datagrams, err := fragment.Split(frame, frameID, isKeyFrame, captureTimestampNs)
	if err != nil {
		return frameID, err
	}

	var sendErr error
	for _, d := range datagrams {
		if _, werr := s.transport.WriteTo(d.Bytes, s.peerAddr); werr != nil {
			sendErr = fmt.Errorf("%w: %v", protoerr.ErrTransmitFailed, werr)
			s.log.Error(sendErr, "transmit failed", "frame_id", frameID, "packet_id", d.Header.PacketID)
			break
		}
	}

	if isKeyFrame {
		raw := make([][]byte, len(datagrams))
		for i, d := range datagrams {
			raw[i] = d.Bytes
		}
		s.unackedMu.Lock()
		s.unackedFrames[frameID] = &unackedEntry{datagrams: raw, sentAt: time.Now(), retries: 0}
		s.unackedMu.Unlock()
	}

	return frameID, nil
}

// SendParameterSet transmits an SPS/PPS blob as a ParameterSet datagram.
// Parameter sets are not retransmitted; the receiver re-requests a key
// frame (and implicitly a fresh parameter set) on loss.
func (s *Sender) SendParameterSet(blob []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	default:
	}
	_, err := s.transport.WriteTo(wire.BuildParameterSetDatagram(blob), s.peerAddr)
	if err != nil {
		err = fmt.Errorf("%w: %v", protoerr.ErrTransmitFailed, err)
		s.log.Error(err, "parameter set transmit failed")
	}
	return err
}

// controlListenerLoop receives Ack and IFrameRequest datagrams from the
// peer. It never blocks indefinitely: each read carries a short deadline
// so the loop can observe ctx cancellation promptly.
func (s *Sender) controlListenerLoop() {
	defer s.wg.Done()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.transport.SetReadDeadline(time.Now().Add(s.cfg.ControlIdleSleep))
		n, _, err := s.transport.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			time.Sleep(s.cfg.ControlIdleSleep)
			continue
		}

		s.handleControlDatagram(buf[:n])
	}
}

func (s *Sender) handleControlDatagram(datagram []byte) {
	typ, err := wire.Classify(datagram)
	if err != nil {
		return
	}

	switch typ {
	case wire.TypeAck:
		ack, err := wire.DecodeAckDatagram(datagram)
		if err != nil {
			s.log.Warn("malformed ack received")
			return
		}
		s.ackedMu.Lock()
		s.ackedFrames[ack.FrameID] = struct{}{}
		s.ackedMu.Unlock()
	case wire.TypeIFrameRequest:
		if s.requester != nil {
			s.requester.RequestKeyFrame()
		}
	default:
		// Data and ParameterSet datagrams are not expected on the
		// sender's control socket; ignore.
	}
}

// retransmitterLoop periodically drains acknowledged frames from the
// unacked table and re-transmits any key frame whose retransmission
// timeout has elapsed.
func (s *Sender) retransmitterLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainAcked()
			s.scanAndRetransmit()
		case <-s.ctx.Done():
			return
		}
	}
}

// drainAcked acquires ackedFrames before unackedFrames, matching the
// protocol's fixed lock-acquisition order.
func (s *Sender) drainAcked() {
	s.ackedMu.Lock()
	acked := s.ackedFrames
	s.ackedFrames = make(map[uint32]struct{})
	s.ackedMu.Unlock()

	if len(acked) == 0 {
		return
	}

	s.unackedMu.Lock()
	for frameID := range acked {
		delete(s.unackedFrames, frameID)
	}
	s.unackedMu.Unlock()
}

func (s *Sender) scanAndRetransmit() {
	now := time.Now()

	s.unackedMu.Lock()
	defer s.unackedMu.Unlock()

	for frameID, entry := range s.unackedFrames {
		if now.Sub(entry.sentAt) <= s.cfg.RetransmissionTimeout {
			continue
		}
		if entry.retries >= s.cfg.MaxRetries {
			s.log.Error(protoerr.ErrRetriesExhausted, "dropping unacked key frame", "frame_id", frameID)
			delete(s.unackedFrames, frameID)
			continue
		}
		entry.retries++
		entry.sentAt = now
		for _, datagram := range entry.datagrams {
			if _, err := s.transport.WriteTo(datagram, s.peerAddr); err != nil {
				s.log.Error(fmt.Errorf("%w: %v", protoerr.ErrTransmitFailed, err), "retransmit failed", "frame_id", frameID, "retries", entry.retries)
				break
			}
		}
	}
}

// PendingKeyFrames reports how many key frames are awaiting acknowledgment.
// Useful for metrics and tests.
func (s *Sender) PendingKeyFrames() int {
	s.unackedMu.Lock()
	defer s.unackedMu.Unlock()
	return len(s.unackedFrames)
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
