package sender

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framebridge/camlink/pkg/wire"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// fakeTransport is an in-memory stand-in for *net.UDPConn. Writes are
// captured for assertions; incoming datagrams are pushed onto a channel
// that ReadFrom drains, returning errTimeout when nothing is queued by the
// configured deadline.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	incoming chan []byte
	deadline time.Time
	failNext bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan []byte, 64)}
}

func (f *fakeTransport) WriteTo(b []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, errors.New("write failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeTransport) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case datagram := <-f.incoming:
		n := copy(b, datagram)
		return n, fakeAddr("peer"), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil, errTimeout
	}
}

func (f *fakeTransport) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.deadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentDatagrams() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type countingRequester struct {
	mu    sync.Mutex
	count int
}

func (r *countingRequester) RequestKeyFrame() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func (r *countingRequester) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestSendFrameMonotonicFrameIDs(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, fakeAddr("peer"), nil, Config{}, nil)

	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := s.SendFrame([]byte("payload"), false, uint64(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		assert.Equal(t, ids[i-1]+1, ids[i])
	}
}

func TestSendFrameNonKeyFrameNotCached(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, fakeAddr("peer"), nil, Config{}, nil)

	_, err := s.SendFrame([]byte("payload"), false, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, s.PendingKeyFrames())
}

func TestSendFrameKeyFrameCachedUntilAcked(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, fakeAddr("peer"), nil, Config{}, nil)

	frameID, err := s.SendFrame([]byte("key payload"), true, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingKeyFrames())

	s.Start()
	defer s.Close()

	ack := wire.BuildAckDatagram(frameID)
	transport.incoming <- ack

	require.Eventually(t, func() bool {
		return s.PendingKeyFrames() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRetransmissionBound(t *testing.T) {
	transport := newFakeTransport()
	cfg := Config{
		RetransmissionTimeout: 5 * time.Millisecond,
		MaxRetries:            2,
		RetransmitTick:        2 * time.Millisecond,
		ControlIdleSleep:      2 * time.Millisecond,
	}
	s := New(transport, fakeAddr("peer"), nil, cfg, nil)

	frameID, err := s.SendFrame([]byte("key payload"), true, 0)
	require.NoError(t, err)

	s.Start()
	defer s.Close()

	require.Eventually(t, func() bool {
		return s.PendingKeyFrames() == 0
	}, time.Second, 5*time.Millisecond)

	var transmissions int
	for _, datagram := range transport.sentDatagrams() {
		h, _, err := wire.DecodeDataDatagram(datagram)
		require.NoError(t, err)
		if h.FrameID == frameID {
			transmissions++
		}
	}
	assert.Equal(t, 1+cfg.MaxRetries, transmissions)
}

func TestKeyFrameAckedBeforeTimeoutSendsOnce(t *testing.T) {
	transport := newFakeTransport()
	cfg := Config{
		RetransmissionTimeout: 200 * time.Millisecond,
		RetransmitTick:        5 * time.Millisecond,
		ControlIdleSleep:      2 * time.Millisecond,
	}
	s := New(transport, fakeAddr("peer"), nil, cfg, nil)

	frameID, err := s.SendFrame([]byte("key payload"), true, 0)
	require.NoError(t, err)

	s.Start()
	defer s.Close()

	transport.incoming <- wire.BuildAckDatagram(frameID)

	require.Eventually(t, func() bool {
		return s.PendingKeyFrames() == 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	var transmissions int
	for _, datagram := range transport.sentDatagrams() {
		h, _, err := wire.DecodeDataDatagram(datagram)
		require.NoError(t, err)
		if h.FrameID == frameID {
			transmissions++
		}
	}
	assert.Equal(t, 1, transmissions)
}

func TestIFrameRequestInvokesRequester(t *testing.T) {
	transport := newFakeTransport()
	requester := &countingRequester{}
	s := New(transport, fakeAddr("peer"), requester, Config{}, nil)

	s.Start()
	defer s.Close()

	transport.incoming <- wire.BuildIFrameRequestDatagram()

	require.Eventually(t, func() bool {
		return requester.Count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSendFrameEmptyFramePropagatesError(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, fakeAddr("peer"), nil, Config{}, nil)

	_, err := s.SendFrame(nil, false, 0)
	assert.Error(t, err)
}

func TestSendParameterSet(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, fakeAddr("peer"), nil, Config{}, nil)

	blob := []byte{0x00, 0x00, 0x00, 0x01, 0x67}
	require.NoError(t, s.SendParameterSet(blob))

	sent := transport.sentDatagrams()
	require.Len(t, sent, 1)
	decoded, err := wire.DecodeParameterSetDatagram(sent[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(blob, decoded))
}
