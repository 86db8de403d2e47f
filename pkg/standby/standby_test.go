package standby

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
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

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeTransport) WriteTo(b []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
	return len(b), nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestFeederSendsWhenHeartbeatMissing(t *testing.T) {
	transport := &fakeTransport{}
	heartbeatPath := filepath.Join(t.TempDir(), "neurocam.heartbeat")

	cfg := Config{
		HeartbeatFile:  heartbeatPath,
		NetworkTimeout: 50 * time.Millisecond,
		FeedInterval:   10 * time.Millisecond,
	}
	frame := bytes.Repeat([]byte{0x01}, 500)
	feeder := New(transport, fakeAddr("127.0.0.1:8080"), frame, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	feeder.Run(ctx)

	require.GreaterOrEqual(t, transport.count(), 1)
	h, payload, err := wire.DecodeDataDatagram(transport.sent[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.FrameID)
	assert.Equal(t, uint64(0), h.CaptureTimestampNs)
	assert.True(t, h.IsKeyFrame)
	assert.Equal(t, frame, payload)
}

func TestFeederStaysQuietWhileHeartbeatFresh(t *testing.T) {
	transport := &fakeTransport{}
	heartbeatPath := filepath.Join(t.TempDir(), "neurocam.heartbeat")
	require.NoError(t, os.WriteFile(heartbeatPath, []byte("x"), 0o644))

	cfg := Config{
		HeartbeatFile:  heartbeatPath,
		NetworkTimeout: 2 * time.Second,
		FeedInterval:   10 * time.Millisecond,
	}
	feeder := New(transport, fakeAddr("127.0.0.1:8080"), []byte("frame"), cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	feeder.Run(ctx)

	assert.Equal(t, 0, transport.count())
}

func TestFeederResumesAfterHeartbeatGoesStale(t *testing.T) {
	transport := &fakeTransport{}
	heartbeatPath := filepath.Join(t.TempDir(), "neurocam.heartbeat")
	require.NoError(t, os.WriteFile(heartbeatPath, []byte("x"), 0o644))

	cfg := Config{
		HeartbeatFile:  heartbeatPath,
		NetworkTimeout: 20 * time.Millisecond,
		FeedInterval:   10 * time.Millisecond,
	}
	feeder := New(transport, fakeAddr("127.0.0.1:8080"), []byte("frame"), cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	feeder.Run(ctx)

	assert.GreaterOrEqual(t, transport.count(), 1)
}

func TestIsStaleMissingFile(t *testing.T) {
	feeder := New(&fakeTransport{}, fakeAddr("127.0.0.1:8080"), []byte("f"), Config{
		HeartbeatFile: filepath.Join(t.TempDir(), "does-not-exist"),
	}, nil)
	assert.True(t, feeder.isStale())
}
