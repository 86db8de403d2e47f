package reassembly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framebridge/camlink/pkg/wire"
)

func header(frameID uint32, packetID, total uint16, key bool) wire.DataHeader {
	return wire.DataHeader{
		FrameID:            frameID,
		CaptureTimestampNs: 42,
		PacketID:           packetID,
		TotalPackets:       total,
		IsKeyFrame:         key,
	}
}

func TestIngestSingleFragmentCompletesImmediately(t *testing.T) {
	r := New(0)
	now := time.Unix(0, 0)
	res := r.Ingest(header(7, 0, 1, false), []byte("payload"), now)
	require.Equal(t, Completed, res.Outcome)
	assert.Equal(t, []byte("payload"), res.Frame)
	assert.False(t, res.IsKeyFrame)
	assert.Equal(t, uint64(42), res.CaptureTimestampNs)
	assert.Equal(t, 0, r.Len())
}

func TestIngestOutOfOrderAndDuplicate(t *testing.T) {
	r := New(0)
	now := time.Unix(0, 0)

	order := []uint16{2, 0, 2, 3, 1, 0}
	chunks := map[uint16][]byte{
		0: []byte("aa"),
		1: []byte("bb"),
		2: []byte("cc"),
		3: []byte("dd"),
	}

	var completions int
	var last IngestResult
	for _, pid := range order {
		res := r.Ingest(header(11, pid, 4, true), chunks[pid], now)
		if res.Outcome == Completed {
			completions++
			last = res
		}
		if pid == 2 && completions == 0 {
			assert.Contains(t, []Outcome{Stored, DuplicateIgnored}, res.Outcome)
		}
	}

	require.Equal(t, 1, completions)
	assert.Equal(t, []byte("aabbccdd"), last.Frame)
	assert.True(t, last.IsKeyFrame)
	assert.Equal(t, 0, r.Len())
}

func TestIngestInvalidPacketID(t *testing.T) {
	r := New(0)
	res := r.Ingest(header(1, 5, 3, false), []byte("x"), time.Unix(0, 0))
	assert.Equal(t, InvalidPacketID, res.Outcome)
	assert.Equal(t, 0, r.Len())
}

func TestIngestDuplicateExactSlot(t *testing.T) {
	r := New(0)
	now := time.Unix(0, 0)
	res := r.Ingest(header(1, 0, 2, false), []byte("a"), now)
	require.Equal(t, Stored, res.Outcome)

	res = r.Ingest(header(1, 0, 2, false), []byte("a-dup"), now)
	assert.Equal(t, DuplicateIgnored, res.Outcome)
	assert.Equal(t, 1, r.Len())
}

func TestIngestZeroLengthFrame(t *testing.T) {
	r := New(0)
	res := r.Ingest(header(1, 0, 1, false), []byte{}, time.Unix(0, 0))
	assert.Equal(t, ZeroLengthFrame, res.Outcome)
	assert.Equal(t, 0, r.Len())
}

func TestSweepRemovesExpiredFrames(t *testing.T) {
	r := New(5 * time.Second)
	base := time.Unix(1000, 0)

	r.Ingest(header(30, 0, 2, false), []byte("x"), base)
	require.Equal(t, 1, r.Len())

	expired := r.Sweep(base.Add(1 * time.Second))
	assert.Empty(t, expired)
	assert.Equal(t, 1, r.Len())

	expired = r.Sweep(base.Add(6 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, uint32(30), expired[0].FrameID)
	assert.False(t, expired[0].IsKeyFrame)
	assert.Equal(t, 1, expired[0].ReceivedCount)
	assert.Equal(t, 2, expired[0].TotalPackets)
	assert.Equal(t, 0, r.Len())
}

func TestSweepLeavesFreshFramesAlone(t *testing.T) {
	r := New(5 * time.Second)
	base := time.Unix(1000, 0)
	r.Ingest(header(1, 0, 2, false), []byte("x"), base)
	r.Ingest(header(2, 0, 2, false), []byte("y"), base.Add(4*time.Second))

	expired := r.Sweep(base.Add(6 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, uint32(1), expired[0].FrameID)
	assert.Equal(t, 1, r.Len())
}
