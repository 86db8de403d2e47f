// Package hostapi defines the capability interfaces that let pkg/sender and
// pkg/receiver talk to a concrete camera, encoder, or decoder without
// importing any of those packages directly. A host wires its own
// implementations in at construction time.
package hostapi

// KeyFrameRequester is invoked by pkg/sender's control listener when a peer
// asks for a fresh key frame. Implementations are expected to nudge the
// local encoder into emitting one promptly; RequestKeyFrame must not block
// for the frame itself to be produced.
type KeyFrameRequester interface {
	RequestKeyFrame()
}

// KeyFrameRequesterFunc adapts a plain function to KeyFrameRequester.
type KeyFrameRequesterFunc func()

// RequestKeyFrame implements KeyFrameRequester.
func (f KeyFrameRequesterFunc) RequestKeyFrame() { f() }

// FrameSink receives fully reassembled frames from pkg/receiver in
// completion order. captureTimestampNs is the sender-side capture time
// recorded in the frame's first fragment.
type FrameSink interface {
	PushFrame(frame []byte, isKeyFrame bool, captureTimestampNs uint64) error
}

// FrameSinkFunc adapts a plain function to FrameSink.
type FrameSinkFunc func(frame []byte, isKeyFrame bool, captureTimestampNs uint64) error

// PushFrame implements FrameSink.
func (f FrameSinkFunc) PushFrame(frame []byte, isKeyFrame bool, captureTimestampNs uint64) error {
	return f(frame, isKeyFrame, captureTimestampNs)
}

// CaptureSource is the host-provided origin of encoded frames fed into
// pkg/sender. It is not invoked by pkg/sender itself (hosts call
// Sender.SendFrame from their own capture loop); it exists so host
// binaries share a common shape for wiring a capture pipeline into a
// sender instance.
type CaptureSource interface {
	// NextFrame blocks until the next encoded frame is available, or
	// returns an error (including io.EOF at end of stream).
	NextFrame() (frame []byte, isKeyFrame bool, captureTimestampNs uint64, err error)
	Close() error
}
