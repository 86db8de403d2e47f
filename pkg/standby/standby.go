// Package standby implements the standby heartbeat loop: while no live
// capture is feeding frames, it repeatedly transmits a canned key frame to
// the receiver's loopback address so the decoded-video sink never sees a
// dead stream.
package standby

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/framebridge/camlink/pkg/fragment"
	"github.com/framebridge/camlink/pkg/logger"
)

// DefaultNetworkTimeout is the reference NETWORK_TIMEOUT: a heartbeat file
// older than this (or missing) is considered stale.
const DefaultNetworkTimeout = 2 * time.Second

// DefaultFeedInterval is the reference HEARTBEAT poll interval.
const DefaultFeedInterval = 500 * time.Millisecond

// Config configures a Feeder.
type Config struct {
	HeartbeatFile  string
	LoopbackAddr   string
	NetworkTimeout time.Duration
	FeedInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = DefaultNetworkTimeout
	}
	if c.FeedInterval <= 0 {
		c.FeedInterval = DefaultFeedInterval
	}
	if c.LoopbackAddr == "" {
		c.LoopbackAddr = "127.0.0.1:8080"
	}
	return c
}

// Transport is the minimal socket surface the feeder needs.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Feeder polls a heartbeat file's modification time and, when it goes
// stale or disappears, fragments a canned standby frame and transmits it
// to the loopback address. frame_id is always 0, capture_timestamp_ns is
// always 0, and is_key_frame is always set, per the protocol's standby
// convention.
type Feeder struct {
	transport    Transport
	loopbackAddr net.Addr
	standbyFrame []byte
	cfg          Config
	log          *logger.Logger

	watcher *fsnotify.Watcher
}

// New constructs a Feeder. standbyFrame is the canned H.264 key frame read
// from disk once at startup by the caller.
func New(transport Transport, loopbackAddr net.Addr, standbyFrame []byte, cfg Config, log *logger.Logger) *Feeder {
	if log == nil {
		log = logger.Default()
	}
	return &Feeder{
		transport:    transport,
		loopbackAddr: loopbackAddr,
		standbyFrame: standbyFrame,
		cfg:          cfg.withDefaults(),
		log:          log,
	}
}

// Run polls the heartbeat file every FeedInterval until ctx is cancelled.
// It also watches the heartbeat file's directory with fsnotify so a fresh
// write is noticed immediately rather than waiting for the next poll tick,
// without replacing the poll loop's role as the source of truth for
// staleness (fsnotify watches can be missed across file recreation).
func (f *Feeder) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		f.watcher = watcher
		defer watcher.Close()
		if dir := dirOf(f.cfg.HeartbeatFile); dir != "" {
			if err := watcher.Add(dir); err != nil {
				f.log.Warn("failed to watch heartbeat directory", "dir", dir)
			}
		}
	} else {
		f.log.Warn("fsnotify unavailable, falling back to polling only")
	}

	ticker := time.NewTicker(f.cfg.FeedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		case event, ok := <-f.watcherEvents():
			if !ok {
				continue
			}
			if event.Name == f.cfg.HeartbeatFile && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				// A fresh heartbeat write means the real sender is alive;
				// nothing to transmit, just let the next tick re-check.
				continue
			}
		}
	}
}

func (f *Feeder) watcherEvents() chan fsnotify.Event {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Events
}

func (f *Feeder) tick() {
	if !f.isStale() {
		return
	}
	if err := f.sendStandbyFrame(); err != nil {
		f.log.Warn("failed to send standby frame")
	}
}

// isStale reports whether the heartbeat file is missing or older than the
// configured network timeout.
func (f *Feeder) isStale() bool {
	info, err := os.Stat(f.cfg.HeartbeatFile)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > f.cfg.NetworkTimeout
}

func (f *Feeder) sendStandbyFrame() error {
	datagrams, err := fragment.Split(f.standbyFrame, 0, true, 0)
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if _, err := f.transport.WriteTo(d.Bytes, f.loopbackAddr); err != nil {
			return err
		}
	}
	return nil
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	idx := lastSlash(path)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
