// Command camlink-sender reads an Annex-B H.264 stream from a file and
// transmits it to a receiver using the camlink transport.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/framebridge/camlink/internal/config"
	"github.com/framebridge/camlink/pkg/annexb"
	"github.com/framebridge/camlink/pkg/hostapi"
	"github.com/framebridge/camlink/pkg/logger"
	"github.com/framebridge/camlink/pkg/sender"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		inputPath  string
	)

	cfg := &config.Config{}
	cfg.SetDefaults()

	cmd := &cobra.Command{
		Use:   "camlink-sender",
		Short: "Stream an Annex-B H.264 file to a camlink receiver over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadYAMLIfPresent(cfg, configPath); err != nil {
				return err
			}
			bindPflags(cfg, cmd.Flags())
			cfg.SetDefaults()
			if err := cfg.ValidateSender(); err != nil {
				return err
			}
			return run(cfg, inputPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&inputPath, "input", "i", "", "path to an Annex-B H.264 file (required)")
	flags.String("receiver-addr", "", "receiver UDP address, host:port")
	flags.String("listen-addr", "", "local UDP address to bind, host:port")
	flags.Duration("retransmit-timeout", 0, "how long to wait before retransmitting an unacked key frame")
	flags.Int("max-retries", 0, "maximum retransmission attempts per key frame")
	flags.String("log-level", "", "log level: error, warn, info, debug")
	flags.String("log-format", "", "log format: console or json")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// bindPflags overlays explicitly-set pflag values onto cfg, respecting the
// defaults < YAML < flags precedence.
func bindPflags(cfg *config.Config, flags *pflag.FlagSet) {
	overlay := &config.Config{}
	present := map[string]bool{}

	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "receiver-addr":
			overlay.ReceiverAddr = f.Value.String()
			present["receiver_addr"] = true
		case "listen-addr":
			overlay.SenderListenAddr = f.Value.String()
			present["sender_listen_addr"] = true
		case "retransmit-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				overlay.RetransmitTimeout = d
				present["retransmit_timeout"] = true
			}
		case "max-retries":
			if n, err := strconv.Atoi(f.Value.String()); err == nil {
				overlay.MaxRetries = n
				present["max_retries"] = true
			}
		case "log-level":
			overlay.LogLevel = f.Value.String()
			present["log_level"] = true
		case "log-format":
			overlay.LogFormat = f.Value.String()
			present["log_format"] = true
		}
	})

	cfg.Merge(overlay, present)
}

func run(cfg *config.Config, inputPath string) error {
	log := logger.New(cfg.GetLogLevel(), cfg.GetLogFormat())
	logger.SetDefault(log)

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input file: %w", err)
	}

	localAddr, err := net.ResolveUDPAddr("udp", cfg.SenderListenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", cfg.ReceiverAddr)
	if err != nil {
		return fmt.Errorf("resolving receiver address: %w", err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}
	defer conn.Close()

	requester := hostapi.KeyFrameRequesterFunc(func() {
		log.Info("peer requested a key frame; nothing to nudge in file-replay mode")
	})

	s := sender.New(conn, peerAddr, requester, sender.Config{
		RetransmissionTimeout: cfg.RetransmitTimeout,
		MaxRetries:            cfg.MaxRetries,
	}, log)
	s.Start()
	defer s.Close()

	units := annexb.Split(data)
	accessUnits := annexb.GroupAccessUnits(units)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frameID uint32
	for _, au := range accessUnits {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		paramBlob, rest := annexb.ExtractParameterSets(au)
		if paramBlob != nil {
			if err := s.SendParameterSet(paramBlob); err != nil {
				log.Warn("failed to send parameter set", "frame_id", frameID)
			}
		}

		frame := annexb.Flatten(rest)
		if len(frame) == 0 {
			continue
		}
		isKey := annexb.IsKeyFrame(au)
		captureTs := uint64(time.Now().UnixNano())
		if _, err := s.SendFrame(frame, isKey, captureTs); err != nil {
			log.Warn("failed to send frame", "is_key_frame", isKey)
		}
		frameID++
	}

	log.Info("finished streaming input file", "frames_sent", frameID)
	return nil
}
