// Command camlink-standby feeds a canned key frame to a receiver's
// loopback address whenever a heartbeat file goes stale, keeping a
// decoded-video sink alive while the real sender is absent.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/framebridge/camlink/internal/config"
	"github.com/framebridge/camlink/pkg/logger"
	"github.com/framebridge/camlink/pkg/standby"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cfg := &config.Config{}
	cfg.SetDefaults()

	cmd := &cobra.Command{
		Use:   "camlink-standby",
		Short: "Feed a canned key frame to a receiver while the real sender is absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadYAMLIfPresent(cfg, configPath); err != nil {
				return err
			}
			bindPflags(cfg, cmd.Flags())
			cfg.SetDefaults()
			if err := cfg.ValidateStandby(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.String("heartbeat-file", "", "path to the heartbeat file")
	flags.String("standby-frame", "", "path to the canned Annex-B key frame to feed (required)")
	flags.String("loopback-addr", "", "address to send standby frames to, host:port")
	flags.Duration("network-timeout", 0, "heartbeat mtime age considered stale")
	flags.Duration("feed-interval", 0, "how often to check the heartbeat file")
	flags.String("log-level", "", "log level: error, warn, info, debug")
	flags.String("log-format", "", "log format: console or json")
	_ = cmd.MarkFlagRequired("standby-frame")

	return cmd
}

func bindPflags(cfg *config.Config, flags *pflag.FlagSet) {
	overlay := &config.Config{}
	present := map[string]bool{}

	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "heartbeat-file":
			overlay.HeartbeatFile = f.Value.String()
			present["heartbeat_file"] = true
		case "standby-frame":
			overlay.StandbyFramePath = f.Value.String()
			present["standby_frame_path"] = true
		case "loopback-addr":
			overlay.LoopbackAddr = f.Value.String()
			present["loopback_addr"] = true
		case "network-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				overlay.NetworkTimeout = d
				present["network_timeout"] = true
			}
		case "feed-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				overlay.FeedInterval = d
				present["feed_interval"] = true
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

func run(cfg *config.Config) error {
	log := logger.New(cfg.GetLogLevel(), cfg.GetLogFormat())
	logger.SetDefault(log)

	frame, err := os.ReadFile(cfg.StandbyFramePath)
	if err != nil {
		return fmt.Errorf("reading standby frame: %w", err)
	}

	loopbackAddr, err := net.ResolveUDPAddr("udp", cfg.LoopbackAddr)
	if err != nil {
		return fmt.Errorf("resolving loopback address: %w", err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("binding ephemeral udp socket: %w", err)
	}
	defer conn.Close()

	feeder := standby.New(conn, loopbackAddr, frame, standby.Config{
		HeartbeatFile:  cfg.HeartbeatFile,
		LoopbackAddr:   cfg.LoopbackAddr,
		NetworkTimeout: cfg.NetworkTimeout,
		FeedInterval:   cfg.FeedInterval,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("standby feeder running", "heartbeat_file", cfg.HeartbeatFile, "loopback_addr", cfg.LoopbackAddr)
	feeder.Run(ctx)
	return nil
}
