// Command camlink-receiver listens for a camlink video stream and writes
// reassembled Annex-B H.264 frames to stdout.
package main

import (
	"bufio"
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
	"github.com/framebridge/camlink/pkg/hostapi"
	"github.com/framebridge/camlink/pkg/logger"
	"github.com/framebridge/camlink/pkg/receiver"
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
		outputPath string
	)

	cfg := &config.Config{}
	cfg.SetDefaults()

	cmd := &cobra.Command{
		Use:   "camlink-receiver",
		Short: "Receive a camlink video stream and write reassembled frames to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadYAMLIfPresent(cfg, configPath); err != nil {
				return err
			}
			bindPflags(cfg, cmd.Flags())
			cfg.SetDefaults()
			if err := cfg.ValidateReceiver(); err != nil {
				return err
			}
			return run(cfg, outputPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&outputPath, "output", "o", "-", "file to write reassembled frames to (- for stdout)")
	flags.String("listen-addr", "", "UDP address to listen on, host:port")
	flags.Duration("frame-timeout", 0, "how long a partial frame may sit before it is swept away")
	flags.Int("parameter-inject-budget", 0, "number of key frames to prepend the cached parameter set to")
	flags.String("log-level", "", "log level: error, warn, info, debug")
	flags.String("log-format", "", "log format: console or json")

	return cmd
}

func bindPflags(cfg *config.Config, flags *pflag.FlagSet) {
	overlay := &config.Config{}
	present := map[string]bool{}

	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen-addr":
			overlay.ReceiverListenAddr = f.Value.String()
			present["receiver_listen_addr"] = true
		case "frame-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				overlay.FrameTimeout = d
				present["frame_timeout"] = true
			}
		case "parameter-inject-budget":
			if n, err := strconv.Atoi(f.Value.String()); err == nil {
				overlay.ParameterInjectBudget = n
				present["parameter_inject_budget"] = true
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

func run(cfg *config.Config, outputPath string) error {
	log := logger.New(cfg.GetLogLevel(), cfg.GetLogFormat())
	logger.SetDefault(log)

	var out *os.File
	if outputPath == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	sink := hostapi.FrameSinkFunc(func(frame []byte, isKeyFrame bool, captureTimestampNs uint64) error {
		_, err := writer.Write(frame)
		return err
	})

	listenAddr, err := net.ResolveUDPAddr("udp", cfg.ReceiverListenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}
	defer conn.Close()

	r := receiver.New(conn, sink, receiver.Config{
		FrameTimeout:          cfg.FrameTimeout,
		ParameterInjectBudget: cfg.ParameterInjectBudget,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Run(stopCh)
		close(done)
	}()

	log.Info("receiver listening", "addr", cfg.ReceiverListenAddr)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(stopCh)
			<-done
			return nil
		case <-ticker.C:
			count, avgNs := r.Stats()
			log.Debug("latency stats", "samples", count, "avg_latency_ms", float64(avgNs)/1e6)
		}
	}
}
