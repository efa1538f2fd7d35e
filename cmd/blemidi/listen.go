package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemidi/internal/blemidi"
	goble "github.com/srg/blemidi/internal/device/go-ble"
	"github.com/srg/blemidi/internal/groutine"
	"github.com/srg/blemidi/internal/midi"
	"github.com/srg/blemidi/internal/ringchan"
	"github.com/srg/blemidi/pkg/config"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <device-address>",
	Short: "Print MIDI events received from a BLE-MIDI peripheral",
	Long: fmt.Sprintf(`Connects to a BLE-MIDI peripheral, enables notifications on its MIDI I/O
characteristic and prints every decoded event until Ctrl+C or disconnection.

Examples:
  # Print events as MIDI messages
  blemidi listen %s

  # Print raw message bytes, stop after one minute
  blemidi listen %s --format hex --duration 1m

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

var (
	listenTimeout  time.Duration
	listenDuration time.Duration
	listenMTU      int
	listenFormat   string
	listenQueue    int
	listenDiag     bool
)

func init() {
	listenCmd.Flags().DurationVar(&listenTimeout, "timeout", 0, "Connection timeout (default from config, 30s)")
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 0, "Stop listening after this long (0 for indefinite)")
	listenCmd.Flags().IntVar(&listenMTU, "mtu", 0, "ATT MTU to request (default from config, 23)")
	listenCmd.Flags().StringVarP(&listenFormat, "format", "f", "", "Output format: text or hex (default from config, text)")
	listenCmd.Flags().IntVar(&listenQueue, "queue", 0, "Output queue size; oldest lines are dropped when full")
	listenCmd.Flags().BoolVar(&listenDiag, "diagnostics", false, "Print decoder diagnostics inline")
}

// applyListenFlags overrides config values with explicitly set flags
func applyListenFlags(cmd *cobra.Command, cfg *config.Config) error {
	if listenTimeout > 0 {
		cfg.ConnectTimeout = listenTimeout
	}
	if cmd.Flags().Changed("mtu") {
		cfg.MTU = listenMTU
	}
	if listenFormat != "" {
		cfg.OutputFormat = listenFormat
	}
	if listenQueue > 0 {
		cfg.QueueSize = listenQueue
	}
	return cfg.Validate()
}

// outputLine is one queued item for the printer goroutine
type outputLine struct {
	peer blemidi.PeerID
	ev   midi.Event
	diag *midi.Diagnostic
}

func runListen(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyListenFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if listenDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, listenDuration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), 0)
	progress.Start()

	conn, err := goble.Connect(ctx, address, &goble.ConnectOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MTU:            cfg.MTU,
	}, logger)
	if err != nil {
		progress.Stop()
		return err
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	progress.SetPhase("Subscribing")
	err = listen(ctx, cmd, conn, cfg, logger, progress.Stop)
	progress.Stop()
	return err
}

// listen attaches conn, prints events until ctx is done or the peer disconnects,
// then prints the summary. ready is called once notifications are configured.
func listen(ctx context.Context, cmd *cobra.Command, conn *goble.Connection, cfg *config.Config, logger *logrus.Logger, ready func()) error {
	out := cmd.OutOrStdout()
	printer := NewEventPrinter(out, cfg.OutputFormat, false)
	queue := ringchan.New[outputLine](cfg.QueueSize)

	decoderOpts := []midi.Option{midi.WithMaxSysExSize(cfg.MaxSysExSize)}
	if listenDiag {
		decoderOpts = append(decoderOpts, midi.WithDiagnosticHandler(func(d midi.Diagnostic) {
			queue.Send(outputLine{diag: &d})
		}))
	}

	central := blemidi.NewCentral(
		blemidi.WithLogger(logger),
		blemidi.WithDecoderOptions(decoderOpts...),
		blemidi.WithEventListener(blemidi.EventListenerFunc(func(peer blemidi.PeerID, ev midi.Event) {
			queue.Send(outputLine{peer: peer, ev: ev})
		})),
	)

	session, err := central.Attach(ctx, conn)
	if err != nil {
		return err
	}
	ready()
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening to %s. Press Ctrl+C to stop...\n", session.Peer())

	printed := groutine.Go(ctx, "event-printer", func(context.Context) {
		for line := range queue.C() {
			if line.diag != nil {
				printer.PrintDiagnostic(*line.diag)
				continue
			}
			printer.PrintEvent(line.peer, line.ev)
		}
	})

	var result error
	select {
	case <-ctx.Done():
		// Ctrl+C or --duration elapsed
	case <-conn.Done():
		result = fmt.Errorf("%w: %v", ErrConnectionLost, conn.Err())
	}

	stats := session.Stats()
	counters := session.Counters()
	central.Terminate()
	queue.Close()
	<-printed

	printer.PrintSummary(stats, counters, queue.GetMetrics().Dropped)
	return result
}
