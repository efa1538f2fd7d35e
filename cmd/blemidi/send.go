package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/device"
	goble "github.com/srg/blemidi/internal/device/go-ble"
	"github.com/srg/blemidi/internal/midi"
	"github.com/srg/blemidi/pkg/config"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <message>...",
	Short: "Send MIDI messages to a BLE-MIDI peripheral",
	Long: fmt.Sprintf(`Connects to a BLE-MIDI peripheral and writes MIDI messages to its MIDI I/O
characteristic. Messages given together are packed into as few BLE-MIDI
packets as the MTU allows and share one timestamp.

A message is either raw hex bytes or a named form:
  note_on:<ch>:<key>:<vel>   note_off:<ch>:<key>   cc:<ch>:<ctl>:<val>
  program:<ch>:<num>         pitch:<ch>:<-8192..8191>
  sysex:<hex payload>        start  stop  continue  clock  reset
Channels are 0-15.

Examples:
  # Play middle C
  blemidi send %s note_on:0:60:100

  # Same as raw bytes, followed by its note off
  blemidi send %s 903c64 "80 3c 00"

  # Print the packets without connecting
  blemidi send --dry-run - sysex:7e7f0601

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	sendTimeout    time.Duration
	sendMTU        int
	sendPacketSize int
	sendDryRun     bool
)

// sendClock stamps outgoing packets
var sendClock = time.Now

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Connection timeout (default from config, 30s)")
	sendCmd.Flags().IntVar(&sendMTU, "mtu", 0, "ATT MTU to request (default from config, 23)")
	sendCmd.Flags().IntVar(&sendPacketSize, "packet-size", 0, "Maximum BLE-MIDI packet size (default MTU-3)")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the encoded packets instead of sending them")
}

// realtimeMessages are the single-byte messages accepted by name
var realtimeMessages = map[string]byte{
	"clock":    0xf8,
	"start":    0xfa,
	"continue": 0xfb,
	"stop":     0xfc,
	"reset":    0xff,
}

// parseMessage converts one command-line message to a MIDI message
func parseMessage(s string) (gomidi.Message, error) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if status, ok := realtimeMessages[name]; ok && len(args) == 0 {
		return gomidi.Message{status}, nil
	}

	var msg gomidi.Message
	switch name {
	case "note_on", "noteon":
		v, err := parseArgs(s, args, 15, 127, 127)
		if err != nil {
			return nil, err
		}
		msg = gomidi.NoteOn(uint8(v[0]), uint8(v[1]), uint8(v[2]))
	case "note_off", "noteoff":
		v, err := parseArgs(s, args, 15, 127)
		if err != nil {
			return nil, err
		}
		msg = gomidi.NoteOff(uint8(v[0]), uint8(v[1]))
	case "cc":
		v, err := parseArgs(s, args, 15, 127, 127)
		if err != nil {
			return nil, err
		}
		msg = gomidi.ControlChange(uint8(v[0]), uint8(v[1]), uint8(v[2]))
	case "program", "pc":
		v, err := parseArgs(s, args, 15, 127)
		if err != nil {
			return nil, err
		}
		msg = gomidi.ProgramChange(uint8(v[0]), uint8(v[1]))
	case "pitch":
		if len(args) != 2 {
			return nil, fmt.Errorf("invalid message %q: expected pitch:<ch>:<value>", s)
		}
		ch, err := parseArgs(s, args[:1], 15)
		if err != nil {
			return nil, err
		}
		value, err := strconv.Atoi(args[1])
		if err != nil || value < -8192 || value > 8191 {
			return nil, fmt.Errorf("invalid message %q: pitch bend must be in -8192..8191", s)
		}
		msg = gomidi.Pitchbend(uint8(ch[0]), int16(value))
	case "sysex":
		if len(args) != 1 {
			return nil, fmt.Errorf("invalid message %q: expected sysex:<hex payload>", s)
		}
		payload, err := parsePacket(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid message %q: %w", s, err)
		}
		msg = gomidi.SysEx(payload)
	default:
		raw, err := parsePacket(s)
		if err != nil {
			return nil, fmt.Errorf("invalid message %q: not a known name or hex bytes", s)
		}
		msg = gomidi.Message(raw)
	}

	if err := midi.ValidateMessage(msg); err != nil {
		return nil, fmt.Errorf("invalid message %q: %w", s, err)
	}
	return msg, nil
}

// parseArgs parses one decimal argument per limit, each within 0..limit
func parseArgs(s string, args []string, limits ...int) ([]int, error) {
	if len(args) != len(limits) {
		return nil, fmt.Errorf("invalid message %q: expected %d arguments, got %d", s, len(limits), len(args))
	}
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || v < 0 || v > limits[i] {
			return nil, fmt.Errorf("invalid message %q: argument %d must be in 0..%d", s, i+1, limits[i])
		}
		out[i] = v
	}
	return out, nil
}

// applySendFlags overrides config values with explicitly set flags
func applySendFlags(cmd *cobra.Command, cfg *config.Config) error {
	if sendTimeout > 0 {
		cfg.ConnectTimeout = sendTimeout
	}
	if cmd.Flags().Changed("mtu") {
		cfg.MTU = sendMTU
	}
	return cfg.Validate()
}

func runSend(cmd *cobra.Command, args []string) error {
	address := args[0]

	messages := make([]gomidi.Message, 0, len(args)-1)
	for _, a := range args[1:] {
		msg, err := parseMessage(a)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySendFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if sendDryRun {
		return printPackets(cmd, cfg, messages)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	progress.SetPhase("Sending")
	err = send(ctx, cmd, conn, messages, logger)
	progress.Stop()
	return err
}

// send writes messages to the MIDI characteristic of t and reports what was sent
func send(ctx context.Context, cmd *cobra.Command, t device.Transport, messages []gomidi.Message, logger *logrus.Logger) error {
	opts := []blemidi.OutputOption{blemidi.WithOutputClock(sendClock)}
	if sendPacketSize > 0 {
		opts = append(opts, blemidi.WithPacketSize(sendPacketSize))
	}

	out, err := blemidi.NewOutputDevice(ctx, t, logger, opts...)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := out.Send(messages...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d message(s) in %d packet(s) to %s\n", len(messages), out.PacketsSent(), out.Peer())
	return nil
}

// printPackets writes the packets messages would be sent as, one per line,
// in the format read by the decode command
func printPackets(cmd *cobra.Command, cfg *config.Config, messages []gomidi.Message) error {
	size := sendPacketSize
	if size <= 0 {
		size = midi.PacketSize(cfg.MTU)
	}

	raw := make([][]byte, len(messages))
	for i, msg := range messages {
		raw[i] = msg
	}
	packets, err := midi.NewEncoder(size).Encode(midi.TimestampAt(sendClock()), raw...)
	if err != nil {
		return err
	}
	for _, p := range packets {
		fmt.Fprintf(cmd.OutOrStdout(), "% x\n", p)
	}
	return nil
}
