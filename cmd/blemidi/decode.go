package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/midi"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode [hex-packet]...",
	Short: "Decode captured BLE-MIDI packets",
	Long: `Decodes BLE-MIDI notification payloads given as hex strings, in order, through
the same decoder used by 'listen'. Running status and SysEx carry across packets.

Bytes may be separated by spaces, colons or dashes. With --file, packets are read
one per line ('-' reads stdin); empty lines and lines starting with '#' are skipped.

Examples:
  blemidi decode "80 80 90 3c 7f" "81 81 3c 00"
  blemidi decode 8080f00102 8182f7
  blemidi decode --file capture.txt --format hex`,
	RunE: runDecode,
}

var (
	decodeFile   string
	decodeFormat string
	decodeStats  bool
)

func init() {
	decodeCmd.Flags().StringVar(&decodeFile, "file", "", "Read packets from file, one hex packet per line ('-' for stdin)")
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "", "Output format: text or hex (default from config, text)")
	decodeCmd.Flags().BoolVar(&decodeStats, "summary", false, "Print a summary after decoding")
}

// parsePacket converts "80 80 90 3c 7f", "80:80:90" or "8080903c7f" to bytes
func parsePacket(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.ToLower(clean), "0x")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex packet %q: %w", s, err)
	}
	return data, nil
}

// readPackets reads one packet per line
func readPackets(r io.Reader) ([][]byte, error) {
	var packets [][]byte
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := parsePacket(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		packets = append(packets, p)
	}
	return packets, scanner.Err()
}

func collectPackets(cmd *cobra.Command, args []string) ([][]byte, error) {
	var packets [][]byte
	for _, a := range args {
		p, err := parsePacket(a)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}

	switch decodeFile {
	case "":
	case "-":
		more, err := readPackets(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		packets = append(packets, more...)
	default:
		f, err := os.Open(decodeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open packet file: %w", err)
		}
		defer f.Close()
		more, err := readPackets(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", decodeFile, err)
		}
		packets = append(packets, more...)
	}

	if len(packets) == 0 {
		return nil, fmt.Errorf("no packets given: pass hex packets as arguments or use --file")
	}
	return packets, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if decodeFormat != "" {
		cfg.OutputFormat = decodeFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	packets, err := collectPackets(cmd, args)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	printer := NewEventPrinter(cmd.OutOrStdout(), cfg.OutputFormat, false)
	stats := midi.NewStats()
	peer := blemidi.PeerID{Name: "capture", Address: "capture"}

	decoder := midi.NewDecoder(
		midi.WithLogger(logger),
		midi.WithMaxSysExSize(cfg.MaxSysExSize),
		midi.WithClock(func() time.Time { return time.Time{} }),
		midi.WithDiagnosticHandler(stats.ObserveDiagnostic),
		midi.WithDiagnosticHandler(printer.PrintDiagnostic),
	)
	decoder.Start(func(ev midi.Event) {
		stats.Observe(ev)
		printer.PrintEvent(peer, ev)
	})
	defer decoder.Stop()

	for _, p := range packets {
		decoder.Feed(p)
	}

	if decodeStats {
		printer.PrintSummary(stats.Snapshot(), decoder.Counters(), 0)
	}
	return nil
}
