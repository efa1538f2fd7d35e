package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blemidi/internal/device"
	goble "github.com/srg/blemidi/internal/device/go-ble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE-MIDI peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals advertising the BLE-MIDI service
and display their names, addresses, RSSI values and advertised services.

Use --all to list every advertising peripheral.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
	scanName     string
	scanServices []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "timeout", "t", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show all peripherals, not only BLE-MIDI ones")
	scanCmd.Flags().StringVar(&scanName, "name", "", "Only show peripherals whose name starts with this prefix")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs (overrides the MIDI filter)")
}

// buildScanFilter derives the advertisement filter from flags
func buildScanFilter(all bool, namePrefix string, services []string) (goble.ScanFilter, error) {
	filter := goble.MIDIFilter()
	switch {
	case len(services) > 0:
		normalized, err := device.ValidateUUID(services...)
		if err != nil {
			return goble.ScanFilter{}, fmt.Errorf("invalid service UUID: %w", err)
		}
		filter.Services = normalized
	case all:
		filter.Services = nil
	}
	filter.NamePrefix = namePrefix
	return filter, nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	filter, err := buildScanFilter(scanAll, scanName, scanServices)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	timeout := cfg.ScanTimeout
	if scanDuration > 0 {
		timeout = scanDuration
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Listen for Ctrl+C to cancel
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE-MIDI devices", timeout)
	progress.Start()

	found := newScanResults()
	err = goble.Scan(ctx, filter, found.add)
	progress.Stop()
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}

	return displayAdvertisements(cmd.OutOrStdout(), found.list())
}

type scanEntry struct {
	adv      goble.Advertisement
	lastSeen time.Time
}

// scanResults keeps the latest advertisement per address
type scanResults struct {
	mu      sync.Mutex
	entries map[string]scanEntry
}

func newScanResults() *scanResults {
	return &scanResults{entries: make(map[string]scanEntry)}
}

func (r *scanResults) add(adv goble.Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[adv.Address]; ok && adv.Name == "" {
		adv.Name = prev.adv.Name
	}
	r.entries[adv.Address] = scanEntry{adv: adv, lastSeen: time.Now()}
}

// list returns entries sorted by name, then address
func (r *scanResults) list() []scanEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scanEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].adv.Name != out[j].adv.Name {
			return out[i].adv.Name < out[j].adv.Name
		}
		return out[i].adv.Address < out[j].adv.Address
	})
	return out
}

func displayAdvertisements(w io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No BLE-MIDI devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	for _, e := range entries {
		name := e.adv.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		names := make([]string, 0, len(e.adv.Services))
		for _, s := range e.adv.Services {
			if known := device.KnownName(s); known != "" {
				names = append(names, known)
			} else {
				names = append(names, s)
			}
		}
		services := strings.Join(names, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, e.adv.Address, e.adv.RSSI, services, time.Since(e.lastSeen).Truncate(time.Second))
	}
	return tw.Flush()
}
