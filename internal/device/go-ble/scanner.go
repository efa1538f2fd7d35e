package goble

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blemidi/internal/device"
)

// Advertisement is a snapshot of one received advertising report
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Services    []string // normalized, sorted
	Connectable bool
}

// NewAdvertisement converts a go-ble advertisement
func NewAdvertisement(adv ble.Advertisement) Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	sort.Strings(services)

	return Advertisement{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Services:    services,
		Connectable: adv.Connectable(),
	}
}

// HasService reports whether the advertisement lists uuid
func (a Advertisement) HasService(uuid string) bool {
	uuid = device.NormalizeUUID(uuid)
	for _, s := range a.Services {
		if s == uuid {
			return true
		}
	}
	return false
}

// ScanFilter selects advertisements during a scan. A zero filter matches everything.
type ScanFilter struct {
	Services        []string // any of
	NamePrefix      string   // case-insensitive
	AllowDuplicates bool
}

// MIDIFilter matches peripherals advertising the BLE-MIDI service
func MIDIFilter() ScanFilter {
	return ScanFilter{Services: []string{device.MIDIService}}
}

func (f ScanFilter) Match(adv Advertisement) bool {
	if f.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(adv.Name), strings.ToLower(f.NamePrefix)) {
		return false
	}
	if len(f.Services) == 0 {
		return true
	}
	for _, s := range f.Services {
		if adv.HasService(s) {
			return true
		}
	}
	return false
}

// Scan reports matching advertisements until ctx is done.
// Reaching the context deadline ends the scan without error.
func Scan(ctx context.Context, filter ScanFilter, handler func(Advertisement)) error {
	dev, err := DeviceFactory()
	if err != nil {
		return NormalizeError(err)
	}

	err = dev.Scan(ctx, filter.AllowDuplicates, func(a ble.Advertisement) {
		adv := NewAdvertisement(a)
		if filter.Match(adv) {
			handler(adv)
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}
