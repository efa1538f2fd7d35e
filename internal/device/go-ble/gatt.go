package goble

import (
	"sort"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/blemidi/internal/device"
)

// Service wraps a discovered ble.Service
type Service struct {
	uuid            string
	BLEService      *ble.Service
	characteristics map[string]*Characteristic
}

func newService(s *ble.Service) *Service {
	svc := &Service{
		uuid:            device.NormalizeUUID(s.UUID.String()),
		BLEService:      s,
		characteristics: make(map[string]*Characteristic, len(s.Characteristics)),
	}
	for _, c := range s.Characteristics {
		char := newCharacteristic(c)
		svc.characteristics[char.uuid] = char
	}
	return svc
}

func (s *Service) UUID() string {
	return s.uuid
}

// CharacteristicUUIDs returns the normalized characteristic UUIDs, sorted
func (s *Service) CharacteristicUUIDs() []string {
	out := make([]string, 0, len(s.characteristics))
	for uuid := range s.characteristics {
		out = append(out, uuid)
	}
	sort.Strings(out)
	return out
}

// Characteristic wraps a discovered ble.Characteristic
type Characteristic struct {
	uuid        string
	BLEChar     *ble.Characteristic
	descriptors []device.Descriptor
}

func newCharacteristic(c *ble.Characteristic) *Characteristic {
	descriptors := make([]device.Descriptor, 0, len(c.Descriptors))
	char := &Characteristic{
		uuid:    device.NormalizeUUID(c.UUID.String()),
		BLEChar: c,
	}
	for _, d := range c.Descriptors {
		desc := newDescriptor(d)
		desc.owner = char
		descriptors = append(descriptors, desc)
	}
	// Sort by UUID for consistent ordering
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].UUID() < descriptors[j].UUID()
	})

	char.descriptors = descriptors
	return char
}

func (c *Characteristic) UUID() string {
	return c.uuid
}

func (c *Characteristic) Descriptors() []device.Descriptor {
	return c.descriptors
}

// CanNotify reports whether the characteristic supports notifications or indications
func (c *Characteristic) CanNotify() bool {
	return c.BLEChar != nil && c.BLEChar.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// Descriptor wraps a discovered ble.Descriptor.
// Note: on macOS go-ble does not populate descriptor handles; CoreBluetooth
// manages the CCCD itself when subscribing.
type Descriptor struct {
	uuid    string
	BLEDesc *ble.Descriptor
	owner   *Characteristic

	mu    sync.RWMutex
	value []byte
}

func newDescriptor(d *ble.Descriptor) *Descriptor {
	return &Descriptor{
		uuid:    device.NormalizeUUID(d.UUID.String()),
		BLEDesc: d,
		value:   d.Value,
	}
}

func (d *Descriptor) UUID() string {
	return d.uuid
}

// Value returns the locally staged descriptor value.
// IMPORTANT: The returned slice is READ-ONLY.
func (d *Descriptor) Value() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

func (d *Descriptor) SetValue(value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = append([]byte(nil), value...)
}
