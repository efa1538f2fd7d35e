package testutils

import (
	"encoding/json"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
	goble "github.com/srg/blemidi/internal/device/go-ble"
	"github.com/srg/blemidi/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties,omitempty"` // e.g., "read,notify"
	Value       []byte   `json:"value,omitempty"`
	Descriptors []string `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig represents the complete peripheral profile for mocking
type PeripheralConfig struct {
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a mocked GATT client with full service/characteristic/descriptor support
type PeripheralBuilder struct {
	profile      PeripheralConfig
	subscribeErr error
	readErr      error
	writeErr     error
}

// NewPeripheralBuilder creates a new peripheral builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// NewMIDIPeripheral preconfigures a peripheral exposing the BLE-MIDI service,
// its I/O characteristic and a CCCD.
func NewMIDIPeripheral(name string) *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithName(name).
		WithService("1800").
		WithCharacteristic("2a00", "read", []byte(name)).
		WithService(device.MIDIService).
		WithCharacteristic(device.MIDICharacteristic, "read,writenr,notify", []byte{}, device.DescriptorClientConfig)
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte, descriptors ...string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Value:       value,
		Descriptors: descriptors,
	})
	return b
}

// WithSubscribeError makes every Subscribe call fail
func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.subscribeErr = err
	return b
}

// WithReadError makes every ReadCharacteristic call fail
func (b *PeripheralBuilder) WithReadError(err error) *PeripheralBuilder {
	b.readErr = err
	return b
}

// WithWriteError makes every WriteDescriptor and WriteCharacteristic call fail
func (b *PeripheralBuilder) WithWriteError(err error) *PeripheralBuilder {
	b.writeErr = err
	return b
}

// FromJSON fills the peripheral profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var config PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// parseCharacteristicProperties converts property string to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range splitComma(props) {
		switch p {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "writenr":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// MockPeripheral is a built peripheral: the mocked client, its profile and the
// notification handlers registered through Subscribe.
type MockPeripheral struct {
	Client  *mocks.MockClient
	Profile *blelib.Profile

	mu       sync.Mutex
	handlers map[string]blelib.NotificationHandler // keyed by normalized characteristic UUID
	writes   map[string][][]byte                   // keyed by normalized descriptor UUID
	values   map[string][]CharacteristicWrite      // keyed by normalized characteristic UUID
}

// CharacteristicWrite is one recorded WriteCharacteristic call
type CharacteristicWrite struct {
	Value      []byte
	NoResponse bool
}

// Build creates the mocked client with expectations for every configured attribute
func (b *PeripheralBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		Client:   &mocks.MockClient{},
		handlers: make(map[string]blelib.NotificationHandler),
		writes:   make(map[string][][]byte),
		values:   make(map[string][]CharacteristicWrite),
	}

	var services []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			char := &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			for i, d := range charConfig.Descriptors {
				desc := &blelib.Descriptor{
					UUID:   blelib.MustParse(d),
					Handle: uint16(0x10 + i),
				}
				char.Descriptors = append(char.Descriptors, desc)
				if device.NormalizeUUID(d) == device.DescriptorClientConfig {
					char.CCCD = desc
				}
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		services = append(services, svc)
	}
	p.Profile = &blelib.Profile{Services: services}

	c := p.Client
	c.On("Name").Return(b.profile.Name).Maybe()
	c.On("DiscoverProfile", true).Return(p.Profile, nil).Maybe()
	c.On("ExchangeMTU", mock.Anything).Return(goble.DefaultMTU, nil).Maybe()
	c.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range services {
		for _, char := range svc.Characteristics {
			char := char
			uuid := device.NormalizeUUID(char.UUID.String())

			c.On("Subscribe", char, false, mock.Anything).Return(b.subscribeErr).Run(func(args mock.Arguments) {
				if b.subscribeErr != nil {
					return
				}
				p.mu.Lock()
				p.handlers[uuid] = args.Get(2).(blelib.NotificationHandler)
				// go-ble enables notifications through the CCCD as part of Subscribe
				if char.CCCD != nil {
					p.writes[device.DescriptorClientConfig] = append(p.writes[device.DescriptorClientConfig], device.EnableNotifications.Bytes())
				}
				p.mu.Unlock()
			}).Maybe()
			c.On("Unsubscribe", char, false).Return(nil).Run(func(mock.Arguments) {
				p.mu.Lock()
				delete(p.handlers, uuid)
				p.mu.Unlock()
			}).Maybe()

			c.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(b.writeErr).Run(func(args mock.Arguments) {
				if b.writeErr != nil {
					return
				}
				p.mu.Lock()
				p.values[uuid] = append(p.values[uuid], CharacteristicWrite{
					Value:      append([]byte(nil), args.Get(1).([]byte)...),
					NoResponse: args.Bool(2),
				})
				p.mu.Unlock()
			}).Maybe()

			switch {
			case b.readErr != nil:
				c.On("ReadCharacteristic", char).Return(nil, b.readErr).Maybe()
			case char.Property&blelib.CharRead != 0:
				c.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			default:
				c.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}

			for _, d := range char.Descriptors {
				descUUID := device.NormalizeUUID(d.UUID.String())
				c.On("WriteDescriptor", d, mock.Anything).Return(b.writeErr).Run(func(args mock.Arguments) {
					if b.writeErr != nil {
						return
					}
					p.mu.Lock()
					p.writes[descUUID] = append(p.writes[descUUID], args.Get(1).([]byte))
					p.mu.Unlock()
				}).Maybe()
			}
		}
	}

	return p
}

// Connection wraps the mocked client in a goble.Connection
func (p *MockPeripheral) Connection(address string, logger *logrus.Logger) *goble.Connection {
	return goble.NewConnection(nil, p.Client, address, p.Profile, nil, logger)
}

// Notify delivers data to the handler subscribed on charUUID.
// Returns false if nothing is subscribed.
func (p *MockPeripheral) Notify(charUUID string, data []byte) bool {
	p.mu.Lock()
	h, ok := p.handlers[device.NormalizeUUID(charUUID)]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether a handler is registered for charUUID
func (p *MockPeripheral) Subscribed(charUUID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[device.NormalizeUUID(charUUID)]
	return ok
}

// DescriptorWrites returns the values written to descUUID, in order
func (p *MockPeripheral) DescriptorWrites(descUUID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes[device.NormalizeUUID(descUUID)]...)
}

// CharacteristicWrites returns the WriteCharacteristic calls made on charUUID, in order
func (p *MockPeripheral) CharacteristicWrites(charUUID string) []CharacteristicWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CharacteristicWrite(nil), p.values[device.NormalizeUUID(charUUID)]...)
}
