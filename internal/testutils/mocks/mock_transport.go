package mocks

import (
	"sync"

	"github.com/srg/blemidi/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock of device.Transport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Name() string {
	return m.Called().String(0)
}

func (m *MockTransport) Address() string {
	return m.Called().String(0)
}

func (m *MockTransport) ServiceUUIDs() []string {
	uuids, _ := m.Called().Get(0).([]string)
	return uuids
}

func (m *MockTransport) ResolveService(uuid string) (device.Service, error) {
	args := m.Called(uuid)
	svc, _ := args.Get(0).(device.Service)
	return svc, args.Error(1)
}

func (m *MockTransport) ResolveCharacteristic(svc device.Service, uuid string) (device.Characteristic, error) {
	args := m.Called(svc, uuid)
	char, _ := args.Get(0).(device.Characteristic)
	return char, args.Error(1)
}

func (m *MockTransport) EnableNotifications(char device.Characteristic, handler device.NotificationHandler) error {
	args := m.Called(char, handler)
	return args.Error(0)
}

func (m *MockTransport) WriteDescriptor(desc device.Descriptor, value []byte) error {
	args := m.Called(desc, value)
	return args.Error(0)
}

func (m *MockTransport) ReadCharacteristic(char device.Characteristic) ([]byte, error) {
	args := m.Called(char)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockTransport) WriteCharacteristic(char device.Characteristic, value []byte) error {
	args := m.Called(char, value)
	return args.Error(0)
}

// Service is a static device.Service
type Service struct {
	ID string
}

func (s *Service) UUID() string { return s.ID }

// Characteristic is a static device.Characteristic
type Characteristic struct {
	ID    string
	Descs []device.Descriptor
}

func (c *Characteristic) UUID() string                     { return c.ID }
func (c *Characteristic) Descriptors() []device.Descriptor { return c.Descs }

// Descriptor is an in-memory device.Descriptor
type Descriptor struct {
	ID string

	mu  sync.Mutex
	val []byte
}

func (d *Descriptor) UUID() string { return d.ID }

func (d *Descriptor) Value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.val
}

func (d *Descriptor) SetValue(value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.val = append([]byte(nil), value...)
}
