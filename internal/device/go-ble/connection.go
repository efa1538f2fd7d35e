package goble

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
	"github.com/srg/blemidi/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds dialing and profile discovery
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout is the default timeout for characteristic read operations.
	// This prevents indefinite blocking if a device becomes unresponsive during a read.
	DefaultReadTimeout = 5 * time.Second

	// DefaultMTU is the ATT_MTU requested after connecting (BLE 4.0 minimum)
	DefaultMTU = 23
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// GATTClient is the subset of ble.Client used by Connection
type GATTClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	CancelConnection() error
}

// Dial opens a GATT client to address (can be overridden in tests)
var Dial = func(ctx context.Context, address string) (GATTClient, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MTU            int // 0 skips the MTU exchange
}

func (o *ConnectOptions) withDefaults() ConnectOptions {
	out := ConnectOptions{}
	if o != nil {
		out = *o
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	return out
}

// Connection is a live GATT connection to one peripheral. It implements device.Transport.
type Connection struct {
	client  GATTClient
	address string
	opts    ConnectOptions
	logger  *logrus.Logger

	services map[string]*Service // keyed by normalized UUID, immutable after construction
	mtu      int                 // negotiated ATT MTU, 0 when not exchanged

	subMu      sync.Mutex
	subscribed []*Characteristic

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool
}

// Connect dials address, discovers the GATT profile and negotiates the MTU.
func Connect(ctx context.Context, address string, opts *ConnectOptions, logger *logrus.Logger) (*Connection, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(address) == "" {
		logger.Error("Connection attempt with empty address")
		return nil, fmt.Errorf("device address is empty")
	}
	o := opts.withDefaults()

	logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": o.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := Dial(connCtx, address)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}

	logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	negotiated := 0
	if o.MTU > 0 {
		txMTU, err := client.ExchangeMTU(o.MTU)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"mtu":   o.MTU,
				"error": err,
			}).Warn("MTU exchange failed, using the negotiated default")
		} else {
			logger.WithField("mtu", txMTU).Debug("MTU exchanged")
			negotiated = txMTU
		}
	}

	conn := NewConnection(ctx, client, address, profile, &o, logger)
	conn.mtu = negotiated
	return conn, nil
}

// NewConnection wraps an already dialed client and its discovered profile.
// The connection is cancelled when parent is done or the client reports a disconnect.
func NewConnection(parent context.Context, client GATTClient, address string, profile *ble.Profile, opts *ConnectOptions, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	if parent == nil {
		parent = context.Background()
	}

	c := &Connection{
		client:   client,
		address:  address,
		opts:     opts.withDefaults(),
		logger:   logger,
		services: make(map[string]*Service),
	}
	c.ctx, c.cancel = context.WithCancelCause(parent)

	totalChars := 0
	if profile != nil {
		for _, bleSvc := range profile.Services {
			svc := newService(bleSvc)
			c.services[svc.uuid] = svc
			totalChars += len(svc.characteristics)
			logger.WithFields(logrus.Fields{
				"service_uuid":    svc.uuid,
				"characteristics": len(svc.characteristics),
			}).Debug("Found service")
		}
	}

	// Monitor go-ble client Disconnected() channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				logger.WithField("address", address).Warn("Peripheral reported disconnection, cancelling connection context")
				c.cancel(device.ErrNotConnected)
			case <-c.ctx.Done():
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(c.services),
		"characteristics": totalChars,
	}).Info("BLE device connected successfully")
	return c
}

// Name returns the peripheral name, falling back to its address
func (c *Connection) Name() string {
	if name := c.client.Name(); name != "" {
		return name
	}
	return c.address
}

func (c *Connection) Address() string {
	return c.address
}

// MTU returns the negotiated ATT MTU, or DefaultMTU when none was exchanged
func (c *Connection) MTU() int {
	if c.mtu > 0 {
		return c.mtu
	}
	return DefaultMTU
}

// ServiceUUIDs returns the normalized UUIDs of all discovered services, sorted
func (c *Connection) ServiceUUIDs() []string {
	out := make([]string, 0, len(c.services))
	for uuid := range c.services {
		out = append(out, uuid)
	}
	sort.Strings(out)
	return out
}

// ResolveService looks up a discovered service by UUID.
// Returns a NotFoundError listing the discovered services if absent.
func (c *Connection) ResolveService(uuid string) (device.Service, error) {
	svc, ok := c.services[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}, Available: c.ServiceUUIDs()}
	}
	return svc, nil
}

// ResolveCharacteristic looks up a characteristic within svc
func (c *Connection) ResolveCharacteristic(svc device.Service, uuid string) (device.Characteristic, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is nil")
	}
	s, ok := c.services[device.NormalizeUUID(svc.UUID())]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svc.UUID()}, Available: c.ServiceUUIDs()}
	}
	char, ok := s.characteristics[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}, Available: s.CharacteristicUUIDs()}
	}
	return char, nil
}

// EnableNotifications subscribes to value-change notifications of char.
// handler runs on the go-ble delivery goroutine.
//
// go-ble writes the client configuration descriptor itself while subscribing,
// and its Linux client refuses characteristics without one, so on this adapter
// a missing 0x2902 fails here instead of being tolerated by the caller. A later
// WriteDescriptor enabling the same notifications is staged without a second
// GATT write.
func (c *Connection) EnableNotifications(char device.Characteristic, handler device.NotificationHandler) error {
	if c.closed.Load() {
		return device.ErrNotConnected
	}
	bc, err := c.characteristic(char)
	if err != nil {
		return err
	}

	if err := NormalizeError(c.client.Subscribe(bc.BLEChar, false, func(data []byte) {
		handler(data)
	})); err != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid": bc.uuid,
			"error":     err,
		}).Error("Failed to subscribe to characteristic notifications")
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", bc.uuid, err)
	}

	c.subMu.Lock()
	c.subscribed = append(c.subscribed, bc)
	c.subMu.Unlock()

	c.logger.WithField("char_uuid", bc.uuid).Info("Successfully subscribed to characteristic notifications")
	return nil
}

// WriteDescriptor writes value to desc on the peripheral
func (c *Connection) WriteDescriptor(desc device.Descriptor, value []byte) error {
	if c.closed.Load() {
		return device.ErrNotConnected
	}
	d, ok := desc.(*Descriptor)
	if !ok || d.BLEDesc == nil {
		return fmt.Errorf("descriptor %s does not belong to this connection", desc.UUID())
	}

	if device.IsClientConfig(d) && c.isSubscribed(d.owner) && bytes.Equal(value, device.EnableNotifications.Bytes()) {
		d.SetValue(value)
		c.logger.WithField("char_uuid", d.owner.uuid).Debug("Client configuration already written by subscribe")
		return nil
	}

	if err := NormalizeError(c.client.WriteDescriptor(d.BLEDesc, value)); err != nil {
		return fmt.Errorf("failed to write descriptor %s: %w", d.uuid, err)
	}
	d.SetValue(value)
	return nil
}

// WriteCharacteristic writes value to char. Characteristics that support it
// are written without response.
func (c *Connection) WriteCharacteristic(char device.Characteristic, value []byte) error {
	if c.closed.Load() {
		return device.ErrNotConnected
	}
	bc, err := c.characteristic(char)
	if err != nil {
		return err
	}

	noRsp := bc.BLEChar.Property&ble.CharWriteNR != 0
	if err := NormalizeError(c.client.WriteCharacteristic(bc.BLEChar, value, noRsp)); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", bc.uuid, err)
	}
	return nil
}

func (c *Connection) isSubscribed(char *Characteristic) bool {
	if char == nil {
		return false
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subscribed {
		if sub == char {
			return true
		}
	}
	return false
}

// ReadCharacteristic reads the current value of char with the configured timeout
func (c *Connection) ReadCharacteristic(char device.Characteristic) ([]byte, error) {
	if c.closed.Load() {
		return nil, device.ErrNotConnected
	}
	bc, err := c.characteristic(char)
	if err != nil {
		return nil, err
	}

	// Perform read with timeout to prevent indefinite blocking
	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	groutine.Go(c.ctx, "ble-characteristic-read", func(context.Context) {
		data, err := c.client.ReadCharacteristic(bc.BLEChar)
		resultCh <- readResult{data: data, err: err}
	})

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", bc.uuid, NormalizeError(result.err))
		}
		return result.data, nil
	case <-time.After(c.opts.ReadTimeout):
		return nil, fmt.Errorf("reading characteristic %s after %v: %w", bc.uuid, c.opts.ReadTimeout, device.ErrTimeout)
	}
}

// Done is closed when the connection is lost or disconnected
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the reason the connection ended, or nil while it is alive
func (c *Connection) Err() error {
	if c.ctx.Err() == nil {
		return nil
	}
	return context.Cause(c.ctx)
}

// Disconnect unsubscribes from notifications and cancels the connection. Idempotent.
func (c *Connection) Disconnect() error {
	if !c.closed.CompareAndSwap(false, true) {
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")

	c.subMu.Lock()
	subscribed := c.subscribed
	c.subscribed = nil
	c.subMu.Unlock()

	var unsubscribeErrors []string
	for _, char := range subscribed {
		if err := NormalizeError(c.client.Unsubscribe(char.BLEChar, false)); err != nil {
			unsubscribeErrors = append(unsubscribeErrors, fmt.Sprintf("%s: %v", char.uuid, err))
		}
	}
	if len(unsubscribeErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	c.cancel(nil)

	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("BLE device disconnected successfully")
	return nil
}

// characteristic maps a device.Characteristic back to this connection's wrapper
func (c *Connection) characteristic(char device.Characteristic) (*Characteristic, error) {
	if bc, ok := char.(*Characteristic); ok && bc.BLEChar != nil {
		return bc, nil
	}
	if char == nil {
		return nil, fmt.Errorf("characteristic is nil")
	}
	uuid := device.NormalizeUUID(char.UUID())
	for _, svc := range c.services {
		if bc, ok := svc.characteristics[uuid]; ok {
			return bc, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
}

var _ device.Transport = (*Connection)(nil)
