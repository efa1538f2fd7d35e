package blemidi

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
)

// Subscriber performs the one-time handshake that routes MIDI notifications
// of a connected peer to a handler.
type Subscriber struct {
	logger *logrus.Logger
}

func NewSubscriber(logger *logrus.Logger) *Subscriber {
	if logger == nil {
		logger = logrus.New()
	}
	return &Subscriber{logger: logger}
}

// Configure resolves the MIDI service and characteristic, enables notifications
// with handler, writes every CCCD and reads the characteristic once.
//
// Steps run sequentially without retries. Any failure is fatal for the session;
// calling Configure again after a fresh connection is safe. ctx is checked
// between steps so a cancelled caller stops issuing GATT requests.
func (s *Subscriber) Configure(ctx context.Context, t device.Transport, handler device.NotificationHandler) error {
	if t == nil {
		return fmt.Errorf("transport is nil")
	}
	if handler == nil {
		return fmt.Errorf("notification handler is nil")
	}
	logger := s.logger.WithField("address", t.Address())

	char, err := resolveCharacteristic(ctx, t, logger)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.EnableNotifications(char, handler); err != nil {
		return fmt.Errorf("failed to enable MIDI notifications: %w", err)
	}

	written := 0
	for _, desc := range char.Descriptors() {
		if !device.IsClientConfig(desc) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		value := EnableNotificationValue()
		desc.SetValue(value)
		if err := t.WriteDescriptor(desc, value); err != nil {
			return fmt.Errorf("failed to write client configuration descriptor: %w", err)
		}
		written++
	}
	if written == 0 {
		logger.WithField("char_uuid", char.UUID()).Warn("MIDI characteristic has no client configuration descriptor")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.ReadCharacteristic(char); err != nil {
		return fmt.Errorf("failed to read MIDI characteristic: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"char_uuid":   char.UUID(),
		"descriptors": written,
	}).Info("MIDI notifications configured")
	return nil
}

// resolveCharacteristic looks up the MIDI I/O characteristic of t. A missing
// service or characteristic is reported as a SetupError.
func resolveCharacteristic(ctx context.Context, t device.Transport, logger *logrus.Entry) (device.Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svc, err := t.ResolveService(ServiceUUID)
	if err != nil {
		var nf *device.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("failed to resolve MIDI service: %w", err)
		}
		discovered := t.ServiceUUIDs()
		logger.WithField("discovered", discovered).Error("MIDI service not found")
		return nil, &SetupError{
			Kind:       ServiceNotFound,
			Peer:       t.Address(),
			UUID:       ServiceUUID,
			Discovered: discovered,
			Err:        err,
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	char, err := t.ResolveCharacteristic(svc, CharacteristicUUID)
	if err != nil {
		var nf *device.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("failed to resolve MIDI characteristic: %w", err)
		}
		logger.WithField("service_uuid", svc.UUID()).Error("MIDI characteristic not found")
		return nil, &SetupError{
			Kind:    CharacteristicNotFound,
			Peer:    t.Address(),
			UUID:    CharacteristicUUID,
			Service: svc.UUID(),
			Err:     err,
		}
	}
	return char, nil
}
