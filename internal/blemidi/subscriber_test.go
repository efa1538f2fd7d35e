package blemidi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/device"
	"github.com/srg/blemidi/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type SubscriberTestSuite struct {
	suite.Suite

	logger    *logrus.Logger
	hook      *test.Hook
	transport *mocks.MockTransport
	service   *mocks.Service
	char      *mocks.Characteristic
	cccd      *mocks.Descriptor
}

func (suite *SubscriberTestSuite) SetupTest() {
	suite.logger, suite.hook = test.NewNullLogger()
	suite.transport = &mocks.MockTransport{}
	suite.service = &mocks.Service{ID: blemidi.ServiceUUID}
	suite.cccd = &mocks.Descriptor{ID: "2902"}
	suite.char = &mocks.Characteristic{
		ID:    blemidi.CharacteristicUUID,
		Descs: []device.Descriptor{&mocks.Descriptor{ID: "2901"}, suite.cccd},
	}

	suite.transport.On("Address").Return("aa:bb:cc:dd:ee:ff").Maybe()
	suite.transport.On("Name").Return("Keys").Maybe()
}

// happyPath registers a transport that accepts every step
func (suite *SubscriberTestSuite) happyPath() {
	suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
	suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
	suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(nil)
	suite.transport.On("WriteDescriptor", suite.cccd, []byte{0x01, 0x00}).Return(nil)
	suite.transport.On("ReadCharacteristic", suite.char).Return([]byte{}, nil)
}

func (suite *SubscriberTestSuite) methodOrder() []string {
	var out []string
	for _, c := range suite.transport.Calls {
		if c.Method == "Address" || c.Method == "Name" {
			continue
		}
		out = append(out, c.Method)
	}
	return out
}

func (suite *SubscriberTestSuite) TestHandshakeOrder() {
	// GOAL: Verify the handshake issues GATT requests in the required order
	//
	// TEST SCENARIO: Configure on a MIDI peer → service, characteristic, notify, CCCD write, read

	suite.happyPath()

	err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})

	suite.Require().NoError(err)
	suite.Assert().Equal([]string{
		"ResolveService",
		"ResolveCharacteristic",
		"EnableNotifications",
		"WriteDescriptor",
		"ReadCharacteristic",
	}, suite.methodOrder())
	suite.Assert().Equal([]byte{0x01, 0x00}, suite.cccd.Value(), "CCCD value MUST be staged before writing")
	suite.transport.AssertExpectations(suite.T())
}

func (suite *SubscriberTestSuite) TestHandlerIsRegistered() {
	suite.happyPath()

	var got []byte
	err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func(data []byte) {
		got = data
	})
	suite.Require().NoError(err)

	handler := suite.transport.Calls[suite.callIndex("EnableNotifications")].Arguments.Get(1).(device.NotificationHandler)
	handler([]byte{0x80, 0x80, 0xfe})
	suite.Assert().Equal([]byte{0x80, 0x80, 0xfe}, got, "registered handler MUST be the one passed to Configure")
}

func (suite *SubscriberTestSuite) callIndex(method string) int {
	for i, c := range suite.transport.Calls {
		if c.Method == method {
			return i
		}
	}
	suite.FailNow("method not called", method)
	return -1
}

func (suite *SubscriberTestSuite) TestServiceNotFound() {
	// GOAL: Verify a peer without the MIDI service fails with ServiceNotFound and its discovered services
	//
	// TEST SCENARIO: ResolveService fails → SetupError{ServiceNotFound} → no further requests

	notFound := &device.NotFoundError{Resource: "service", UUIDs: []string{blemidi.ServiceUUID}}
	suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(nil, notFound)
	suite.transport.On("ServiceUUIDs").Return([]string{"1800", "180f"})

	err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})

	suite.Require().Error(err)
	suite.Assert().ErrorIs(err, blemidi.ErrServiceNotFound)
	suite.Assert().NotErrorIs(err, blemidi.ErrCharacteristicNotFound)
	suite.Assert().ErrorIs(err, &device.NotFoundError{Resource: "service"}, "transport error MUST be unwrapped")

	var serr *blemidi.SetupError
	suite.Require().ErrorAs(err, &serr)
	suite.Assert().Equal([]string{"1800", "180f"}, serr.Discovered)
	suite.Assert().Equal("aa:bb:cc:dd:ee:ff", serr.Peer)
	suite.Assert().Contains(err.Error(), "discovered: 1800, 180f")
	suite.Assert().Equal([]string{"ResolveService", "ServiceUUIDs"}, suite.methodOrder())
}

func (suite *SubscriberTestSuite) TestCharacteristicNotFound() {
	suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
	suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).
		Return(nil, &device.NotFoundError{Resource: "characteristic"})

	err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})

	suite.Assert().ErrorIs(err, blemidi.ErrCharacteristicNotFound)
	suite.Assert().True(blemidi.IsSetupKind(err, blemidi.CharacteristicNotFound))

	var serr *blemidi.SetupError
	suite.Require().ErrorAs(err, &serr)
	suite.Assert().Equal(blemidi.ServiceUUID, serr.Service)
	suite.transport.AssertNotCalled(suite.T(), "EnableNotifications", mock.Anything, mock.Anything)
}

func (suite *SubscriberTestSuite) TestTransportFailures() {
	bleErr := errors.New("att: request not supported")

	suite.Run("non not-found resolve failure is wrapped", func() {
		suite.SetupTest()
		suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(nil, device.ErrNotConnected)

		err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})
		suite.Assert().ErrorIs(err, device.ErrNotConnected)
		suite.Assert().False(blemidi.IsSetupKind(err, blemidi.ServiceNotFound))
	})

	suite.Run("enable notifications", func() {
		suite.SetupTest()
		suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
		suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
		suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(bleErr)

		err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})
		suite.Assert().ErrorIs(err, bleErr)
		suite.Assert().ErrorContains(err, "enable MIDI notifications")
	})

	suite.Run("descriptor write", func() {
		suite.SetupTest()
		suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
		suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
		suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(nil)
		suite.transport.On("WriteDescriptor", suite.cccd, mock.Anything).Return(bleErr)

		err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})
		suite.Assert().ErrorIs(err, bleErr)
		suite.transport.AssertNotCalled(suite.T(), "ReadCharacteristic", mock.Anything)
	})

	suite.Run("initial read", func() {
		suite.SetupTest()
		suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
		suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
		suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(nil)
		suite.transport.On("WriteDescriptor", suite.cccd, mock.Anything).Return(nil)
		suite.transport.On("ReadCharacteristic", suite.char).Return(nil, device.ErrTimeout)

		err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})
		suite.Assert().ErrorIs(err, device.ErrTimeout)
	})
}

func (suite *SubscriberTestSuite) TestMissingClientConfigIsNotFatal() {
	// GOAL: Verify a characteristic without CCCD still completes setup with a warning
	//
	// TEST SCENARIO: characteristic has no 2902 → no descriptor write → read still issued → warning logged

	suite.char.Descs = nil
	suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
	suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
	suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(nil)
	suite.transport.On("ReadCharacteristic", suite.char).Return([]byte{}, nil)

	err := blemidi.NewSubscriber(suite.logger).Configure(context.Background(), suite.transport, func([]byte) {})

	suite.Require().NoError(err)
	suite.transport.AssertNotCalled(suite.T(), "WriteDescriptor", mock.Anything, mock.Anything)

	warned := false
	for _, e := range suite.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "MIDI characteristic has no client configuration descriptor" {
			warned = true
		}
	}
	suite.Assert().True(warned, "missing CCCD MUST be logged as a warning")
}

func (suite *SubscriberTestSuite) TestCancelledContext() {
	// GOAL: Verify a cancelled caller stops issuing GATT requests
	//
	// TEST SCENARIO: context cancelled once notifications are enabled → no CCCD write, no read

	ctx, cancel := context.WithCancel(context.Background())
	suite.transport.On("ResolveService", blemidi.ServiceUUID).Return(suite.service, nil)
	suite.transport.On("ResolveCharacteristic", suite.service, blemidi.CharacteristicUUID).Return(suite.char, nil)
	suite.transport.On("EnableNotifications", suite.char, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		cancel()
	})

	err := blemidi.NewSubscriber(suite.logger).Configure(ctx, suite.transport, func([]byte) {})

	suite.Assert().ErrorIs(err, context.Canceled)
	suite.Assert().Equal([]string{"ResolveService", "ResolveCharacteristic", "EnableNotifications"}, suite.methodOrder())
}

func TestSubscriberTestSuite(t *testing.T) {
	suite.Run(t, new(SubscriberTestSuite))
}
