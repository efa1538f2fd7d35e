package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blemidi/internal/device"
	goble "github.com/srg/blemidi/internal/device/go-ble"
	"github.com/srg/blemidi/internal/testutils"
	"github.com/srg/blemidi/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ConnectionTestSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	peripheral *testutils.MockPeripheral
	origDial   func(ctx context.Context, address string) (goble.GATTClient, error)
}

func (suite *ConnectionTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.peripheral = testutils.NewMIDIPeripheral("Piano").Build()
	suite.origDial = goble.Dial
	goble.Dial = func(context.Context, string) (goble.GATTClient, error) {
		return suite.peripheral.Client, nil
	}
}

func (suite *ConnectionTestSuite) TearDownTest() {
	goble.Dial = suite.origDial
}

func (suite *ConnectionTestSuite) connect() *goble.Connection {
	conn, err := goble.Connect(context.Background(), "aa:bb:cc:dd:ee:ff", &goble.ConnectOptions{
		ConnectTimeout: time.Second,
		ReadTimeout:    100 * time.Millisecond,
		MTU:            185,
	}, suite.helper.Logger)
	suite.Require().NoError(err, "MUST connect successfully")
	suite.Require().NotNil(conn, "connection MUST not be nil")
	return conn
}

func (suite *ConnectionTestSuite) TestConnect() {
	suite.Run("discovers profile", func() {
		// GOAL: Verify Connect dials, discovers the profile and indexes services
		//
		// TEST SCENARIO: Connect to MIDI peripheral → services indexed by normalized UUID → name reported

		conn := suite.connect()
		defer conn.Disconnect()

		suite.Assert().Equal("Piano", conn.Name(), "name MUST come from the client")
		suite.Assert().Equal("aa:bb:cc:dd:ee:ff", conn.Address())
		suite.Assert().Equal([]string{device.MIDIService, "1800"}, conn.ServiceUUIDs(), "services MUST be sorted and normalized")
		suite.peripheral.Client.AssertCalled(suite.T(), "DiscoverProfile", true)
		suite.peripheral.Client.AssertCalled(suite.T(), "ExchangeMTU", 185)
	})

	suite.Run("empty address", func() {
		_, err := goble.Connect(context.Background(), "  ", nil, suite.helper.Logger)
		suite.Assert().Error(err, "MUST reject empty address")
	})

	suite.Run("dial failure is normalized", func() {
		goble.Dial = func(context.Context, string) (goble.GATTClient, error) {
			return nil, goble.NormalizeError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
		}
		defer func() {
			goble.Dial = func(context.Context, string) (goble.GATTClient, error) {
				return suite.peripheral.Client, nil
			}
		}()

		_, err := goble.Connect(context.Background(), "aa:bb:cc:dd:ee:ff", nil, suite.helper.Logger)
		suite.Assert().ErrorIs(err, device.ErrBluetoothOff, "MUST surface bluetooth off")
	})

	suite.Run("discovery failure cancels the connection", func() {
		client := &mocks.MockClient{}
		client.On("DiscoverProfile", true).Return(nil, errors.New("att: timeout"))
		client.On("CancelConnection").Return(nil)
		goble.Dial = func(context.Context, string) (goble.GATTClient, error) { return client, nil }
		defer func() {
			goble.Dial = func(context.Context, string) (goble.GATTClient, error) {
				return suite.peripheral.Client, nil
			}
		}()

		_, err := goble.Connect(context.Background(), "aa:bb:cc:dd:ee:ff", nil, suite.helper.Logger)
		suite.Assert().ErrorContains(err, "failed to discover profile")
		client.AssertCalled(suite.T(), "CancelConnection")
	})
}

func (suite *ConnectionTestSuite) TestResolve() {
	conn := suite.connect()
	defer conn.Disconnect()

	suite.Run("service by any UUID form", func() {
		for _, uuid := range []string{"1800", "0x1800", "00001800-0000-1000-8000-00805f9b34fb", "03B80E5A-EDE8-4B33-A751-6CE34EC4C700"} {
			svc, err := conn.ResolveService(uuid)
			suite.Assert().NoError(err, "MUST resolve %s", uuid)
			suite.Assert().NotNil(svc)
		}
	})

	suite.Run("missing service lists discovered ones", func() {
		// GOAL: Verify the NotFoundError carries the discovered services for diagnostics
		//
		// TEST SCENARIO: Resolve unknown service → NotFoundError → Available lists discovered UUIDs

		_, err := conn.ResolveService("180d")
		var nf *device.NotFoundError
		suite.Require().ErrorAs(err, &nf)
		suite.Assert().Equal("service", nf.Resource)
		suite.Assert().Equal([]string{device.MIDIService, "1800"}, nf.Available)
		suite.Assert().ErrorIs(err, &device.NotFoundError{Resource: "service"})
	})

	suite.Run("characteristic with descriptors", func() {
		svc, err := conn.ResolveService(device.MIDIService)
		suite.Require().NoError(err)

		char, err := conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
		suite.Require().NoError(err)
		suite.Assert().Equal(device.MIDICharacteristic, char.UUID())
		suite.Require().Len(char.Descriptors(), 1)
		suite.Assert().Equal(device.DescriptorClientConfig, char.Descriptors()[0].UUID())
		suite.Assert().True(char.(*goble.Characteristic).CanNotify(), "MIDI I/O MUST support notify")
	})

	suite.Run("missing characteristic", func() {
		svc, err := conn.ResolveService("1800")
		suite.Require().NoError(err)

		_, err = conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
		var nf *device.NotFoundError
		suite.Require().ErrorAs(err, &nf)
		suite.Assert().Equal("characteristic", nf.Resource)
		suite.Assert().Equal([]string{"2a00"}, nf.Available)
	})
}

func (suite *ConnectionTestSuite) TestNotifications() {
	conn := suite.connect()

	svc, err := conn.ResolveService(device.MIDIService)
	suite.Require().NoError(err)
	char, err := conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
	suite.Require().NoError(err)

	received := make(chan []byte, 1)
	suite.Require().NoError(conn.EnableNotifications(char, func(data []byte) {
		received <- data
	}))
	suite.Require().True(suite.peripheral.Notify(device.MIDICharacteristic, []byte{0x80, 0x80, 0xf8}))

	select {
	case data := <-received:
		suite.Assert().Equal([]byte{0x80, 0x80, 0xf8}, data)
	case <-time.After(time.Second):
		suite.Fail("notification MUST be delivered")
	}

	suite.Require().NoError(conn.Disconnect())
	suite.Assert().False(suite.peripheral.Subscribed(device.MIDICharacteristic), "Disconnect MUST unsubscribe")
	suite.Assert().ErrorIs(conn.EnableNotifications(char, func([]byte) {}), device.ErrNotConnected)
}

func (suite *ConnectionTestSuite) TestWriteDescriptor() {
	conn := suite.connect()
	defer conn.Disconnect()

	svc, _ := conn.ResolveService(device.MIDIService)
	char, err := conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
	suite.Require().NoError(err)

	cccd := char.Descriptors()[0]
	suite.Require().NoError(conn.WriteDescriptor(cccd, device.EnableNotifications.Bytes()))
	suite.Assert().Equal([][]byte{{0x01, 0x00}}, suite.peripheral.DescriptorWrites(device.DescriptorClientConfig))
	suite.Assert().Equal([]byte{0x01, 0x00}, cccd.Value(), "written value MUST be staged locally")

	suite.Assert().Error(conn.WriteDescriptor(&mocks.Descriptor{ID: "2902"}, []byte{1, 0}), "foreign descriptor MUST be rejected")
}

func (suite *ConnectionTestSuite) TestSubscribeWritesClientConfig() {
	// GOAL: Verify the CCCD is written once when notifications are enabled and then configured explicitly
	//
	// TEST SCENARIO: EnableNotifications → go-ble writes 01 00 → WriteDescriptor(01 00) staged only → WriteDescriptor(00 00) written

	conn := suite.connect()
	defer conn.Disconnect()

	svc, _ := conn.ResolveService(device.MIDIService)
	char, err := conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
	suite.Require().NoError(err)

	suite.Require().NoError(conn.EnableNotifications(char, func([]byte) {}))
	suite.Assert().Equal([][]byte{{0x01, 0x00}}, suite.peripheral.DescriptorWrites(device.DescriptorClientConfig))

	cccd := char.Descriptors()[0]
	suite.Require().NoError(conn.WriteDescriptor(cccd, device.EnableNotifications.Bytes()))
	suite.Assert().Equal([][]byte{{0x01, 0x00}}, suite.peripheral.DescriptorWrites(device.DescriptorClientConfig),
		"enabling notifications again MUST NOT issue a second GATT write")
	suite.Assert().Equal([]byte{0x01, 0x00}, cccd.Value(), "value MUST still be staged locally")

	suite.Require().NoError(conn.WriteDescriptor(cccd, []byte{0x00, 0x00}))
	suite.Assert().Equal([][]byte{{0x01, 0x00}, {0x00, 0x00}}, suite.peripheral.DescriptorWrites(device.DescriptorClientConfig),
		"other values MUST reach the peripheral")
}

func (suite *ConnectionTestSuite) TestWriteCharacteristic() {
	// GOAL: Verify characteristic writes honour write-without-response and fail once disconnected
	//
	// TEST SCENARIO: Write MIDI packet → noRsp write recorded → Disconnect → ErrNotConnected

	conn := suite.connect()
	suite.Assert().Equal(goble.DefaultMTU, conn.MTU(), "MTU MUST be the value returned by the exchange")

	svc, _ := conn.ResolveService(device.MIDIService)
	char, err := conn.ResolveCharacteristic(svc, device.MIDICharacteristic)
	suite.Require().NoError(err)

	suite.Require().NoError(conn.WriteCharacteristic(char, []byte{0x80, 0x80, 0xf8}))
	suite.Assert().Equal([]testutils.CharacteristicWrite{{Value: []byte{0x80, 0x80, 0xf8}, NoResponse: true}},
		suite.peripheral.CharacteristicWrites(device.MIDICharacteristic))

	suite.Assert().Error(conn.WriteCharacteristic(&mocks.Characteristic{ID: "2a19"}, []byte{0x80}),
		"unknown characteristic MUST be rejected")

	suite.Require().NoError(conn.Disconnect())
	suite.Assert().ErrorIs(conn.WriteCharacteristic(char, []byte{0x80, 0x80, 0xf8}), device.ErrNotConnected)
	suite.Assert().Len(suite.peripheral.CharacteristicWrites(device.MIDICharacteristic), 1)
}

func (suite *ConnectionTestSuite) TestReadCharacteristic() {
	suite.Run("read value", func() {
		conn := suite.connect()
		defer conn.Disconnect()

		svc, _ := conn.ResolveService("1800")
		char, err := conn.ResolveCharacteristic(svc, "2a00")
		suite.Require().NoError(err)

		data, err := conn.ReadCharacteristic(char)
		suite.Require().NoError(err)
		suite.Assert().Equal([]byte("Piano"), data)
	})

	suite.Run("read timeout", func() {
		// GOAL: Verify an unresponsive peripheral does not block reads forever
		//
		// TEST SCENARIO: ReadCharacteristic blocks past ReadTimeout → ErrTimeout returned

		client := &mocks.MockClient{}
		profile := &blelib.Profile{Services: []*blelib.Service{{
			UUID: blelib.MustParse("1800"),
			Characteristics: []*blelib.Characteristic{{
				UUID:     blelib.MustParse("2a00"),
				Property: blelib.CharRead,
			}},
		}}}
		client.On("ReadCharacteristic", mock.Anything).After(500*time.Millisecond).Return([]byte{1}, nil)
		client.On("CancelConnection").Return(nil)

		conn := goble.NewConnection(context.Background(), client, "aa:bb:cc:dd:ee:ff", profile,
			&goble.ConnectOptions{ReadTimeout: 20 * time.Millisecond}, suite.helper.Logger)
		defer conn.Disconnect()

		svc, _ := conn.ResolveService("1800")
		char, err := conn.ResolveCharacteristic(svc, "2a00")
		suite.Require().NoError(err)

		_, err = conn.ReadCharacteristic(char)
		suite.Assert().ErrorIs(err, device.ErrTimeout)
	})
}

func (suite *ConnectionTestSuite) TestDisconnect() {
	suite.Run("idempotent", func() {
		conn := suite.connect()

		suite.Assert().NoError(conn.Disconnect())
		suite.Assert().NoError(conn.Disconnect(), "second Disconnect MUST be a no-op")
		suite.peripheral.Client.AssertNumberOfCalls(suite.T(), "CancelConnection", 1)

		select {
		case <-conn.Done():
		default:
			suite.Fail("Done MUST be closed after Disconnect")
		}
		suite.Assert().ErrorIs(conn.Err(), context.Canceled)
	})

	suite.Run("peripheral initiated", func() {
		// GOAL: Verify a link loss reported by the client ends the connection
		//
		// TEST SCENARIO: Client closes Disconnected() → Done closes → Err is ErrNotConnected

		client := mocks.NewDisconnectingClient()
		client.On("CancelConnection").Return(nil)

		conn := goble.NewConnection(context.Background(), client, "aa:bb:cc:dd:ee:ff", &blelib.Profile{}, nil, suite.helper.Logger)
		suite.Assert().NoError(conn.Err(), "live connection MUST have no error")

		close(client.Disconnect)

		select {
		case <-conn.Done():
		case <-time.After(time.Second):
			suite.FailNow("Done MUST close after peripheral disconnect")
		}
		suite.Assert().ErrorIs(conn.Err(), device.ErrNotConnected)
		suite.Assert().NoError(conn.Disconnect())
	})
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
