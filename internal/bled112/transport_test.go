package bled112

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/stretchr/testify/suite"
)

const (
	testConn          byte   = 0x00
	testReceiveHandle uint16 = 0x000E
	testCCCDHandle    uint16 = 0x000F
	testSendHandle    uint16 = 0x0011
)

// fakeDongle emulates the dongle side of the serial link. Host writes are
// parsed as commands and answered by respond; replies are pumped to the host
// in order.
type fakeDongle struct {
	toHost   *io.PipeWriter
	fromPort *io.PipeReader

	mu       sync.Mutex
	commands []Frame
	respond  func(cmd Frame) []Frame

	out       chan []byte
	closeOnce sync.Once
}

func newFakeDongle() *fakeDongle {
	r, w := io.Pipe()
	d := &fakeDongle{toHost: w, fromPort: r, out: make(chan []byte, 64)}
	go func() {
		for b := range d.out {
			if _, err := d.toHost.Write(b); err != nil {
				return
			}
		}
	}()
	return d
}

func (d *fakeDongle) Read(p []byte) (int, error) {
	return d.fromPort.Read(p)
}

func (d *fakeDongle) Write(p []byte) (int, error) {
	f, _, err := ParseFrame(p)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.commands = append(d.commands, f)
	respond := d.respond
	d.mu.Unlock()

	if respond != nil {
		for _, r := range respond(f) {
			d.Inject(r)
		}
	}
	return len(p), nil
}

func (d *fakeDongle) Close() error {
	d.closeOnce.Do(func() {
		close(d.out)
		_ = d.toHost.CloseWithError(io.EOF)
	})
	return nil
}

// Inject queues an unsolicited frame for the host.
func (d *fakeDongle) Inject(f Frame) {
	d.out <- f.Bytes()
}

func (d *fakeDongle) Commands() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.commands...)
}

func (d *fakeDongle) SetResponder(fn func(cmd Frame) []Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.respond = fn
}

// boardResponder answers every command the way a dongle linked to a board does.
func boardResponder(cmd Frame) []Frame {
	ok := []byte{0x00, 0x00}
	switch {
	case cmd.Is(TypeCommand, ClassGAP, CmdGAPSetScanParameters),
		cmd.Is(TypeCommand, ClassGAP, CmdGAPDiscover),
		cmd.Is(TypeCommand, ClassGAP, CmdGAPEndProcedure):
		return []Frame{response(cmd.Class, cmd.Command, ok...)}

	case cmd.Is(TypeCommand, ClassGAP, CmdGAPConnectDirect):
		status := []byte{testConn, FlagConnected | FlagCompleted}
		status = append(status, cmd.Payload[:7]...)
		status = append(status, 0x3C, 0x00, 0x64, 0x00, 0x00, 0x00, 0xFF)
		return []Frame{
			response(ClassGAP, CmdGAPConnectDirect, 0x00, 0x00, testConn),
			event(ClassConnection, EvtConnectionStatus, status...),
		}

	case cmd.Is(TypeCommand, ClassAttClient, CmdAttClientReadByGroupType):
		return []Frame{
			response(ClassAttClient, cmd.Command, testConn, 0x00, 0x00),
			event(ClassAttClient, EvtAttClientGroupFound, testConn, 0x01, 0x00, 0x0B, 0x00, 0x02, 0x00, 0x18),
			event(ClassAttClient, EvtAttClientGroupFound, testConn, 0x0C, 0x00, 0x18, 0x00, 0x02, 0x84, 0xFE),
			event(ClassAttClient, EvtAttClientProcedureCompleted, testConn, 0x00, 0x00, 0x00, 0x00),
		}

	case cmd.Is(TypeCommand, ClassAttClient, CmdAttClientFindInformation):
		info := func(handle uint16, uuid []byte) Frame {
			p := append([]byte{testConn, byte(handle), byte(handle >> 8), byte(len(uuid))}, uuid...)
			return event(ClassAttClient, EvtAttClientFindInformationFound, p...)
		}
		return []Frame{
			response(ClassAttClient, cmd.Command, testConn, 0x00, 0x00),
			info(0x000C, []byte{0x00, 0x28}),
			info(0x000D, []byte{0x03, 0x28}),
			info(testReceiveHandle, receiveWire),
			info(testCCCDHandle, cccdWire),
			info(0x0010, []byte{0x03, 0x28}),
			info(testSendHandle, sendWire),
			event(ClassAttClient, EvtAttClientProcedureCompleted, testConn, 0x00, 0x00, 0x00, 0x00),
		}

	case cmd.Is(TypeCommand, ClassAttClient, CmdAttClientAttributeWrite):
		return []Frame{
			response(ClassAttClient, cmd.Command, testConn, 0x00, 0x00),
			event(ClassAttClient, EvtAttClientProcedureCompleted, testConn, 0x00, 0x00, cmd.Payload[1], cmd.Payload[2]),
		}

	case cmd.Is(TypeCommand, ClassConnection, CmdConnectionDisconnect):
		return []Frame{
			response(ClassConnection, cmd.Command, testConn, 0x00, 0x00),
			event(ClassConnection, EvtConnectionDisconnected, testConn, 0x16, 0x00),
		}
	}
	return nil
}

type recordingSink struct {
	mu          sync.Mutex
	discovered  []device.PeripheralRecord
	linkChanges []device.LinkEvent
	frames      [][]byte
}

func (s *recordingSink) Discovered(rec device.PeripheralRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered = append(s.discovered, rec)
}

func (s *recordingSink) LinkChanged(ev device.LinkEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkChanges = append(s.linkChanges, ev)
}

func (s *recordingSink) Frame(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
}

func (s *recordingSink) snapshot() ([]device.PeripheralRecord, []device.LinkEvent, [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]device.PeripheralRecord(nil), s.discovered...),
		append([]device.LinkEvent(nil), s.linkChanges...),
		append([][]byte(nil), s.frames...)
}

type TransportTestSuite struct {
	suite.Suite

	dongle    *fakeDongle
	sink      *recordingSink
	transport *Transport
	board     device.PeripheralRecord
}

func (suite *TransportTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	suite.dongle = newFakeDongle()
	suite.dongle.SetResponder(boardResponder)
	suite.sink = &recordingSink{}

	opts := DefaultOptions()
	opts.CommandTimeout = 500 * time.Millisecond
	suite.transport = New(suite.dongle, opts, logger)
	suite.transport.SetSink(suite.sink)

	suite.board = device.PeripheralRecord{
		ID:          "C0:11:22:33:44:55",
		LocalName:   "Ganglion-1a2b",
		Address:     device.Address{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55},
		AddressType: AddressRandom,
	}
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.Require().NoError(suite.transport.Close())
}

func (suite *TransportTestSuite) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	suite.Require().NoError(suite.transport.Connect(ctx, suite.board))
}

func (suite *TransportTestSuite) TestScan() {
	// GOAL: Verify scanning configures the dongle and forwards scan responses to the sink
	//
	// TEST SCENARIO: StartScan → scan parameters and discover sent → injected scan response → Discovered called → StopScan sends end procedure

	suite.Require().NoError(suite.transport.StartScan(context.Background()))

	suite.dongle.Inject(scanResponse(-55, [6]byte{0x55, 0x44, 0x33, 0x22, 0x11, 0xC0}, "Ganglion-1a2b"))

	suite.Require().Eventually(func() bool {
		d, _, _ := suite.sink.snapshot()
		return len(d) == 1
	}, time.Second, 5*time.Millisecond, "scan response MUST reach the sink")

	discovered, _, _ := suite.sink.snapshot()
	suite.Assert().Equal("Ganglion-1a2b", discovered[0].LocalName)
	suite.Assert().Equal("C0:11:22:33:44:55", discovered[0].ID)

	suite.Require().NoError(suite.transport.StopScan())

	cmds := suite.dongle.Commands()
	suite.Require().Len(cmds, 3)
	suite.Assert().True(cmds[0].Is(TypeCommand, ClassGAP, CmdGAPSetScanParameters))
	suite.Assert().True(cmds[1].Is(TypeCommand, ClassGAP, CmdGAPDiscover))
	suite.Assert().True(cmds[2].Is(TypeCommand, ClassGAP, CmdGAPEndProcedure))
}

func (suite *TransportTestSuite) TestStopScanWhenIdle() {
	suite.Assert().NoError(suite.transport.StopScan())
	suite.Assert().Empty(suite.dongle.Commands(), "idle StopScan MUST NOT talk to the dongle")
}

func (suite *TransportTestSuite) TestConnectProcedure() {
	// GOAL: Verify the connect procedure discovers handles and subscribes before reporting the link up
	//
	// TEST SCENARIO: Connect → connect_direct, group discovery, information discovery, CCCD write → LinkChanged(up)

	suite.connect()

	cmds := suite.dongle.Commands()
	suite.Require().Len(cmds, 4)
	suite.Assert().Equal(ConnectDirect(suite.board.Address, AddressRandom, DefaultConnectionParams()), cmds[0].Bytes())
	suite.Assert().Equal(ReadByGroupType(testConn, 0x0001, 0xFFFF, PrimaryServiceUUID), cmds[1].Bytes())
	suite.Assert().Equal(FindInformation(testConn, 0x000C, 0x0018), cmds[2].Bytes(), "information discovery MUST be bounded by the board's service group")
	suite.Assert().Equal(AttributeWrite(testConn, testCCCDHandle, []byte{0x01, 0x00}), cmds[3].Bytes(), "notifications MUST be enabled on the receive CCCD")

	_, links, _ := suite.sink.snapshot()
	suite.Require().Len(links, 1)
	suite.Assert().True(links[0].Up)
}

func (suite *TransportTestSuite) TestConnectTwice() {
	suite.connect()

	err := suite.transport.Connect(context.Background(), suite.board)

	suite.Assert().ErrorIs(err, device.ErrAlreadyConnected)
}

func (suite *TransportTestSuite) TestConnectMissingService() {
	// GOAL: Verify a peripheral without the board service fails to connect and the half-open link is dropped
	//
	// TEST SCENARIO: Group discovery returns only generic access → Connect fails → disconnect command sent

	suite.dongle.SetResponder(func(cmd Frame) []Frame {
		if cmd.Is(TypeCommand, ClassAttClient, CmdAttClientReadByGroupType) {
			return []Frame{
				response(ClassAttClient, cmd.Command, testConn, 0x00, 0x00),
				event(ClassAttClient, EvtAttClientGroupFound, testConn, 0x01, 0x00, 0x0B, 0x00, 0x02, 0x00, 0x18),
				event(ClassAttClient, EvtAttClientProcedureCompleted, testConn, 0x00, 0x00, 0x00, 0x00),
			}
		}
		return boardResponder(cmd)
	})

	err := suite.transport.Connect(context.Background(), suite.board)

	var terr *device.TransportError
	suite.Require().ErrorAs(err, &terr)
	suite.Assert().Contains(err.Error(), "fe84")

	cmds := suite.dongle.Commands()
	suite.Assert().True(cmds[len(cmds)-1].Is(TypeCommand, ClassConnection, CmdConnectionDisconnect), "half-open link MUST be torn down")
}

func (suite *TransportTestSuite) TestConnectRejected() {
	suite.dongle.SetResponder(func(cmd Frame) []Frame {
		if cmd.Is(TypeCommand, ClassGAP, CmdGAPConnectDirect) {
			return []Frame{response(ClassGAP, cmd.Command, 0x81, 0x01, 0x00)}
		}
		return boardResponder(cmd)
	})

	err := suite.transport.Connect(context.Background(), suite.board)

	var rerr *ResultError
	suite.Require().ErrorAs(err, &rerr)
	suite.Assert().Equal(uint16(0x0181), rerr.Result)
}

func (suite *TransportTestSuite) TestNotificationsReachSink() {
	// GOAL: Verify attribute values on the receive handle are delivered as frames and others are ignored
	//
	// TEST SCENARIO: Connected → values on receive and send handles injected → only the receive one reaches the sink

	suite.connect()

	payload := make([]byte, 20)
	payload[0] = 0xC8
	suite.dongle.Inject(event(ClassAttClient, EvtAttClientAttributeValue,
		append([]byte{testConn, byte(testSendHandle), 0x00, 0x01, 20}, payload...)...))
	suite.dongle.Inject(event(ClassAttClient, EvtAttClientAttributeValue,
		append([]byte{testConn, byte(testReceiveHandle), 0x00, 0x01, 20}, payload...)...))

	suite.Require().Eventually(func() bool {
		_, _, frames := suite.sink.snapshot()
		return len(frames) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, _, frames := suite.sink.snapshot()
	suite.Require().Len(frames, 1, "values on other handles MUST NOT be delivered")
	suite.Assert().Equal(payload, frames[0])
}

func (suite *TransportTestSuite) TestWrite() {
	suite.connect()

	suite.Require().NoError(suite.transport.Write(context.Background(), []byte{'b'}))

	cmds := suite.dongle.Commands()
	suite.Assert().Equal(AttributeWrite(testConn, testSendHandle, []byte{'b'}), cmds[len(cmds)-1].Bytes())
}

func (suite *TransportTestSuite) TestWriteNotConnected() {
	err := suite.transport.Write(context.Background(), []byte{'b'})

	suite.Assert().ErrorIs(err, device.ErrNotConnected)
	suite.Assert().Empty(suite.dongle.Commands())
}

func (suite *TransportTestSuite) TestWriteTimeout() {
	suite.connect()
	suite.dongle.SetResponder(func(Frame) []Frame { return nil })

	err := suite.transport.Write(context.Background(), []byte{'b'})

	suite.Assert().ErrorIs(err, device.ErrTimeout)
}

func (suite *TransportTestSuite) TestDisconnect() {
	// GOAL: Verify a requested disconnect is confirmed and reported once
	//
	// TEST SCENARIO: Connected → Disconnect → disconnect command sent → exactly one LinkChanged(down)

	suite.connect()

	suite.Require().NoError(suite.transport.Disconnect())

	suite.Require().Eventually(func() bool {
		_, links, _ := suite.sink.snapshot()
		return len(links) == 2
	}, time.Second, 5*time.Millisecond)

	_, links, _ := suite.sink.snapshot()
	suite.Assert().False(links[1].Up)
	suite.Assert().Nil(suite.transport.currentLink())

	suite.Assert().NoError(suite.transport.Disconnect(), "second Disconnect MUST be a no-op")
}

func (suite *TransportTestSuite) TestUnexpectedDisconnect() {
	suite.connect()

	suite.dongle.Inject(event(ClassConnection, EvtConnectionDisconnected, testConn, 0x08, 0x02))

	suite.Require().Eventually(func() bool {
		_, links, _ := suite.sink.snapshot()
		return len(links) == 2
	}, time.Second, 5*time.Millisecond)

	_, links, _ := suite.sink.snapshot()
	suite.Assert().False(links[1].Up)
	suite.Assert().Contains(links[1].Reason, "0x0208")

	err := suite.transport.Write(context.Background(), []byte{'b'})
	suite.Assert().ErrorIs(err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestWriteTooLarge() {
	suite.connect()
	before := len(suite.dongle.Commands())

	err := suite.transport.Write(context.Background(), make([]byte, MaxAttributeData+1))

	suite.Assert().ErrorIs(err, ErrPayloadTooLarge)
	suite.Assert().Len(suite.dongle.Commands(), before, "oversize writes MUST NOT reach the dongle")
}

func (suite *TransportTestSuite) TestConnectionStatusLinkDown() {
	// GOAL: Verify a connection status without the connected flag drops the live link
	//
	// TEST SCENARIO: linked → status for the link with flags cleared → link-down reported → writes rejected

	suite.connect()

	status := []byte{testConn, 0x00}
	wire := suite.board.Address.Reversed()
	status = append(status, wire[:]...)
	status = append(status, 0x00, 0x3C, 0x00, 0x64, 0x00, 0x00, 0x00, 0xFF)
	suite.dongle.Inject(event(ClassConnection, EvtConnectionStatus, status...))

	suite.Require().Eventually(func() bool {
		_, links, _ := suite.sink.snapshot()
		return len(links) == 2
	}, time.Second, 5*time.Millisecond)

	_, links, _ := suite.sink.snapshot()
	suite.Assert().False(links[1].Up)
	suite.Assert().Contains(links[1].Reason, "status flags 0x00")

	err := suite.transport.Write(context.Background(), []byte{'b'})
	suite.Assert().ErrorIs(err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestConnectionStatusForOtherLinkIgnored() {
	suite.connect()

	status := make([]byte, 16)
	status[0] = testConn + 1
	suite.dongle.Inject(event(ClassConnection, EvtConnectionStatus, status...))
	suite.dongle.Inject(event(ClassAttClient, EvtAttClientAttributeValue, testConn, byte(testReceiveHandle), 0x00, 0x01, 0x01, 0xAA))

	suite.Require().Eventually(func() bool {
		_, _, frames := suite.sink.snapshot()
		return len(frames) == 1
	}, time.Second, 5*time.Millisecond)

	_, links, _ := suite.sink.snapshot()
	suite.Assert().Len(links, 1)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
