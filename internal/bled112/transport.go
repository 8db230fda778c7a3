package bled112

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/groutine"
	"github.com/srg/ganglion/internal/protocol"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the dongle's CDC interface is opened with.
	DefaultBaudRate = 256000

	// DefaultCommandTimeout bounds a single command/response round trip.
	DefaultCommandTimeout = 3 * time.Second

	// pendingBuffer is the number of responses and procedure events held for waiters.
	pendingBuffer = 256

	readBufferSize = 1024

	// receiveBufferSize holds a full read plus the largest partial frame.
	receiveBufferSize = 4096

	cccdUUID uint16 = 0x2902
)

var (
	serviceWire = UUIDToWire(binary.BigEndian.AppendUint16(nil, protocol.ServiceUUID16))
	cccdWire    = UUIDToWire(binary.BigEndian.AppendUint16(nil, cccdUUID))
	receiveWire = UUIDToWire(mustUUID(protocol.ReceiveCharUUID))
	sendWire    = UUIDToWire(mustUUID(protocol.SendCharUUID))

	enableNotifications = []byte{0x01, 0x00}

	errLinkLost = errors.New("link lost during procedure")
)

func mustUUID(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		panic(fmt.Sprintf("bled112: invalid uuid %q: %v", s, err))
	}
	return b
}

// Options configure the serial-bridge transport.
type Options struct {
	CommandTimeout time.Duration
	ScanInterval   uint16 // 0.625 ms units
	ScanWindow     uint16 // 0.625 ms units
	ActiveScan     bool
	Connection     ConnectionParams
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		CommandTimeout: DefaultCommandTimeout,
		ScanInterval:   0xC8,
		ScanWindow:     0xC8,
		ActiveScan:     true,
		Connection:     DefaultConnectionParams(),
	}
}

// link holds the GATT handles of an established connection.
type link struct {
	conn          byte
	receiveHandle uint16
	sendHandle    uint16
	cccdHandle    uint16
}

// Transport drives a BLED112 dongle over a serial byte stream and presents it
// as a device.Transport.
type Transport struct {
	port   io.ReadWriteCloser
	opts   Options
	logger *logrus.Logger

	sinkMu sync.RWMutex
	sink   device.Sink

	procMu  sync.Mutex // one command procedure at a time
	writeMu sync.Mutex // serializes bytes on the port
	pending chan Frame

	linkMu sync.RWMutex
	link   *link

	scanning atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
}

var _ device.Transport = (*Transport)(nil)

// Open opens the dongle's serial port and starts the transport.
func Open(path string, baud int, logger *logrus.Logger) (*Transport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
	if err != nil {
		return nil, &device.TransportError{Op: "open " + path, Err: err}
	}
	return New(port, DefaultOptions(), logger), nil
}

// New starts a transport over an already opened byte stream.
func New(port io.ReadWriteCloser, opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Connection == (ConnectionParams{}) {
		opts.Connection = DefaultConnectionParams()
	}
	t := &Transport{
		port:    port,
		opts:    opts,
		logger:  logger,
		pending: make(chan Frame, pendingBuffer),
		done:    make(chan struct{}),
	}
	groutine.Go(context.Background(), "bled112-reader", t.readLoop)
	return t
}

// SetSink installs the receiver of discovery, link and data events.
func (t *Transport) SetSink(sink device.Sink) {
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	t.sink = sink
}

func (t *Transport) currentSink() device.Sink {
	t.sinkMu.RLock()
	defer t.sinkMu.RUnlock()
	return t.sink
}

func (t *Transport) currentLink() *link {
	t.linkMu.RLock()
	defer t.linkMu.RUnlock()
	return t.link
}

func (t *Transport) setLink(l *link) {
	t.linkMu.Lock()
	defer t.linkMu.Unlock()
	t.link = l
}

// readLoop frames the inbound byte stream until the port fails or closes.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	framer := NewFramer(receiveBufferSize)
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			if _, werr := framer.Write(buf[:n]); werr != nil {
				t.logger.WithError(werr).Warn("BLED112 receive buffer overflow")
			}
			for {
				f, ok, ferr := framer.Next()
				if ferr != nil {
					t.logger.WithError(ferr).Warn("Skipping corrupt BLED112 byte")
					continue
				}
				if !ok {
					break
				}
				t.dispatch(f)
			}
		}
		if err != nil {
			if !t.closed.Load() {
				t.logger.WithFields(logrus.Fields{
					"goroutine": groutine.GetName(ctx),
					"error":     err,
				}).Error("Serial port read failed")
				t.dropLink(device.LinkEvent{Up: false, Reason: "serial read failed", Err: &device.TransportError{Op: "read", Err: err}})
			}
			return
		}
	}
}

// dispatch routes one inbound frame. Scan results, notifications and link
// loss go to the sink; everything else is handed to the waiting procedure.
func (t *Transport) dispatch(f Frame) {
	if t.logger.IsLevelEnabled(logrus.TraceLevel) {
		t.logger.WithField("frame", f.String()).Trace("BLED112 <<<")
	}

	switch {
	case f.Is(TypeEvent, ClassGAP, EvtGAPScanResponse):
		sr, err := ParseScanResponse(f)
		if err != nil {
			t.logger.WithError(err).Warn("Malformed scan response")
			return
		}
		if sink := t.currentSink(); sink != nil {
			sink.Discovered(sr.Peripheral())
		}
		return

	case f.Is(TypeEvent, ClassAttClient, EvtAttClientAttributeValue):
		av, err := ParseAttributeValue(f)
		if err != nil {
			t.logger.WithError(err).Warn("Malformed attribute value")
			return
		}
		l := t.currentLink()
		if l == nil || av.Connection != l.conn || av.AttHandle != l.receiveHandle {
			t.logger.WithField("handle", av.AttHandle).Debug("Ignoring attribute value for unknown handle")
			return
		}
		if sink := t.currentSink(); sink != nil {
			sink.Frame(append([]byte(nil), av.Value...))
		}
		return

	case f.Is(TypeEvent, ClassConnection, EvtConnectionStatus):
		cs, err := ParseConnectionStatus(f)
		if err != nil {
			t.logger.WithError(err).Warn("Malformed connection status")
			return
		}
		if l := t.currentLink(); l != nil && l.conn == cs.Connection && !cs.Connected() {
			t.dropLink(cs.LinkEvent())
		}

	case f.Is(TypeEvent, ClassConnection, EvtConnectionDisconnected):
		d, err := ParseDisconnected(f)
		if err != nil {
			t.logger.WithError(err).Warn("Malformed disconnect event")
			return
		}
		if l := t.currentLink(); l != nil && l.conn == d.Connection {
			t.dropLink(d.LinkEvent())
		}
	}

	select {
	case t.pending <- f:
	default:
		t.logger.WithField("frame", f.String()).Warn("BLED112 pending queue full, dropping frame")
	}
}

// dropLink clears the link and reports it down exactly once.
func (t *Transport) dropLink(ev device.LinkEvent) {
	t.linkMu.Lock()
	had := t.link != nil
	t.link = nil
	t.linkMu.Unlock()

	if !had {
		return
	}
	if sink := t.currentSink(); sink != nil {
		sink.LinkChanged(ev)
	}
}

func (t *Transport) send(data []byte) error {
	if t.closed.Load() {
		return &device.TransportError{Op: "write", Err: io.ErrClosedPipe}
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.logger.IsLevelEnabled(logrus.TraceLevel) {
		t.logger.WithField("bytes", fmt.Sprintf("% x", data)).Trace("BLED112 >>>")
	}
	if _, err := t.port.Write(data); err != nil {
		return &device.TransportError{Op: "write", Err: err}
	}
	return nil
}

// drain discards frames left over from an earlier procedure.
func (t *Transport) drain() {
	for {
		select {
		case f := <-t.pending:
			t.logger.WithField("frame", f.String()).Debug("Discarding stale BLED112 frame")
		default:
			return
		}
	}
}

// await returns the first pending frame accepted by match. A disconnect event
// that match does not accept aborts the wait.
func (t *Transport) await(ctx context.Context, match func(Frame) bool) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Frame{}, fmt.Errorf("%w: waiting for BLED112 reply", device.ErrTimeout)
			}
			return Frame{}, ctx.Err()
		case <-t.done:
			return Frame{}, &device.TransportError{Op: "read", Err: io.ErrClosedPipe}
		case f := <-t.pending:
			if match(f) {
				return f, nil
			}
			if f.Is(TypeEvent, ClassConnection, EvtConnectionDisconnected) {
				return Frame{}, errLinkLost
			}
			t.logger.WithField("frame", f.String()).Debug("Skipping unrelated BLED112 frame")
		}
	}
}

// call sends a command and waits for its response, checking the result code.
func (t *Transport) call(ctx context.Context, data []byte) (Frame, error) {
	class, cmd := data[2], data[3]
	if err := t.send(data); err != nil {
		return Frame{}, err
	}
	resp, err := t.await(ctx, func(f Frame) bool { return f.Is(TypeCommand, class, cmd) })
	if err != nil {
		return Frame{}, err
	}
	result, err := ParseResult(resp)
	if err != nil {
		return Frame{}, err
	}
	if result != 0 {
		return resp, &ResultError{Class: class, Command: cmd, Result: result}
	}
	return resp, nil
}

// awaitCompleted waits for attclient_procedure_completed on conn.
func (t *Transport) awaitCompleted(ctx context.Context, conn byte) (ProcedureCompleted, error) {
	f, err := t.await(ctx, func(f Frame) bool {
		if !f.Is(TypeEvent, ClassAttClient, EvtAttClientProcedureCompleted) {
			return false
		}
		pc, err := ParseProcedureCompleted(f)
		return err == nil && pc.Connection == conn
	})
	if err != nil {
		return ProcedureCompleted{}, err
	}
	pc, _ := ParseProcedureCompleted(f)
	if pc.Result != 0 {
		return pc, &ResultError{Class: ClassAttClient, Command: EvtAttClientProcedureCompleted, Result: pc.Result}
	}
	return pc, nil
}

func (t *Transport) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, t.opts.CommandTimeout)
}

// StartScan sets the scan parameters and starts generic discovery.
func (t *Transport) StartScan(ctx context.Context) error {
	t.procMu.Lock()
	defer t.procMu.Unlock()

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	t.drain()

	if _, err := t.call(cctx, SetScanParameters(t.opts.ScanInterval, t.opts.ScanWindow, t.opts.ActiveScan)); err != nil {
		return device.WrapTransport("scan parameters", err)
	}
	if _, err := t.call(cctx, Discover(DiscoverGeneric)); err != nil {
		return device.WrapTransport("discover", err)
	}
	t.scanning.Store(true)
	t.logger.Info("BLED112 scan started")
	return nil
}

// StopScan ends discovery.
func (t *Transport) StopScan() error {
	if !t.scanning.Load() {
		return nil
	}
	t.procMu.Lock()
	defer t.procMu.Unlock()

	ctx, cancel := t.withTimeout(context.Background())
	defer cancel()

	_, err := t.call(ctx, EndProcedure())
	t.scanning.Store(false)
	if err != nil {
		return device.WrapTransport("end procedure", err)
	}
	t.logger.Info("BLED112 scan stopped")
	return nil
}

// Connect dials the peripheral, discovers the board's characteristics and
// enables notifications on the receive characteristic.
func (t *Transport) Connect(ctx context.Context, rec device.PeripheralRecord) error {
	if t.currentLink() != nil {
		return device.ErrAlreadyConnected
	}
	addr := rec.Address
	if addr.IsZero() {
		parsed, err := device.ParseAddress(rec.ID)
		if err != nil {
			return err
		}
		addr = parsed
	}

	t.procMu.Lock()
	defer t.procMu.Unlock()
	t.drain()

	log := t.logger.WithField("address", addr.String())
	log.Info("Connecting through BLED112...")

	l, err := t.establish(ctx, addr, rec.AddressType)
	if err != nil {
		log.WithError(err).Error("BLED112 connect failed")
		return device.WrapTransport("connect", err)
	}

	t.setLink(l)
	log.WithFields(logrus.Fields{
		"connection":     l.conn,
		"receive_handle": l.receiveHandle,
		"send_handle":    l.sendHandle,
	}).Info("BLED112 link ready")

	if sink := t.currentSink(); sink != nil {
		sink.LinkChanged(device.LinkEvent{Up: true, Handle: l.conn})
	}
	return nil
}

func (t *Transport) establish(ctx context.Context, addr device.Address, addrType byte) (*link, error) {
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()

	if err := t.send(ConnectDirect(addr, addrType, t.opts.Connection)); err != nil {
		return nil, err
	}
	resp, err := t.await(cctx, func(f Frame) bool { return f.Is(TypeCommand, ClassGAP, CmdGAPConnectDirect) })
	if err != nil {
		return nil, err
	}
	result, conn, err := ParseConnectDirectResponse(resp)
	if err != nil {
		return nil, err
	}
	if result != 0 {
		return nil, &ResultError{Class: ClassGAP, Command: CmdGAPConnectDirect, Result: result}
	}

	// Link establishment is bounded by the caller's context, not the command timeout.
	if _, err := t.await(ctx, func(f Frame) bool {
		if !f.Is(TypeEvent, ClassConnection, EvtConnectionStatus) {
			return false
		}
		cs, err := ParseConnectionStatus(f)
		return err == nil && cs.Connection == conn && cs.Connected()
	}); err != nil {
		t.abortConnect(conn)
		return nil, err
	}

	l, err := t.discover(ctx, conn)
	if err != nil {
		t.abortConnect(conn)
		return nil, err
	}
	return l, nil
}

// discover locates the board's service and characteristics and subscribes.
func (t *Transport) discover(ctx context.Context, conn byte) (*link, error) {
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()

	if _, err := t.call(cctx, ReadByGroupType(conn, 0x0001, 0xFFFF, PrimaryServiceUUID)); err != nil {
		return nil, err
	}
	var service *GroupFound
	for {
		f, err := t.await(cctx, func(f Frame) bool {
			return f.Is(TypeEvent, ClassAttClient, EvtAttClientGroupFound) ||
				f.Is(TypeEvent, ClassAttClient, EvtAttClientProcedureCompleted)
		})
		if err != nil {
			return nil, err
		}
		if f.Command == EvtAttClientProcedureCompleted {
			break
		}
		g, err := ParseGroupFound(f)
		if err != nil {
			return nil, err
		}
		if g.Connection == conn && bytes.Equal(g.UUID, serviceWire) {
			service = &g
		}
	}
	if service == nil {
		return nil, fmt.Errorf("service %s not found", protocol.ServiceUUID)
	}

	if _, err := t.call(cctx, FindInformation(conn, service.Start, service.End)); err != nil {
		return nil, err
	}
	l := &link{conn: conn}
	for {
		f, err := t.await(cctx, func(f Frame) bool {
			return f.Is(TypeEvent, ClassAttClient, EvtAttClientFindInformationFound) ||
				f.Is(TypeEvent, ClassAttClient, EvtAttClientProcedureCompleted)
		})
		if err != nil {
			return nil, err
		}
		if f.Command == EvtAttClientProcedureCompleted {
			break
		}
		info, err := ParseFindInformationFound(f)
		if err != nil {
			return nil, err
		}
		switch {
		case bytes.Equal(info.UUID, receiveWire):
			l.receiveHandle = info.CharHandle
		case bytes.Equal(info.UUID, sendWire):
			l.sendHandle = info.CharHandle
		case bytes.Equal(info.UUID, cccdWire) && l.receiveHandle != 0 && l.cccdHandle == 0:
			l.cccdHandle = info.CharHandle
		}
	}
	if l.receiveHandle == 0 || l.sendHandle == 0 || l.cccdHandle == 0 {
		return nil, fmt.Errorf("board characteristics incomplete (receive=%d send=%d cccd=%d)",
			l.receiveHandle, l.sendHandle, l.cccdHandle)
	}

	if _, err := t.call(cctx, AttributeWrite(conn, l.cccdHandle, enableNotifications)); err != nil {
		return nil, err
	}
	if _, err := t.awaitCompleted(cctx, conn); err != nil {
		return nil, err
	}
	return l, nil
}

// abortConnect tears down a half-open connection, best effort.
func (t *Transport) abortConnect(conn byte) {
	if err := t.send(Disconnect(conn)); err != nil {
		t.logger.WithError(err).Warn("Failed to abort BLED112 connection")
	}
}

// Write sends data to the board's send characteristic and waits for the
// attribute write to complete.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	l := t.currentLink()
	if l == nil {
		return device.ErrNotConnected
	}
	if len(data) > MaxAttributeData {
		return device.WrapTransport("write", fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(data), MaxAttributeData))
	}

	t.procMu.Lock()
	defer t.procMu.Unlock()

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()

	if _, err := t.call(cctx, AttributeWrite(l.conn, l.sendHandle, data)); err != nil {
		return device.WrapTransport("write", err)
	}
	if _, err := t.awaitCompleted(cctx, l.conn); err != nil {
		return device.WrapTransport("write", err)
	}
	return nil
}

// Disconnect closes the link and waits for the dongle to confirm it.
func (t *Transport) Disconnect() error {
	l := t.currentLink()
	if l == nil {
		return nil
	}

	t.procMu.Lock()
	defer t.procMu.Unlock()

	ctx, cancel := t.withTimeout(context.Background())
	defer cancel()

	t.logger.WithField("connection", l.conn).Info("Disconnecting BLED112 link...")
	if _, err := t.call(ctx, Disconnect(l.conn)); err != nil {
		if errors.Is(err, errLinkLost) {
			return nil
		}
		t.setLink(nil)
		return device.WrapTransport("disconnect", err)
	}
	if _, err := t.await(ctx, func(f Frame) bool {
		return f.Is(TypeEvent, ClassConnection, EvtConnectionDisconnected)
	}); err != nil {
		t.logger.WithError(err).Warn("No disconnect confirmation from BLED112")
		t.setLink(nil)
	}
	return nil
}

// Close releases the serial port and stops the reader.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.port.Close()
	<-t.done
	if err != nil {
		return &device.TransportError{Op: "close", Err: err}
	}
	return nil
}

// ResultError is a non-zero BGAPI result code.
type ResultError struct {
	Class   byte
	Command byte
	Result  uint16
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("bled112: class 0x%02x command 0x%02x failed with result 0x%04x", e.Class, e.Command, e.Result)
}
