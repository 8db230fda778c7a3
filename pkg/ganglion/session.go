package ganglion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/groutine"
	"github.com/srg/ganglion/internal/protocol"
	"github.com/srg/ganglion/internal/ringchan"
	"github.com/srg/ganglion/pkg/config"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const inboxBuffer = 1024

var (
	// ErrInvalidChannel rejects a channel number outside 1..4.
	ErrInvalidChannel = errors.New("channel must be between 1 and 4")

	errSessionClosed = device.NewStateError(device.InvalidState, device.StateClosed, "session closed")
	errSearchStopped = fmt.Errorf("search stopped: %w", context.Canceled)
)

// Stats are running counters for a session.
type Stats struct {
	FramesReceived    int64 `json:"frames_received"`
	ProtocolErrors    int64 `json:"protocol_errors"`
	DroppedPackets    int64 `json:"dropped_packets"`
	Samples           int64 `json:"samples"`
	EventsOverwritten int64 `json:"events_overwritten"`
	FramesOverwritten int64 `json:"frames_overwritten"`
}

type itemKind int

const (
	itemDiscovered itemKind = iota
	itemLink
	itemFrame
	itemBarrier
)

// inboxItem is one transport callback waiting to be processed.
type inboxItem struct {
	kind itemKind
	rec  Peripheral
	link device.LinkEvent
	data []byte
	done chan struct{}
}

// searchOp tracks one SearchStart or Discover call.
type searchOp struct {
	first chan Peripheral
	stop  chan struct{}
	found []Peripheral
	ids   map[string]struct{}
}

// Session is one driver instance: it owns the connection state, the decoder
// state and the event queue for a single board.
type Session struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport device.Transport
	events    *ringchan.RingChannel[Event]
	inbox     chan inboxItem

	mu           sync.Mutex
	state        device.ConnectionState
	peripherals  *orderedmap.OrderedMap[string, Peripheral]
	search       *searchOp
	current      *Peripheral
	ready        chan struct{}
	manual       bool
	linkUp       bool
	closeEmitted bool
	router       *protocol.Router
	history      *frameHistory

	writing atomic.Bool
	shut    atomic.Bool

	framesReceived atomic.Int64
	protocolErrors atomic.Int64
	droppedPackets atomic.Int64
	samples        atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	workers groutine.Group
}

// NewSession creates a session over transport and starts its event loop.
func NewSession(transport device.Transport, cfg *config.Config, logger *logrus.Logger) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		c := *cfg
		c.ApplyDefaults()
		cfg = &c
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:         cfg,
		logger:      logger,
		transport:   transport,
		events:      ringchan.New[Event](cfg.EventBuffer),
		inbox:       make(chan inboxItem, inboxBuffer),
		state:       device.StateIdle,
		peripherals: orderedmap.New[string, Peripheral](),
		router:      protocol.NewRouter(cfg.SendCounts, cfg.AccelPolicy(), cfg.AccelEmitEvery, logger),
		history:     newFrameHistory(cfg.FrameHistory, logger),
		ctx:         ctx,
		cancel:      cancel,
	}
	transport.SetSink(sessionSink{s: s})
	s.workers.Go(ctx, "ganglion-session", s.run)
	return s
}

// sessionSink queues transport callbacks for the session's event loop.
type sessionSink struct {
	s *Session
}

func (k sessionSink) Discovered(rec device.PeripheralRecord) {
	k.s.enqueue(inboxItem{kind: itemDiscovered, rec: rec})
}

func (k sessionSink) LinkChanged(ev device.LinkEvent) {
	k.s.enqueue(inboxItem{kind: itemLink, link: ev})
}

func (k sessionSink) Frame(data []byte) {
	k.s.enqueue(inboxItem{kind: itemFrame, data: data})
}

func (s *Session) enqueue(it inboxItem) bool {
	select {
	case s.inbox <- it:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// barrier returns once every callback queued before it has been processed,
// or after timeout.
func (s *Session) barrier(timeout time.Duration) {
	it := inboxItem{kind: itemBarrier, done: make(chan struct{})}
	if !s.enqueue(it) {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-it.done:
	case <-timer.C:
		s.logger.Warn("Timed out waiting for session event loop")
	case <-s.ctx.Done():
	}
}

func (s *Session) run(ctx context.Context) {
	s.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Session event loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.inbox:
			switch it.kind {
			case itemDiscovered:
				s.handleDiscovered(it.rec)
			case itemLink:
				s.handleLink(it.link)
			case itemFrame:
				s.handleFrame(it.data)
			case itemBarrier:
				close(it.done)
			}
		}
	}
}

// emit delivers events in order. Lifecycle events are never dropped; data
// events overwrite the oldest data event when the consumer falls behind.
func (s *Session) emit(events ...Event) {
	for _, ev := range events {
		switch ev.(type) {
		case FoundEvent, ReadyEvent, CloseEvent, ErrorEvent:
			if err := s.events.Send(ev); err != nil {
				s.logger.WithFields(logrus.Fields{
					"event": ev.EventName(),
					"error": err,
				}).Debug("Event not delivered")
			}
		default:
			s.events.ForceSend(ev)
		}
	}
}

// Events returns the channel of decoded data and lifecycle events. It is
// closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events.C()
}

// State returns the current connection state.
func (s *Session) State() device.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peripherals returns every peripheral seen so far, in discovery order.
func (s *Session) Peripherals() []Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Peripheral, 0, s.peripherals.Len())
	for pair := s.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesReceived:    s.framesReceived.Load(),
		ProtocolErrors:    s.protocolErrors.Load(),
		DroppedPackets:    s.droppedPackets.Load(),
		Samples:           s.samples.Load(),
		EventsOverwritten: s.events.GetMetrics().Overwritten,
		FramesOverwritten: s.history.overwrites(),
	}
}

func (s *Session) matches(rec Peripheral) bool {
	return rec.LocalName != "" && strings.HasPrefix(rec.LocalName, s.cfg.NamePrefix)
}

func (s *Session) handleDiscovered(rec Peripheral) {
	var out []Event

	s.mu.Lock()
	if prev, known := s.peripherals.Get(rec.ID); known && rec.LocalName == "" {
		rec.LocalName = prev.LocalName
	}
	s.peripherals.Set(rec.ID, rec)

	if op := s.search; op != nil && s.matches(rec) {
		if _, seen := op.ids[rec.ID]; !seen {
			op.ids[rec.ID] = struct{}{}
			op.found = append(op.found, rec)
			select {
			case op.first <- rec:
			default:
			}
			out = append(out, FoundEvent{Peripheral: rec})
		}
	}
	s.mu.Unlock()

	if len(out) > 0 {
		s.logger.WithFields(logrus.Fields{
			"name":    rec.Name(),
			"address": rec.ID,
			"rssi":    rec.RSSI,
		}).Info("Found board")
	}
	s.emit(out...)
}

func (s *Session) handleLink(ev device.LinkEvent) {
	if ev.Up {
		s.mu.Lock()
		if s.state != device.StateConnecting || s.linkUp {
			state := s.state
			s.mu.Unlock()
			s.logger.WithField("state", state).Debug("Ignoring link up outside a connect")
			return
		}
		s.linkUp = true
		s.state = device.StateConnected
		rec := *s.current
		ready := s.ready
		s.ready = nil
		s.mu.Unlock()

		s.emit(ReadyEvent{Peripheral: rec})
		if ready != nil {
			close(ready)
		}
		return
	}

	s.mu.Lock()
	if !s.linkUp {
		s.mu.Unlock()
		s.logger.WithField("reason", ev.Reason).Debug("Ignoring link down for an inactive link")
		return
	}
	s.linkUp = false
	manual := s.manual || s.state == device.StateDisconnecting
	wasStreaming := s.state == device.StateStreaming
	s.router.Reset()
	if !manual {
		s.state = device.StateClosed
	}

	var out []Event
	if !manual && ev.Err != nil {
		out = append(out, ErrorEvent{Err: ev.Err})
	}
	if !s.closeEmitted {
		s.closeEmitted = true
		out = append(out, CloseEvent{Manual: manual, Reason: ev.Reason})
	}

	var reconnect *Peripheral
	if !manual && s.cfg.AutoReconnect && s.current != nil && !s.shut.Load() {
		rec := *s.current
		reconnect = &rec
	}
	s.mu.Unlock()

	if !manual {
		s.logger.WithFields(logrus.Fields{
			"reason":    ev.Reason,
			"streaming": wasStreaming,
		}).Warn("Board link lost")
	}
	s.emit(out...)

	if reconnect != nil {
		rec := *reconnect
		s.workers.Go(s.ctx, "ganglion-reconnect", func(ctx context.Context) {
			s.reconnect(ctx, rec, wasStreaming)
		})
	}
}

func (s *Session) handleFrame(data []byte) {
	s.framesReceived.Add(1)

	if s.cfg.Verbose {
		s.logger.WithField("frame", fmt.Sprintf("% x", data)).Debug("Frame received")
	}

	var out []Event
	s.mu.Lock()
	if !s.linkUp {
		s.mu.Unlock()
		s.logger.Debug("Dropping frame received without a link")
		return
	}
	s.history.add(data)
	err := s.router.Route(data, func(ev Event) { out = append(out, ev) })
	s.mu.Unlock()

	if err != nil {
		s.protocolErrors.Add(1)
		s.logger.WithFields(logrus.Fields{
			"error":  err,
			"length": len(data),
		}).Warn("Dropped invalid frame")
	}

	for _, ev := range out {
		switch e := ev.(type) {
		case SampleEvent:
			s.samples.Add(1)
		case DroppedPacketEvent:
			s.droppedPackets.Add(int64(e.Count))
			s.logger.WithField("count", e.Count).Warn("Packets dropped")
		}
	}
	s.emit(out...)
}

// RecentFrames drains the raw frames kept since the last call, oldest first.
// At most frame_history frames are kept; older ones are overwritten.
func (s *Session) RecentFrames() [][]byte {
	return s.history.drain()
}

// Connect connects to a previously discovered peripheral by advertised name
// or address.
func (s *Session) Connect(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.state.IsLinked() {
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.AlreadyConnected, state, "")
	}
	rec, ok := s.resolve(name)
	s.mu.Unlock()

	if !ok {
		return &device.NotFoundError{Name: name}
	}
	return s.ConnectPeripheral(ctx, rec)
}

// resolve looks a name up among discovered peripherals. Must be called with mu held.
func (s *Session) resolve(name string) (Peripheral, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Peripheral{}, false
	}
	for pair := s.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		rec := pair.Value
		if rec.LocalName == name || strings.EqualFold(rec.ID, name) {
			return rec, true
		}
	}
	return Peripheral{}, false
}

// ConnectPeripheral connects to rec and returns once the board is ready.
func (s *Session) ConnectPeripheral(ctx context.Context, rec Peripheral) error {
	if s.shut.Load() {
		return errSessionClosed
	}

	s.mu.Lock()
	switch s.state {
	case device.StateConnected, device.StateStreaming:
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.AlreadyConnected, state, rec.Name())
	case device.StateConnecting, device.StateDisconnecting, device.StateScanning:
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.InvalidState, state, "cannot connect now")
	}
	s.state = device.StateConnecting
	s.manual = false
	s.linkUp = false
	s.closeEmitted = false
	current := rec
	s.current = &current
	if _, known := s.peripherals.Get(rec.ID); !known {
		s.peripherals.Set(rec.ID, rec)
	}
	ready := make(chan struct{})
	s.ready = ready
	s.router.Reset()
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{
		"name":    rec.Name(),
		"address": rec.ID,
	})
	log.Info("Connecting to board...")

	if err := s.transport.Connect(cctx, rec); err != nil {
		return s.failConnect(err)
	}

	select {
	case <-ready:
		log.Info("Board ready")
		return nil
	case <-cctx.Done():
		if err := s.transport.Disconnect(); err != nil {
			log.WithError(err).Warn("Failed to drop link after connect timeout")
		}
		return s.failConnect(fmt.Errorf("%w: waiting for board link", device.ErrTimeout))
	}
}

func (s *Session) failConnect(err error) error {
	err = device.WrapTransport("connect", err)

	s.mu.Lock()
	if s.state == device.StateConnecting {
		s.state = device.StateClosed
		s.ready = nil
	}
	s.mu.Unlock()

	s.logger.WithError(err).Error("Failed to connect to board")
	s.emit(ErrorEvent{Err: err})
	return err
}

func (s *Session) reconnect(ctx context.Context, rec Peripheral, resume bool) {
	attempts := s.cfg.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	log := s.logger.WithField("address", rec.ID)

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}

		log.WithField("attempt", attempt).Info("Reconnecting to board...")
		err := s.ConnectPeripheral(ctx, rec)
		if err == nil {
			if resume {
				if err := s.StreamStart(ctx); err != nil {
					log.WithError(err).Warn("Failed to resume streaming after reconnect")
				}
			}
			return
		}

		var serr *device.StateError
		if errors.As(err, &serr) {
			log.WithError(err).Debug("Reconnect abandoned")
			return
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Reconnect attempt failed")
	}
	log.WithField("attempts", attempts).Error("Giving up reconnecting to board")
}

// StreamStart asks the board to start streaming. It fails with an
// InvalidState error when already streaming.
func (s *Session) StreamStart(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case device.StateConnected:
	case device.StateStreaming:
		s.mu.Unlock()
		return device.NewStateError(device.InvalidState, device.StateStreaming, "already streaming")
	default:
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.NotConnected, state, "")
	}
	s.router.Reset()
	s.mu.Unlock()

	if err := s.writeRaw(ctx, []byte{protocol.CommandStreamStart}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == device.StateConnected {
		s.state = device.StateStreaming
	}
	s.mu.Unlock()

	s.logger.Info("Streaming started")
	return nil
}

// StreamStop asks the board to stop streaming. It fails with an InvalidState
// error when not streaming.
func (s *Session) StreamStop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != device.StateStreaming {
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.InvalidState, state, "not streaming")
	}
	s.mu.Unlock()

	if err := s.writeRaw(ctx, []byte{protocol.CommandStreamStop}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == device.StateStreaming {
		s.state = device.StateConnected
	}
	s.mu.Unlock()

	s.logger.Info("Streaming stopped")
	return nil
}

// Disconnect closes the link. With stopStreamingFirst set and the board
// streaming, the stop command is sent first on a best-effort basis. The
// session ends in Closed and a manual CloseEvent is emitted.
func (s *Session) Disconnect(ctx context.Context, stopStreamingFirst bool) error {
	s.mu.Lock()
	if !s.state.IsLinked() {
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.NotConnected, state, "")
	}
	wasStreaming := s.state == device.StateStreaming
	s.state = device.StateDisconnecting
	s.manual = true
	s.mu.Unlock()

	s.logger.Info("Disconnecting from board...")

	if stopStreamingFirst && wasStreaming {
		if err := s.writeRaw(ctx, []byte{protocol.CommandStreamStop}); err != nil {
			s.logger.WithError(err).Warn("Failed to stop streaming before disconnect")
		}
	}

	err := s.transport.Disconnect()
	s.barrier(s.cfg.ConnectTimeout)

	var out []Event
	s.mu.Lock()
	s.state = device.StateClosed
	s.linkUp = false
	s.router.Reset()
	if !s.closeEmitted {
		s.closeEmitted = true
		out = append(out, CloseEvent{Manual: true, Reason: "disconnect requested"})
	}
	s.mu.Unlock()
	s.emit(out...)

	if err != nil {
		err = device.WrapTransport("disconnect", err)
		s.logger.WithError(err).Warn("Board disconnected with errors")
		return err
	}
	s.logger.Info("Board disconnected")
	return nil
}

// Write sends raw bytes to the board. Only one write may be in flight; a
// concurrent call fails with a WriteInFlight error.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if s.shut.Load() {
		return errSessionClosed
	}
	s.mu.Lock()
	if !s.state.IsLinked() {
		state := s.state
		s.mu.Unlock()
		return device.NewStateError(device.NotConnected, state, "")
	}
	s.mu.Unlock()

	return s.writeRaw(ctx, data)
}

func (s *Session) writeRaw(ctx context.Context, data []byte) error {
	if !s.writing.CompareAndSwap(false, true) {
		return device.NewStateError(device.WriteInFlight, s.State(), "")
	}
	defer s.writing.Store(false)

	if err := s.transport.Write(ctx, data); err != nil {
		err = device.WrapTransport("write", err)
		var terr *device.TransportError
		if errors.As(err, &terr) {
			s.logger.WithError(err).Error("Failed to write to board")
			s.emit(ErrorEvent{Err: err})
		}
		return err
	}
	return nil
}

// Close ends any search, disconnects, releases the transport and closes the
// event channel. The session cannot be used afterwards.
func (s *Session) Close() error {
	if !s.shut.CompareAndSwap(false, true) {
		return nil
	}

	// Stop the event loop and reconnects before tearing the link down.
	s.cancel()
	s.workers.Wait()

	if err := s.SearchStop(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop search on close")
	}
	if s.State().IsLinked() {
		if err := s.Disconnect(context.Background(), true); err != nil {
			s.logger.WithError(err).Warn("Failed to disconnect on close")
		}
	}

	err := s.transport.Close()

	s.mu.Lock()
	s.state = device.StateClosed
	s.mu.Unlock()
	s.events.Close()

	return device.WrapTransport("close", err)
}
