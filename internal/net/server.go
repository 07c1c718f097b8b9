package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	. "obreserve/internal/common"
	"obreserve/internal/engine"
	"obreserve/internal/store"
	"obreserve/internal/utils"
	"obreserve/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers     = 10
	defaultConnTimeout  = time.Second
	defaultPollInterval = 50 * time.Millisecond
	readBufferSize      = 4 * 1024
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrFaucetDisabled     = fmt.Errorf("%w: faucet disabled", ErrUnauthorized)
	ErrCallerMismatch     = fmt.Errorf("%w: session bound to another caller", ErrUnauthorized)
	ErrCallerInUse        = fmt.Errorf("%w: caller bound to another session", ErrUnauthorized)
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
// A session is bound to the caller named by its first request.
type ClientSession struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	caller Address
	bound  bool
}

// ClientMessage links a request to the session sending it. err is set when
// the frame could not be parsed.
type ClientMessage struct {
	sessionID string
	request   Request
	err       error
}

type Server struct {
	address string
	port    int
	pool    utils.WorkerPool

	reserve *engine.Reserve
	vault   *vault.Memory

	store            *store.Store
	snapshotInterval time.Duration
	faucet           bool

	cancel             context.CancelFunc
	clientSessions     map[string]*ClientSession
	makerSessions      map[Address]string
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage

	ready    chan struct{}
	listener net.Listener
}

type Option func(*Server)

func WithWorkers(n uint) Option {
	return func(s *Server) { s.pool = utils.NewWorkerPool(n) }
}

// WithStore persists state every interval and on shutdown. A zero interval
// only saves on shutdown.
func WithStore(st *store.Store, interval time.Duration) Option {
	return func(s *Server) {
		s.store = st
		s.snapshotInterval = interval
	}
}

// WithFaucet allows clients to mint balances in the vault.
func WithFaucet(enabled bool) Option {
	return func(s *Server) { s.faucet = enabled }
}

// New builds a server applying requests to reserve, which settles against
// v. The server becomes the only caller of reserve, so it must not be used
// elsewhere while Run is active.
func New(address string, port int, reserve *engine.Reserve, v *vault.Memory, opts ...Option) *Server {
	s := &Server{
		address:        address,
		port:           port,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		reserve:        reserve,
		vault:          v,
		clientSessions: make(map[string]*ClientSession),
		makerSessions:  make(map[Address]string),
		clientMessages: make(chan ClientMessage, 1),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address. Only valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener
	close(s.ready)

	// Accept blocks, so closing the listener is what stops the accept loop.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeSessions()
		return nil
	})

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(ctx, t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	// Start accepting connections.
	t.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !t.Alive() {
					return nil
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			session := s.addClientSession(conn)
			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Str("session", session.id).
				Msg("new client added")

			// Pass over the connection to be read from.
			if err := s.pool.TryAddTask(t, session); err != nil {
				return nil
			}
		}
	})

	<-t.Dying()
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Report implements engine.Reporter. Makers with a live session are told
// when their orders are taken.
func (s *Server) Report(ev Event) {
	if ev.Type != FullOrderTaken && ev.Type != PartialOrderTaken {
		return
	}
	s.clientSessionsLock.Lock()
	sessionID, ok := s.makerSessions[ev.Maker]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}

	report := executionReport(ev)
	if err := s.send(sessionID, &report); err != nil {
		log.Debug().Err(err).Str("maker", ev.Maker.Hex()).Msg("execution report not delivered")
	}
}

// sessionHandler reads off incoming requests from clients and applies them
// to the reserve one at a time. It is the only goroutine touching the
// reserve and the vault, which also makes it the one to persist them.
func (s *Server) sessionHandler(ctx context.Context, t *tomb.Tomb) error {
	var tick <-chan time.Time
	if s.store != nil && s.snapshotInterval > 0 {
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.Dying():
			s.save()
			return nil
		case <-tick:
			s.save()
		case message := <-s.clientMessages:
			report := s.handle(ctx, message)
			if err := s.send(message.sessionID, &report); err != nil {
				log.Error().Err(err).Str("session", message.sessionID).Msg("unable to send report")
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, message ClientMessage) Report {
	if message.err != nil {
		return errorReport(Heartbeat, message.err)
	}
	req := message.request
	if err := s.bind(message.sessionID, req.Caller); err != nil {
		log.Warn().
			Err(err).
			Str("session", message.sessionID).
			Str("caller", req.Caller.Hex()).
			Msg("request rejected")
		return errorReport(req.Type, err)
	}

	report, err := s.apply(ctx, req)
	if err != nil {
		log.Debug().
			Err(err).
			Str("type", req.Type.String()).
			Str("caller", req.Caller.Hex()).
			Msg("request rejected")
		return errorReport(req.Type, err)
	}
	report.Request = req.Type
	return report
}

// bind ties a session to the first caller it names, which then receives
// that caller's execution reports. A caller held by another live session
// cannot be claimed until that session closes.
func (s *Server) bind(sessionID string, caller Address) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[sessionID]
	if !ok {
		return ErrClientDoesNotExist
	}
	if session.bound {
		if session.caller != caller {
			return ErrCallerMismatch
		}
		return nil
	}
	if other, ok := s.makerSessions[caller]; ok && other != sessionID {
		return ErrCallerInUse
	}
	session.caller, session.bound = caller, true
	s.makerSessions[caller] = sessionID
	return nil
}

// apply runs one request against the reserve.
func (s *Server) apply(ctx context.Context, req Request) (Report, error) {
	r := s.reserve
	ack := func(err error, ids ...OrderID) (Report, error) {
		return Report{Type: AckReport, IDs: ids}, err
	}

	switch req.Type {
	case Heartbeat:
		return ack(nil)
	case Deposit:
		return ack(r.Deposit(ctx, req.Caller, req.Asset, &req.Amount))
	case Withdraw:
		return ack(r.Withdraw(ctx, req.Caller, req.Asset, &req.Amount))
	case DepositCollateral:
		return ack(r.DepositCollateral(ctx, req.Caller, &req.Amount))
	case WithdrawCollateral:
		return ack(r.WithdrawCollateral(ctx, req.Caller, &req.Amount))
	case SubmitOrder:
		id, err := r.Submit(req.Caller, req.Direction, &req.SrcAmount, &req.DstAmount, req.Hint)
		return ack(err, id)
	case UpdateOrder:
		return ack(r.Update(req.Caller, req.Direction, req.ID, &req.SrcAmount, &req.DstAmount, req.Hint), req.ID)
	case CancelOrder:
		_, err := r.Cancel(req.Caller, req.Direction, req.ID)
		return ack(err, req.ID)
	case SubmitBatch:
		ids, err := r.SubmitBatch(req.Caller, req.Orders)
		return ack(err, ids...)
	case UpdateBatch:
		return ack(r.UpdateBatch(req.Caller, req.Updates))
	case CancelBatch:
		return ack(r.CancelBatch(req.Caller, req.Refs))
	case Trade:
		recipient := req.Recipient
		if recipient == (Address{}) {
			recipient = req.Caller
		}
		fill, err := r.Trade(ctx, req.Caller, req.Direction, &req.Amount, recipient)
		if err != nil {
			return Report{}, err
		}
		return Report{
			Type:      TradeReport,
			Direction: req.Direction,
			Rate:      *Rate(&fill.AmountOut, &fill.AmountIn),
			AmountIn:  fill.AmountIn,
			AmountOut: fill.AmountOut,
			Burned:    fill.Burned,
			Orders:    uint16(fill.OrdersTaken),
			Flag:      fill.Partial,
		}, nil
	case Quote:
		q, err := r.Quote(req.Direction, &req.Amount)
		if err != nil {
			return Report{}, err
		}
		return Report{
			Type:      QuoteReport,
			Direction: req.Direction,
			Rate:      q.Rate,
			AmountIn:  q.AmountIn,
			AmountOut: q.AmountOut,
			Orders:    uint16(q.Orders),
			Flag:      q.Complete,
		}, nil
	case ConversionRate:
		rate := r.ConversionRate(req.Direction, &req.Amount)
		return Report{
			Type:      QuoteReport,
			Direction: req.Direction,
			Rate:      rate,
			AmountIn:  req.Amount,
			Flag:      !rate.IsZero(),
		}, nil
	case OrderList:
		ids, err := r.GetOrderList(req.Direction)
		return Report{Type: ListReport, Direction: req.Direction, IDs: ids}, err
	case MakerOrders:
		ids, err := r.MakerOrders(req.Caller, req.Direction)
		return Report{Type: ListReport, Direction: req.Direction, IDs: ids}, err
	case GetOrder:
		o, err := r.GetOrder(req.Direction, req.ID)
		return Report{Type: OrderReport, Direction: req.Direction, Order: o}, err
	case AddHint:
		hint, err := r.GetAddOrderHint(req.Direction, &req.SrcAmount, &req.DstAmount)
		return ack(err, hint)
	case UpdateHint:
		hint, err := r.GetUpdateOrderHint(req.Direction, req.ID, &req.SrcAmount, &req.DstAmount)
		return ack(err, hint)
	case Balance:
		return Report{
			Type:       BalanceReport,
			Asset:      req.Asset,
			Funds:      r.MakerFunds(req.Caller, req.Asset),
			Collateral: r.MakerCollateral(req.Caller),
		}, nil
	case Mint:
		if !s.faucet {
			return Report{}, ErrFaucetDisabled
		}
		s.vault.Mint(req.Asset, req.Caller, &req.Amount)
		return ack(nil)
	case Approve:
		s.vault.Approve(req.Asset, req.Caller, r.Config().Reserve, &req.Amount)
		return ack(nil)
	}
	return Report{}, ErrInvalidMessageType
}

// save persists the reserve and the vault together.
func (s *Server) save() {
	if s.store == nil {
		return
	}
	st := store.State{Reserve: s.reserve.Snapshot(), Vault: s.vault.Snapshot()}
	if err := s.store.Save(st); err != nil {
		log.Error().Err(err).Msg("unable to save snapshot")
		return
	}
	log.Debug().Msg("snapshot saved")
}

// handleConnection is a short-lived worker method which reads the next frame
// off the connection, parses it and passes it forward to sessionHandler. A
// connection without pending data goes straight back to the pool. If the
// connection dies, the client session is cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	// Wait briefly for a frame header. Peek keeps whatever arrived, so a
	// timeout here never splits a frame.
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultPollInterval)); err != nil {
		s.deleteClientSession(session.id)
		return nil
	}
	if _, err := session.reader.Peek(FrameHeaderLen); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.pool.Requeue(t, session)
			return nil
		}
		log.Info().
			Err(err).
			Str("session", session.id).
			Msg("client disconnected")
		s.deleteClientSession(session.id)
		return nil
	}

	// The rest of the frame must follow promptly.
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		s.deleteClientSession(session.id)
		return nil
	}
	payload, err := ReadFrame(session.reader)
	if err != nil {
		log.Error().
			Err(err).
			Str("session", session.id).
			Msg("error reading from connection")
		s.deleteClientSession(session.id)
		return nil
	}

	message := ClientMessage{sessionID: session.id}
	message.request, message.err = parseMessage(payload)
	if message.err != nil {
		log.Error().
			Err(message.err).
			Str("session", session.id).
			Msg("error parsing message")
	}

	// Pass over to the message handling buffer.
	select {
	case <-t.Dying():
		return nil
	case s.clientMessages <- message:
	}

	// Push the client connection back to handle the next message.
	s.pool.Requeue(t, session)
	return nil
}

// send writes a report to a session. A failed write drops the session.
func (s *Server) send(sessionID string, report *Report) error {
	buf, err := report.Serialize()
	if err != nil {
		return err
	}

	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[sessionID]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := session.conn.SetWriteDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		s.deleteClientSession(sessionID)
		return err
	}
	if _, err := session.conn.Write(buf); err != nil {
		s.deleteClientSession(sessionID)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := &ClientSession{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
	}
	s.clientSessions[session.id] = session
	return session
}

// deleteClientSession is an atomic map remove that also closes the
// connection.
func (s *Server) deleteClientSession(id string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[id]
	if !ok {
		return
	}
	delete(s.clientSessions, id)
	for maker, sid := range s.makerSessions {
		if sid == id {
			delete(s.makerSessions, maker)
		}
	}
	if err := session.conn.Close(); err != nil {
		log.Debug().Err(err).Str("session", id).Msg("close")
	}
}

func (s *Server) closeSessions() {
	s.clientSessionsLock.Lock()
	ids := make([]string, 0, len(s.clientSessions))
	for id := range s.clientSessions {
		ids = append(ids, id)
	}
	s.clientSessionsLock.Unlock()

	for _, id := range ids {
		s.deleteClientSession(id)
	}
}
