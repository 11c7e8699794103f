package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/control"
	"github.com/danmuck/neurobridge/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrConnClosed     = errors.New("server: connection closed")
	ErrHandlerPanic   = errors.New("server: handler panic")
	ErrSessionActive  = errors.New("session already active")
	ErrNoSession      = errors.New("no active session")
	ErrUnknownMethod  = errors.New("unknown method")
	ErrMessageTooLong = errors.New("message too large")
)

type handlerFunc func(ctx context.Context, msg control.Message) (control.Message, error)

// Conn is one operator control connection and the session it owns.
type Conn struct {
	id     string
	conn   net.Conn
	remote string
	since  time.Time
	cfg    Config
	logger zerolog.Logger

	writeMu       sync.Mutex
	connected     atomic.Bool
	lastHeartbeat atomic.Int64

	sessMu sync.Mutex
	sess   session.Session

	handlers  map[control.Method]handlerFunc
	closeOnce sync.Once
}

func newConn(conn net.Conn, cfg Config) *Conn {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	c := &Conn{
		id:     id,
		conn:   conn,
		remote: remote,
		since:  time.Now().UTC(),
		cfg:    cfg,
		logger: cfg.Logger.With().Str("conn_id", id).Str("remote", remote).Logger(),
	}
	c.connected.Store(true)
	c.handlers = map[control.Method]handlerFunc{
		control.MethodKeepAlive:     c.handleKeepAlive,
		control.MethodStartSession:  c.handleStartSession,
		control.MethodStartBuilding: c.handleStartBuilding,
	}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Connected() bool { return c.connected.Load() }

// Info is a point-in-time copy for reporting.
func (c *Conn) Info() ConnInfo {
	info := ConnInfo{
		ID:        c.id,
		Remote:    c.remote,
		Connected: c.connected.Load(),
		Since:     c.since,
	}
	if ns := c.lastHeartbeat.Load(); ns > 0 {
		info.LastHeartbeat = time.Unix(0, ns).UTC()
	}
	c.sessMu.Lock()
	if c.sess != nil {
		info.Session = string(c.sess.Kind())
	}
	c.sessMu.Unlock()
	return info
}

// Send writes one message. It is safe for concurrent use.
func (c *Conn) Send(m control.Message) error {
	if !c.connected.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Transport.WriteTimeout))
	if err := control.WriteMessage(c.conn, m); err != nil {
		return err
	}
	return nil
}

// Close closes the socket; Serve then tears the connection down.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Serve runs the receive loop and heartbeat until the peer goes away, ctx
// is done or a handler panics.
func (c *Conn) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	var wg sync.WaitGroup
	defer func() {
		cancel()
		stop()
		wg.Wait()
		c.teardown()
	}()

	observability.ConnectionOpened()
	c.cfg.Events.Publish(observability.Event{
		Kind:   observability.EventConnectionOpened,
		ConnID: c.id,
		Fields: map[string]any{"remote": c.remote},
	})
	c.logger.Info().Msg("operator connected")

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(ctx)
	}()

	buf := make([]byte, c.cfg.Transport.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, raw := range control.SplitMessages(buf[:n]) {
				if derr := c.dispatch(ctx, raw); derr != nil {
					return derr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				c.logger.Info().Msg("operator disconnected")
				return nil
			}
			c.logger.Warn().Err(err).Msg("operator connection lost")
			return nil
		}
	}
}

func (c *Conn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Transport.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(control.KeepAlive("0")); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat stopped")
				return
			}
		}
	}
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		_ = c.conn.Close()
		c.sessMu.Lock()
		s := c.sess
		c.sess = nil
		c.sessMu.Unlock()
		if s != nil {
			if err := s.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("session close on teardown failed")
			}
			observability.RecordSession(string(s.Kind()), "abandoned")
			c.logger.Info().Str("session", string(s.Kind())).Msg("session closed with connection")
		}
		observability.ConnectionClosed()
		c.cfg.Events.Publish(observability.Event{Kind: observability.EventConnectionClosed, ConnID: c.id})
	})
}

// dispatch handles one framed message. Only a recovered panic is returned;
// every other failure becomes an error reply.
func (c *Conn) dispatch(ctx context.Context, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("control handler panic, closing connection")
			_ = c.Send(control.OperationFailedError(string(raw), fmt.Sprint(r), "internal error"))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	if len(raw) > c.cfg.Transport.MaxMessageBytes {
		c.reply(raw, "", control.Message{}, fmt.Errorf("%w: %w", control.ErrInvalidMessage, ErrMessageTooLong))
		return nil
	}
	msg, perr := control.Unpack(raw)
	if perr != nil {
		c.reply(raw, "", control.Message{}, perr)
		return nil
	}
	c.logger.Debug().Str("method", string(msg.Method)).Strs("fields", msg.Keys()).Msg("control message")
	reply, herr := c.route(ctx, msg)
	c.reply(raw, msg.Method, reply, herr)
	return nil
}

func (c *Conn) route(ctx context.Context, msg control.Message) (control.Message, error) {
	if !msg.Method.Known() {
		return control.Message{}, fmt.Errorf("%w: %w %q", control.ErrInvalidMessage, ErrUnknownMethod, msg.Method)
	}
	if h, ok := c.handlers[msg.Method]; ok {
		return h(ctx, msg)
	}
	return c.forward(ctx, msg)
}

func (c *Conn) reply(raw []byte, method control.Method, reply control.Message, err error) {
	methodLabel := string(method)
	if methodLabel == "" {
		methodLabel = "unparsed"
	}
	var out control.Message
	switch {
	case err == nil:
		observability.RecordControlMessage(methodLabel, "ok")
		if reply.Method == "" {
			return
		}
		out = reply
	case errors.Is(err, control.ErrInvalidMessage):
		observability.RecordControlMessage(methodLabel, control.ReasonInvalidMessage)
		c.logger.Warn().Err(err).Str("method", methodLabel).Msg("invalid control message")
		out = control.InvalidMessageError(string(raw), err.Error())
	default:
		observability.RecordControlMessage(methodLabel, control.ReasonOperationFailed)
		c.logger.Error().Err(err).Str("method", methodLabel).Msg("control operation failed")
		out = control.OperationFailedError(string(raw), err.Error(), "operation failed")
	}
	if serr := c.Send(out); serr != nil {
		c.logger.Debug().Err(serr).Str("method", string(out.Method)).Msg("reply not sent")
	}
}

func (c *Conn) active() session.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sess
}

func (c *Conn) forward(ctx context.Context, msg control.Message) (control.Message, error) {
	s := c.active()
	if s == nil {
		return control.Message{}, fmt.Errorf("%w: %w for %s", control.ErrInvalidMessage, ErrNoSession, msg.Method)
	}
	reply, err := s.Receive(ctx, msg)
	if s.Stopped() {
		c.sessMu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		c.sessMu.Unlock()
	}
	return reply, err
}

func (c *Conn) handleKeepAlive(_ context.Context, msg control.Message) (control.Message, error) {
	count, _ := msg.String(control.FieldCount)
	switch count {
	case "0":
		return control.KeepAlive("1"), nil
	case "1":
		c.lastHeartbeat.Store(time.Now().UnixNano())
		return control.Message{}, nil
	default:
		return control.Message{}, fmt.Errorf("%w: keepAlive count %q", control.ErrInvalidMessage, count)
	}
}

func (c *Conn) sessionDeps() session.Deps {
	return session.Deps{
		ConnID:     c.id,
		Geometry:   c.cfg.Geometry,
		OpenSource: c.cfg.OpenSource,
		NewDecoder: c.cfg.NewDecoder,
		Send:       c.Send,
		Settings:   c.cfg.Settings,
		Logger:     c.logger,
		Events:     c.cfg.Events,
	}
}

func (c *Conn) handleStartSession(ctx context.Context, msg control.Message) (control.Message, error) {
	if c.active() != nil {
		return control.Message{}, fmt.Errorf("%w: %w", control.ErrInvalidMessage, ErrSessionActive)
	}
	req, err := session.ParseStartRequest(msg)
	if err != nil {
		return control.Message{}, err
	}
	s, err := session.Start(ctx, c.sessionDeps(), req)
	if err != nil {
		observability.RecordSession(string(req.Kind), "failed")
		return control.Message{}, err
	}
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
	return control.Message{}, nil
}

func (c *Conn) handleStartBuilding(ctx context.Context, msg control.Message) (control.Message, error) {
	if c.active() != nil {
		return control.Message{}, fmt.Errorf("%w: %w", control.ErrInvalidMessage, ErrSessionActive)
	}
	req, err := session.ParseBuildRequest(msg)
	if err != nil {
		return control.Message{}, err
	}
	return session.Build(ctx, c.sessionDeps(), req)
}
