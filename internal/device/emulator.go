package device

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/neurobridge/internal/protocol/frame"
	"github.com/rs/zerolog"
)

type EmulatorConfig struct {
	Simulator SimulatorConfig
	// DeclaredBodySize overrides the size written into DATA headers when non-zero.
	DeclaredBodySize uint32
	Logger           zerolog.Logger
}

// Emulator speaks the amplifier's TCP protocol and streams simulated packets
// between StartAcquire and StopAcquire.
type Emulator struct {
	cfg    EmulatorConfig
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewEmulator(cfg EmulatorConfig) *Emulator {
	return &Emulator{
		cfg:    cfg,
		logger: cfg.Logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done or ln is closed. Each connection
// gets its own simulator so replay positions are independent.
func (e *Emulator) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		e.closeAll()
	})
	defer func() {
		stop()
		e.closeAll()
		e.wg.Wait()
	}()

	e.logger.Info().Str("addr", ln.Addr().String()).Msg("device emulator listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		e.track(conn)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(conn)
			e.handle(ctx, conn)
		}()
	}
}

func (e *Emulator) track(conn net.Conn) {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()
}

func (e *Emulator) untrack(conn net.Conn) {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	_ = conn.Close()
}

func (e *Emulator) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for conn := range e.conns {
		_ = conn.Close()
	}
}

type emulatorSession struct {
	conn     net.Conn
	sim      *Simulator
	declared uint32
	logger   zerolog.Logger

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func (e *Emulator) handle(ctx context.Context, conn net.Conn) {
	logger := e.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	simCfg := e.cfg.Simulator
	simCfg.Logger = logger
	sim, err := NewSimulator(simCfg)
	if err != nil {
		logger.Error().Err(err).Msg("device emulator simulator setup failed")
		return
	}
	s := &emulatorSession{conn: conn, sim: sim, declared: e.cfg.DeclaredBodySize, logger: logger}
	defer s.stopStream()

	logger.Info().Msg("device emulator client connected")
	for {
		f, err := frame.ReadFrame(conn, commandLimits)
		if errors.Is(err, frame.ErrBodyTooLarge) {
			logger.Warn().Err(err).Msg("device emulator command carried a body, dropping client")
			return
		}
		if err != nil {
			logger.Info().Err(err).Msg("device emulator client disconnected")
			return
		}
		cmd, ok := frame.LookupCommand(f.Header)
		if !ok {
			logger.Warn().Str("header", f.Header.String()).Msg("device emulator unknown command")
			continue
		}
		logger.Debug().Str("command", cmd.Name).Msg("device emulator command")
		switch cmd {
		case frame.StartScan:
			if err := s.write(scanReply(sim.Geometry())); err != nil {
				return
			}
		case frame.StartAcquire:
			s.startStream(ctx)
		case frame.StopAcquire:
			s.stopStream()
			if err := s.writePacket(); err != nil {
				return
			}
		case frame.StopScan:
		case frame.CloseConnection:
			return
		}
	}
}

// commandLimits rejects commands with a body; the device protocol has none.
var commandLimits = frame.Limits{MaxBodyBytes: 0}

func scanReply(g Geometry) frame.Frame {
	body := make([]byte, ScanReplyLen-frame.HeaderLen)
	binary.BigEndian.PutUint32(body[0:4], uint32(g.Channels))
	binary.BigEndian.PutUint32(body[4:8], uint32(g.SampleRate))
	binary.BigEndian.PutUint32(body[8:12], uint32(g.SamplesPerPacket()))
	return frame.Frame{Header: frame.Header{Tag: frame.TagControl, Code: 1, Request: 1}, Body: body}
}

func (s *emulatorSession) write(f frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return frame.WriteFrame(s.conn, f, frame.DefaultLimits())
}

// writePacket sends the next packet. A configured declared size replaces
// the real body length in the header.
func (s *emulatorSession) writePacket() error {
	packet := s.sim.Pop(s.sim.Geometry().SamplesPerPacket())
	h := frame.Header{Tag: frame.TagData, Code: 2, Request: 1, BodySize: s.declared}
	return s.write(frame.Frame{Header: h, Body: EncodeBody(packet)})
}

func (s *emulatorSession) startStream(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	interval := s.sim.cfg.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				if err := s.writePacket(); err != nil {
					s.logger.Debug().Err(err).Msg("device emulator stream ended")
					return
				}
			}
		}
	}(s.done)
}

func (s *emulatorSession) stopStream() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}
