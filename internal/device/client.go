package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/frame"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// ScanReplyLen is the size of the device's reply to StartScan.
const ScanReplyLen = 24

const (
	DefaultDeviceAddress = "100.1.1.79:4000"
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 5 * time.Second
)

type ClientConfig struct {
	Address     string
	Geometry    Geometry
	Trigger     TriggerMode
	DialTimeout time.Duration
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	c.Geometry = c.Geometry.WithDefaults()
	if c.Address == "" {
		c.Address = DefaultDeviceAddress
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Trigger == "" {
		c.Trigger = TriggerPreserve
	}
	return c
}

// Client drives a live NeuroScan amplifier over TCP.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger
	conn   net.Conn

	writeMu   sync.Mutex
	acquiring atomic.Bool
	closeOnce sync.Once
	closeErr  error
	desyncs   atomic.Int64
}

// Dial connects, sends StartScan and consumes the scan reply.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("device: dial %s: %w", cfg.Address, err)
	}
	bpp := cfg.Geometry.BytesPerPacket()
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetReadBuffer(bpp * 9)
		_ = tcp.SetWriteBuffer(bpp)
	}
	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("device", cfg.Address).Logger(),
		conn:   conn,
	}
	if err := c.send(frame.StartScan); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	raw, err := frame.ReceiveExactly(conn, ScanReplyLen)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("device: scan reply: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if info, err := parseScanReply(raw); err != nil {
		c.logger.Warn().Err(err).Msg("device scan reply not understood, using configured geometry")
	} else if info.Channels != cfg.Geometry.Channels || info.SampleRate != cfg.Geometry.SampleRate {
		c.logger.Warn().
			Int("reported_channels", info.Channels).
			Int("reported_sample_rate", info.SampleRate).
			Msg("device reports a different geometry, using configured geometry")
	}
	c.logger.Info().
		Int("channels", cfg.Geometry.Channels).
		Int("sample_rate", cfg.Geometry.SampleRate).
		Int("bytes_per_packet", bpp).
		Msg("device connected")
	return c, nil
}

func (c *Client) Name() string { return "device" }

func (c *Client) Geometry() Geometry { return c.cfg.Geometry }

// scanInfo is what the device reports in its StartScan reply.
type scanInfo struct {
	Channels         int
	SampleRate       int
	SamplesPerPacket int
}

// parseScanReply decodes the fixed-size StartScan reply: a CTRL header
// followed by channels, sample rate and samples per packet as big-endian
// words.
func parseScanReply(raw []byte) (scanInfo, error) {
	reply, err := frame.ReadFrame(bytes.NewReader(raw), frame.Limits{MaxBodyBytes: ScanReplyLen - frame.HeaderLen})
	if err != nil {
		return scanInfo{}, err
	}
	if reply.Header.Tag != frame.TagControl {
		return scanInfo{}, fmt.Errorf("device: scan reply header %s", reply.Header)
	}
	if len(reply.Body) != ScanReplyLen-frame.HeaderLen {
		return scanInfo{}, fmt.Errorf("device: scan reply body is %d bytes", len(reply.Body))
	}
	return scanInfo{
		Channels:         int(binary.BigEndian.Uint32(reply.Body[0:4])),
		SampleRate:       int(binary.BigEndian.Uint32(reply.Body[4:8])),
		SamplesPerPacket: int(binary.BigEndian.Uint32(reply.Body[8:12])),
	}, nil
}

// Desyncs reports how many packets declared a body size other than the geometry's.
func (c *Client) Desyncs() int64 { return c.desyncs.Load() }

func (c *Client) send(cmd frame.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if err := frame.WriteCommand(c.conn, cmd); err != nil {
		return fmt.Errorf("device: send %s: %w", cmd.Name, err)
	}
	c.logger.Debug().Str("command", cmd.Name).Msg("device command sent")
	return nil
}

func (c *Client) Start(context.Context) error {
	if err := c.send(frame.StartAcquire); err != nil {
		return err
	}
	c.acquiring.Store(true)
	return nil
}

// Next reads one packet. The declared body size is only advisory: a mismatch
// is logged and counted, and the configured packet size is read regardless.
func (c *Client) Next(ctx context.Context) (*mat.Dense, error) {
	if !c.acquiring.Load() {
		return nil, ErrNotAcquiring
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	packet, err := c.readPacket(time.Now().Add(c.cfg.ReadTimeout))
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return packet, err
}

func (c *Client) readPacket(deadline time.Time) (*mat.Dense, error) {
	_ = c.conn.SetReadDeadline(deadline)
	h, err := frame.ReadHeader(c.conn)
	if err != nil {
		return nil, err
	}
	bpp := c.cfg.Geometry.BytesPerPacket()
	if int(h.BodySize) != bpp {
		c.desyncs.Add(1)
		observability.RecordDeviceDesync()
		c.logger.Warn().
			Err(frame.ErrProtocolDesync).
			Uint32("declared", h.BodySize).
			Int("expected", bpp).
			Msg("device packet size mismatch")
	}
	body, err := frame.ReceiveExactly(c.conn, bpp)
	if err != nil {
		return nil, err
	}
	observability.RecordDevicePacket(c.Name())
	return DecodeBody(body, c.cfg.Geometry, c.cfg.Trigger)
}

// Stop sends StopAcquire and drains the packet the device emits after it.
func (c *Client) Stop() error {
	if !c.acquiring.Swap(false) {
		return nil
	}
	if err := c.send(frame.StopAcquire); err != nil {
		return err
	}
	if _, err := c.readPacket(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("device drain after stop failed")
	}
	return nil
}

// Close sends StopScan and CloseConnection, then closes the socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.acquiring.Load() {
			if err := c.Stop(); err != nil {
				c.logger.Debug().Err(err).Msg("device stop on close failed")
			}
		}
		for _, cmd := range []frame.Command{frame.StopScan, frame.CloseConnection} {
			if err := c.send(cmd); err != nil && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug().Err(err).Msg("device close command failed")
			}
		}
		c.closeErr = c.conn.Close()
		c.logger.Info().Int64("desyncs", c.Desyncs()).Msg("device disconnected")
	})
	return c.closeErr
}
