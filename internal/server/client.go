package server

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/neurobridge/internal/protocol/transport"
)

// Client dials out to the operator and keeps reconnecting with a fixed delay.
type Client struct {
	cfg      Config
	registry *Registry
	rng      *rand.Rand
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// Run blocks until ctx is done. Every dial failure or finished connection is
// followed by the configured backoff delay; there is no retry limit.
func (c *Client) Run(ctx context.Context) error {
	logger := c.cfg.Logger.With().Str("operator", c.cfg.ConnectAddr).Logger()
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			logger.Warn().Err(err).Int("attempt", attempt).Msg("operator dial failed")
		} else {
			attempt = 0
			cc := newConn(conn, c.cfg)
			c.registry.Add(cc)
			c.registry.Prune()
			if err := cc.Serve(ctx); err != nil {
				cc.logger.Error().Err(err).Msg("connection terminated")
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Transport.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.cfg.ConnectAddr)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := transport.NextBackoffDelay(c.cfg.Transport.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
