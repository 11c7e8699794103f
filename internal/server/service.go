package server

import (
	"context"
	"errors"
	"net"
	"sync"
)

// Service accepts operator connections and runs one dispatcher per connection.
type Service struct {
	cfg      Config
	registry *Registry
	wg       sync.WaitGroup
}

func NewService(cfg Config) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then closes every connection and
// waits for their dispatchers to finish.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.registry.CloseAll()
	})
	defer func() {
		stop()
		s.registry.CloseAll()
		s.wg.Wait()
	}()

	s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Msg("control server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		c := newConn(conn, s.cfg)
		s.registry.Add(c)
		remaining := s.registry.Prune()
		s.cfg.Logger.Debug().Int("connections", remaining).Msg("registry pruned")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := c.Serve(ctx); err != nil {
				c.logger.Error().Err(err).Msg("connection terminated")
			}
		}()
	}
}
