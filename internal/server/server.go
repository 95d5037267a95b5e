// Package server implements the bridgessh listener, managing incoming
// connections and concurrency.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"

	"bridgessh/internal/config"
	"bridgessh/internal/hostkey"
	"bridgessh/internal/sshid"
)

var log = logging.Logger("bridgessh/server")

// Handler continues a session after a successful identification exchange.
// The connection is closed when it returns.
type Handler func(ctx context.Context, sess *Session)

// Server accepts SSH connections and runs the identification exchange on
// each of them. It tracks active sessions and enforces the client limit.
type Server struct {
	settings config.ServerSettings
	keys     *hostkey.Store
	banner   sshid.ID
	handler  Handler

	sem         *semaphore.Weighted
	activeCount int32 // atomic
	wg          sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithHandler sets the function run on established sessions. Without it a
// session ends right after the identification exchange.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// New returns a Server that presents banner and shares keys read-only with
// every session.
func New(settings config.ServerSettings, keys *hostkey.Store, banner sshid.ID, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		keys:     keys,
		banner:   banner,
		sem:      semaphore.NewWeighted(int64(settings.MaxClients)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys returns the host key store.
func (s *Server) Keys() *hostkey.Store {
	return s.keys
}

// Banner returns the server identification string.
func (s *Server) Banner() sshid.ID {
	return s.banner
}

// Active returns the number of sessions currently being handled.
func (s *Server) Active() int {
	return int(atomic.LoadInt32(&s.activeCount))
}

func (s *Server) add(sess *Session) {
	n := atomic.AddInt32(&s.activeCount, 1)
	log.Debugf("%s - session added. Active: %d", sess.id, n)
}

func (s *Server) remove(sess *Session) {
	n := atomic.AddInt32(&s.activeCount, -1)
	log.Debugf("%s - session removed. Active: %d", sess.id, n)
}

// ListenAndServe listens on the configured TCP address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.settings.Addr, err)
	}
	log.Infof("listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and spawns a session for each one. It
// returns nil once ctx is cancelled and every session has finished, or the
// first non-temporary accept error. In both cases the sessions still running
// are cancelled, which closes their connections, before Serve waits for them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if parent.Err() != nil {
				s.wg.Wait()
				log.Infof("listener %s closed", ln.Addr())
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			cancel()
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}

		if !s.sem.TryAcquire(1) {
			log.Warnf("%s - rejected: max clients (%d) reached", conn.RemoteAddr(), s.settings.MaxClients)
			conn.Close()
			continue
		}

		sess := newSession(s, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			sess.Handle(ctx)
		}()
	}
}
