package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"bridgessh/internal/sshid"
)

// Session manages a single client connection.
//
// The identification exchange runs first, before any other bytes are read or
// written. Bytes the peer pipelined after its identification line stay
// buffered in Reader for the next protocol layer.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	server *Server
	id     string

	state sshid.State
	peer  sshid.ID
}

func newSession(s *Server, conn net.Conn) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		server: s,
		id:     conn.RemoteAddr().String(),
	}
}

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Conn returns the underlying connection, for writing.
func (s *Session) Conn() net.Conn { return s.conn }

// Reader returns the buffered reader over the connection. It must be used
// for all reads after the identification exchange.
func (s *Session) Reader() *bufio.Reader { return s.reader }

// Peer returns the peer's identification string. It is zero unless State is
// Established.
func (s *Session) Peer() sshid.ID { return s.peer }

// State returns the identification exchange outcome.
func (s *Session) State() sshid.State { return s.state }

// Handle runs the session to completion and closes the connection.
// Cancelling ctx closes the connection, which unblocks any pending read.
func (s *Session) Handle(ctx context.Context) {
	s.server.add(s)
	defer s.server.remove(s)
	defer s.conn.Close()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	log.Debugf("%s - new connection", s.id)
	if !s.identify() {
		return
	}

	if s.server.handler != nil {
		s.server.handler(ctx, s)
	}
	log.Debugf("%s - connection closed", s.id)
}

// identify performs the identification exchange within the configured
// timeout and reports whether it reached Established. A deadline that
// cannot be set or cleared aborts the session.
func (s *Session) identify() bool {
	if t := s.server.settings.IdentTimeout; t > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(t)); err != nil {
			s.state = sshid.Aborted
			log.Warnf("%s - failed to set identification deadline: %v", s.id, err)
			return false
		}
	}

	peer, err := s.server.banner.Exchange(s.reader, s.conn)
	s.state = sshid.StateOf(err)
	switch s.state {
	case sshid.Rejected:
		log.Warnf("%s - failed to handle ssh id string: %v", s.id, err)
		return false
	case sshid.Aborted:
		log.Debugf("%s - identification aborted: %v", s.id, err)
		return false
	}

	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		s.state = sshid.Aborted
		log.Warnf("%s - failed to clear identification deadline: %v", s.id, err)
		return false
	}
	s.peer = peer
	log.Infof("%s - peer identified as %q", s.id, peer)
	return true
}
