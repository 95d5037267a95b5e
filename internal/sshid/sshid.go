// Package sshid implements the SSH identification string exchange
// (RFC 4253 section 4.2), the first line each side sends on a new connection.
package sshid

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxLength is the maximum identification line length, terminator included.
	MaxLength = 255
	// Prefix starts every SSH 2.0 identification string.
	Prefix = "SSH-2.0-"

	terminator = "\r\n"
)

// ErrInvalidIdentification is returned for a peer line that is not a valid
// SSH 2.0 identification string.
var ErrInvalidIdentification = errors.New("invalid identification string")

// State is the outcome of an identification exchange.
type State int

const (
	// Pending means the exchange has not finished.
	Pending State = iota
	// Established means both identification strings were exchanged and the
	// peer's was valid.
	Established
	// Rejected means the peer sent a malformed identification string.
	Rejected
	// Aborted means the transport failed or closed before the exchange
	// finished.
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Established:
		return "established"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateOf maps the error returned by Exchange to a terminal state.
func StateOf(err error) State {
	switch {
	case err == nil:
		return Established
	case errors.Is(err, ErrInvalidIdentification):
		return Rejected
	}
	return Aborted
}

// ID is an identification string including its CRLF terminator. The zero
// value is not valid; build one with New, Parse or Read.
type ID struct {
	buf []byte
}

// New returns the identification string for the given software label,
// "SSH-2.0-<software>\r\n".
func New(software string) (ID, error) {
	if software == "" {
		return ID{}, errors.New("software label must not be empty")
	}
	if i := strings.IndexAny(software, terminator); i >= 0 {
		return ID{}, fmt.Errorf("software label contains a line break at %d", i)
	}
	buf := make([]byte, 0, len(Prefix)+len(software)+len(terminator))
	buf = append(buf, Prefix...)
	buf = append(buf, software...)
	buf = append(buf, terminator...)
	if len(buf) > MaxLength {
		return ID{}, fmt.Errorf("identification string is %d bytes, limit is %d", len(buf), MaxLength)
	}
	return ID{buf: buf}, nil
}

// MustNew is like New but panics on error. It is meant for process-wide
// values built from constants.
func MustNew(software string) ID {
	id, err := New(software)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse validates a complete identification line, terminator included.
func Parse(line []byte) (ID, error) {
	if len(line) > MaxLength {
		return ID{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentification, len(line), MaxLength)
	}
	if len(line) < len(Prefix)+len(terminator) {
		return ID{}, fmt.Errorf("%w: too short", ErrInvalidIdentification)
	}
	if !bytes.HasPrefix(line, []byte(Prefix)) {
		return ID{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidIdentification, Prefix)
	}
	if !bytes.HasSuffix(line, []byte(terminator)) {
		return ID{}, fmt.Errorf("%w: missing CRLF terminator", ErrInvalidIdentification)
	}
	if bytes.ContainsAny(line[:len(line)-len(terminator)], terminator) {
		return ID{}, fmt.Errorf("%w: embedded line break", ErrInvalidIdentification)
	}
	return ID{buf: bytes.Clone(line)}, nil
}

// Read reads and validates the peer's identification string from r.
//
// Bytes are consumed one at a time until a line feed, so a banner split over
// several network reads is reassembled and nothing after the terminator is
// taken from r. Reading stops with ErrInvalidIdentification as soon as the
// prefix cannot match or MaxLength bytes pass without a line feed.
// End of stream before a complete line is reported as an I/O error.
func Read(r io.ByteReader) (ID, error) {
	line := make([]byte, 0, 64)
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return ID{}, fmt.Errorf("read identification: %w", err)
		}
		line = append(line, c)

		if n := len(line); n <= len(Prefix) && c != Prefix[n-1] {
			return ID{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidIdentification, Prefix)
		}
		if c == '\n' {
			return Parse(line)
		}
		if len(line) >= MaxLength {
			return ID{}, fmt.Errorf("%w: no terminator within %d bytes", ErrInvalidIdentification, MaxLength)
		}
	}
}

// Bytes returns a copy of the full line, terminator included.
func (id ID) Bytes() []byte {
	return bytes.Clone(id.buf)
}

// Trimmed returns a copy of the line without its terminator.
func (id ID) Trimmed() []byte {
	if len(id.buf) < len(terminator) {
		return nil
	}
	return bytes.Clone(id.buf[:len(id.buf)-len(terminator)])
}

// Software returns the text following the protocol prefix, e.g. "OpenSSH_9.0".
func (id ID) Software() string {
	if len(id.buf) < len(Prefix)+len(terminator) {
		return ""
	}
	return string(id.buf[len(Prefix) : len(id.buf)-len(terminator)])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return len(id.buf) == 0
}

// String returns the trimmed line.
func (id ID) String() string {
	return string(id.Trimmed())
}

// WriteTo writes the full line to w.
func (id ID) WriteTo(w io.Writer) (int64, error) {
	if id.IsZero() {
		return 0, errors.New("write of zero identification string")
	}
	n, err := w.Write(id.buf)
	if err == nil && n < len(id.buf) {
		err = io.ErrShortWrite
	}
	return int64(n), err
}

// Exchange sends id on w and then reads the peer's identification from r.
//
// The local line is fully written before the first read, so a peer that
// waits for the server's banner before sending its own cannot deadlock.
// Exchange does not bound the wait itself; callers set a deadline on the
// underlying connection.
//
// Parameters:
//   - r: Reader over the connection. Bytes after the peer's line feed are
//     left unread in r for the next protocol layer.
//   - w: Writer over the same connection.
//
// Returns:
//   - ID: The peer's identification string.
//   - error: Wraps ErrInvalidIdentification for a malformed peer line, or
//     the transport error otherwise. StateOf maps it to Rejected or Aborted.
//
// Example:
//
//	r := bufio.NewReader(conn)
//	peer, err := banner.Exchange(r, conn)
//	switch sshid.StateOf(err) { ... }
func (id ID) Exchange(r io.ByteReader, w io.Writer) (ID, error) {
	if _, err := id.WriteTo(w); err != nil {
		return ID{}, fmt.Errorf("write identification: %w", err)
	}
	return Read(r)
}
