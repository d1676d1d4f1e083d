// Package ftpsession implements the per-connection FTP state machine:
// login gating, directory tracking, and the passive data-channel
// lifecycle built on top of the shared port pool.
package ftpsession

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sepetowski/ftpd/internal/logging"
	"github.com/sepetowski/ftpd/internal/pathfs"
	"github.com/sepetowski/ftpd/internal/portpool"
)

// dataAcceptTimeout bounds how long a passive listener waits for the
// client to open the data connection, per spec §4.5.
const dataAcceptTimeout = 15 * time.Second

// Session holds everything specific to one control connection. A
// Session is created at accept time and destroyed when the control
// connection closes; nothing inside it is shared with other sessions
// except the *portpool.Pool it borrows ports from.
type Session struct {
	ID     uuid.UUID
	Log    *logging.Logger
	pool   *portpool.Pool
	bindIP net.IP // configured bind address, or nil for "any"

	conn net.Conn

	LoggedIn    bool
	PendingUser string
	UserName    string

	resolver *pathfs.Resolver

	pasv *pasvState
}

type pasvState struct {
	listener net.Listener
	port     int
}

// New creates a Session rooted at serverRoot (the jail before login).
// osFs is the filesystem backing the resolver (afero.NewOsFs() in
// production).
func New(id uuid.UUID, conn net.Conn, log *logging.Logger, pool *portpool.Pool, bindIP net.IP, osFs afero.Fs, serverRoot string) (*Session, error) {
	resolver, err := pathfs.New(osFs, serverRoot)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:       id,
		Log:      log,
		pool:     pool,
		bindIP:   bindIP,
		conn:     conn,
		resolver: resolver,
	}, nil
}

// Resolver exposes the session's path resolver to the command handler.
func (s *Session) Resolver() *pathfs.Resolver { return s.resolver }

// Login transitions the session into the logged-in state and rebases
// the resolver onto the user's home directory, creating it if missing.
func (s *Session) Login(username, home string) error {
	if err := s.resolver.Rebase(home); err != nil {
		return err
	}
	s.LoggedIn = true
	s.UserName = username
	return nil
}

// getPassiveReplyAddress implements spec §4.3's four-step resolution
// for the address advertised in a PASV reply.
func (s *Session) getPassiveReplyAddress() net.IP {
	ip := localIPOf(s.conn)

	if s.bindIP != nil && !s.bindIP.IsUnspecified() {
		ip = s.bindIP
	}
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return net.IPv4(127, 0, 0, 1)
}

func localIPOf(conn net.Conn) net.IP {
	tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return tcpAddr.IP
}

// TryOpenPasv asks the pool for ports, attempting to bind a listener on
// each, until one succeeds or the pool is exhausted. Any previously
// outstanding listener is closed first. Returns the advertised IP and
// bound port on success.
func (s *Session) TryOpenPasv() (net.IP, int, bool) {
	s.ClosePasv()

	bindHost := "0.0.0.0"
	if s.bindIP != nil && !s.bindIP.IsUnspecified() {
		bindHost = s.bindIP.String()
	}

	for {
		port, ok := s.pool.TryAcquire()
		if !ok {
			return nil, 0, false
		}

		listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindHost, port))
		if err != nil {
			s.pool.Release(port)
			continue
		}

		s.pasv = &pasvState{listener: listener, port: port}
		return s.getPassiveReplyAddress(), port, true
	}
}

// AcceptData waits for the single inbound data connection on the
// outstanding PASV listener, with a 15-second deadline. Regardless of
// outcome, the listener is closed and its port released before
// returning.
func (s *Session) AcceptData() (net.Conn, bool) {
	if s.pasv == nil {
		return nil, false
	}
	listener := s.pasv.listener
	defer s.ClosePasv()

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, false
		}
		_ = r.conn.SetDeadline(time.Now().Add(dataAcceptTimeout))
		return r.conn, true
	case <-time.After(dataAcceptTimeout):
		return nil, false
	}
}

// ClosePasv stops any outstanding passive listener and releases its
// port. Idempotent.
func (s *Session) ClosePasv() {
	if s.pasv == nil {
		return
	}
	_ = s.pasv.listener.Close()
	s.pool.Release(s.pasv.port)
	s.pasv = nil
}

// HasPasv reports whether a passive listener is currently outstanding.
func (s *Session) HasPasv() bool {
	return s.pasv != nil
}
