package ftpsession

import (
	"net"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepetowski/ftpd/internal/logging"
	"github.com/sepetowski/ftpd/internal/portpool"
)

type fakeConn struct {
	net.Conn
	local net.Addr
}

func (f *fakeConn) LocalAddr() net.Addr { return f.local }
func (f *fakeConn) Close() error        { return nil }

func newTestSession(t *testing.T, pool *portpool.Pool) *Session {
	t.Helper()
	conn := &fakeConn{local: &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 21}}
	log := logging.New("error")
	s, err := New(uuid.New(), conn, log, pool, nil, afero.NewMemMapFs(), "/srv/root")
	require.NoError(t, err)
	return s
}

func TestTryOpenPasvThenAcceptDataReleasesPort(t *testing.T) {
	pool := portpool.New(41000, 41002)
	s := newTestSession(t, pool)

	_, port, ok := s.TryOpenPasv()
	require.True(t, ok)
	assert.Equal(t, 1, pool.Len())
	assert.True(t, s.HasPasv())

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer client.Close()

	conn, ok := s.AcceptData()
	require.True(t, ok)
	defer conn.Close()

	assert.False(t, s.HasPasv())
	assert.Equal(t, 0, pool.Len(), "port must be released once the data command concludes")
}

func TestReopeningPasvClosesThePreviousListener(t *testing.T) {
	pool := portpool.New(41010, 41012)
	s := newTestSession(t, pool)

	_, firstPort, ok := s.TryOpenPasv()
	require.True(t, ok)

	_, secondPort, ok := s.TryOpenPasv()
	require.True(t, ok)

	assert.NotEqual(t, 0, secondPort)
	assert.Equal(t, 1, pool.Len(), "only the most recent listener's port should remain acquired")
	_ = firstPort
}

func TestClosePasvIsIdempotent(t *testing.T) {
	pool := portpool.New(41020, 41020)
	s := newTestSession(t, pool)

	_, _, ok := s.TryOpenPasv()
	require.True(t, ok)

	s.ClosePasv()
	s.ClosePasv()
	assert.Equal(t, 0, pool.Len())
}

func TestGetPassiveReplyAddressPrefersBindOverLocalAddress(t *testing.T) {
	pool := portpool.New(41030, 41030)
	s := newTestSession(t, pool)
	s.bindIP = net.ParseIP("192.168.1.10")

	ip := s.getPassiveReplyAddress()
	assert.Equal(t, "192.168.1.10", ip.String())
}

func TestGetPassiveReplyAddressFallsBackToLoopback(t *testing.T) {
	pool := portpool.New(41031, 41031)
	conn := &fakeConn{local: &net.TCPAddr{IP: net.IPv4zero, Port: 21}}
	s, err := New(uuid.New(), conn, logging.New("error"), pool, nil, afero.NewMemMapFs(), "/srv/root")
	require.NoError(t, err)

	ip := s.getPassiveReplyAddress()
	assert.Equal(t, "127.0.0.1", ip.String())
}

