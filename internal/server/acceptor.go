package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sepetowski/ftpd/internal/auth"
	"github.com/sepetowski/ftpd/internal/config"
	"github.com/sepetowski/ftpd/internal/logging"
	"github.com/sepetowski/ftpd/internal/portpool"
)

// Acceptor binds the control port and spawns one session goroutine per
// accepted connection, coordinating graceful shutdown with the rest of
// the in-flight sessions.
type Acceptor struct {
	cfg     *config.ServerConfig
	authDir *auth.Directory
	pool    *portpool.Pool
	osFs    afero.Fs
	log     *logging.Logger

	listener net.Listener
	wg       sync.WaitGroup
	ready    chan string
}

// NewAcceptor builds an Acceptor. osFs backs every session's path
// resolver; pass afero.NewOsFs() in production.
func NewAcceptor(cfg *config.ServerConfig, authDir *auth.Directory, osFs afero.Fs, log *logging.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		authDir: authDir,
		pool:    portpool.New(cfg.PasvMin, cfg.PasvMax),
		osFs:    osFs,
		log:     log,
		ready:   make(chan string, 1),
	}
}

// ListenAddr blocks until Run has bound its listener, then returns its
// address. Used by tests that bind an ephemeral port (ControlPort: 0)
// and need to discover which one the OS chose.
func (a *Acceptor) ListenAddr() string {
	return <-a.ready
}

// Run binds the control port and accepts connections until ctx is
// canceled, then stops accepting and waits for in-flight sessions to
// finish naturally before returning. A bind failure is returned
// immediately as a startup-fatal error.
func (a *Acceptor) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Bind, a.cfg.ControlPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind control port: %w", err)
	}
	a.listener = listener
	a.log.Info("listening on %s", addr)
	a.ready <- listener.Addr().String()

	go func() {
		<-ctx.Done()
		a.log.Info("shutdown requested, closing listener")
		_ = a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return nil
			default:
				a.log.Warn("accept error: %v", err)
				continue
			}
		}

		a.wg.Add(1)
		id := uuid.New()
		go func() {
			defer a.wg.Done()
			HandleConnection(conn, id, a.cfg, a.authDir, a.pool, a.osFs, a.log)
		}()
	}
}

// Wait blocks until every in-flight session has finished.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}
