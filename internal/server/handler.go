// Package server implements the control-channel protocol state machine
// and the acceptor that spawns one handler per accepted connection.
package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sepetowski/ftpd/internal/auth"
	"github.com/sepetowski/ftpd/internal/config"
	"github.com/sepetowski/ftpd/internal/ftpsession"
	"github.com/sepetowski/ftpd/internal/logging"
	"github.com/sepetowski/ftpd/internal/portpool"
)

// commandsExemptFromLogin lists the commands usable before PASS
// succeeds, per spec §4.4's authentication gate.
var commandsExemptFromLogin = map[string]bool{
	"NOOP": true, "OPTS": true, "SYST": true, "TYPE": true,
	"FEAT": true, "USER": true, "PASS": true, "QUIT": true,
}

// outcome is a handler's result: either it already wrote everything it
// needed to (a data-transferring command driving its own 150-then-226
// sequence) or it hands the dispatcher a single reply line to write.
// This stands in for the reference's exception-carrying-a-reply
// pattern without resorting to panics for control flow.
type outcome struct {
	written bool
	code    int
	msg     string
}

func reply(code int, msg string) outcome { return outcome{code: code, msg: msg} }
func handled() outcome                   { return outcome{written: true} }

// connHandler drives one control connection start to finish.
type connHandler struct {
	cfg     *config.ServerConfig
	authDir *auth.Directory
	pool    *portpool.Pool
	osFs    afero.Fs
	log     *logging.Logger

	conn    net.Conn
	sess    *ftpsession.Session
	typeSet bool
}

// HandleConnection runs the control-channel loop for one accepted
// connection until it closes, for any reason. It never returns an
// error; all failures are reported to the client and logged.
func HandleConnection(conn net.Conn, id uuid.UUID, cfg *config.ServerConfig, authDir *auth.Directory, pool *portpool.Pool, osFs afero.Fs, log *logging.Logger) {
	remote := conn.RemoteAddr().String()
	sessionLog := log.WithSession(id, remote)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	sess, err := ftpsession.New(id, conn, sessionLog, pool, bindIPOf(cfg.Bind), osFs, cfg.Root)
	if err != nil {
		sessionLog.Error("failed to initialize session: %v", err)
		_, _ = fmt.Fprintf(conn, "421 Server error, closing connection\r\n")
		_ = conn.Close()
		return
	}

	h := &connHandler{cfg: cfg, authDir: authDir, pool: pool, osFs: osFs, log: sessionLog, conn: conn, sess: sess}
	defer func() {
		sess.ClosePasv()
		_ = conn.Close()
	}()

	h.writeReply(220, "Server ready")
	h.loop()
}

func bindIPOf(bind string) net.IP {
	ip := net.ParseIP(bind)
	if ip == nil {
		return nil
	}
	return ip
}

func (h *connHandler) loop() {
	reader := bufio.NewReader(h.conn)

	for {
		idle := time.Duration(h.cfg.PreLoginIdleSeconds) * time.Second
		if h.sess.LoggedIn {
			idle = time.Duration(h.cfg.PostLoginIdleSeconds) * time.Second
		}
		_ = h.conn.SetReadDeadline(time.Now().Add(idle))

		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				h.writeReply(421, "Timeout - closing control connection")
				return
			}
			// EOF or any other read error closes the session quietly.
			return
		}

		command, arg := parseCommand(line)
		if command == "" {
			continue
		}

		h.log.Debug("command: %s %s", command, arg)

		if !commandsExemptFromLogin[command] && !h.sess.LoggedIn {
			h.writeReply(530, "Please login with USER and PASS")
			continue
		}

		if command == "QUIT" {
			h.writeReply(221, "Bye")
			return
		}

		result, fatal := h.dispatchSafely(command, arg)
		if fatal {
			h.writeReply(421, "Server error, closing connection")
			return
		}
		if !result.written {
			h.writeReply(result.code, result.msg)
		}
	}
}

// dispatchSafely runs a command handler and converts any unexpected
// panic into the session-fatal 421 path described in spec §7, rather
// than letting it escape and take the acceptor's goroutine down with
// it.
func (h *connHandler) dispatchSafely(command, arg string) (result outcome, fatal bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("unexpected error handling %s: %v", command, r)
			fatal = true
		}
	}()
	return h.dispatch(command, arg), false
}

func parseCommand(line string) (command, arg string) {
	trimmed := strings.TrimRight(line, "\r\n")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", ""
	}

	parts := strings.SplitN(trimmed, " ", 2)
	command = strings.ToUpper(parts[0])
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return command, arg
}

func (h *connHandler) dispatch(command, arg string) outcome {
	switch command {
	case "NOOP":
		return reply(200, "NOOP ok")
	case "OPTS":
		return reply(200, "OPTS ok")
	case "SYST":
		return reply(215, "UNIX Type: L8")
	case "TYPE":
		return h.cmdType(arg)
	case "FEAT":
		return h.cmdFeat()
	case "USER":
		return h.cmdUser(arg)
	case "PASS":
		return h.cmdPass(arg)
	case "PWD":
		return h.cmdPwd()
	case "CWD":
		return h.cmdCwd(arg)
	case "CDUP":
		return h.cmdCdup()
	case "PASV":
		return h.cmdPasv()
	case "LIST":
		return h.cmdList(arg)
	case "RETR":
		return h.cmdRetr(arg)
	case "STOR":
		return h.cmdStor(arg)
	case "DELE":
		return h.cmdDele(arg)
	case "MKD":
		return h.cmdMkd(arg)
	case "RMD":
		return h.cmdRmd(arg)
	case "SIZE":
		return h.cmdSize(arg)
	case "MDTM":
		return h.cmdMdtm(arg)
	default:
		return reply(502, "Command not implemented")
	}
}

// writeReply writes one complete, CRLF-terminated reply line in a
// single Write call so it cannot interleave with another goroutine's
// output on this connection (there is none, but it also keeps a
// multi-line reply's final line atomic with respect to the rest of the
// command's output).
func (h *connHandler) writeReply(code int, msg string) {
	_, err := fmt.Fprintf(h.conn, "%d %s\r\n", code, msg)
	if err != nil {
		h.log.Debug("write reply failed: %v", err)
	}
}

func (h *connHandler) writeRaw(line string) {
	_, err := fmt.Fprintf(h.conn, "%s\r\n", line)
	if err != nil {
		h.log.Debug("write raw line failed: %v", err)
	}
}
