package server

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sepetowski/ftpd/internal/auth"
)

func (h *connHandler) cmdType(arg string) outcome {
	if !strings.EqualFold(arg, "I") {
		return reply(504, "Only TYPE I supported")
	}
	h.typeSet = true
	return reply(200, "Type set to I")
}

func (h *connHandler) cmdFeat() outcome {
	h.writeRaw("211-Features")
	h.writeRaw(" PASV")
	h.writeRaw(" UTF8")
	h.writeRaw("211 End")
	return handled()
}

func (h *connHandler) cmdUser(name string) outcome {
	if auth.IsAnonymous(name) {
		if !h.authDir.AllowAnonymous() {
			return reply(530, "Anonymous access denied")
		}
		h.sess.PendingUser = auth.AnonymousUsername
		return reply(331, "Anonymous login ok, send any password")
	}
	h.sess.PendingUser = name
	return reply(331, "Password required")
}

func (h *connHandler) cmdPass(password string) outcome {
	pending := h.sess.PendingUser

	if auth.IsAnonymous(pending) {
		if !h.authDir.AllowAnonymous() {
			return reply(530, "Anonymous access denied")
		}
		if err := h.sess.Login(auth.AnonymousUsername, h.cfg.AnonymousHome()); err != nil {
			h.log.Error("anonymous login failed: %v", err)
			h.writeReply(421, "Server error, closing connection")
			_ = h.conn.Close()
			return handled()
		}
		return reply(230, "Logged in.")
	}

	if !h.authDir.Authenticate(pending, password) {
		return reply(530, "Login incorrect")
	}
	if err := h.sess.Login(pending, h.cfg.UserHome(pending)); err != nil {
		h.log.Error("login failed for %s: %v", pending, err)
		h.writeReply(421, "Server error, closing connection")
		_ = h.conn.Close()
		return handled()
	}
	return reply(230, "Logged in.")
}

func (h *connHandler) cmdPwd() outcome {
	return reply(257, fmt.Sprintf("%q is current directory", h.sess.Resolver().CWD()))
}

func (h *connHandler) cmdCwd(arg string) outcome {
	if h.sess.Resolver().TryChangeDir(arg) {
		return reply(250, "Directory successfully changed")
	}
	return reply(550, "Failed to change directory")
}

func (h *connHandler) cmdCdup() outcome {
	if h.sess.Resolver().TryChangeDir("..") {
		return reply(200, "OK")
	}
	return reply(550, "Failed")
}

func (h *connHandler) cmdPasv() outcome {
	ip, port, ok := h.sess.TryOpenPasv()
	if !ok {
		return reply(421, "Can't open passive connection")
	}
	p1, p2 := port/256, port%256
	return reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)", ip[0], ip[1], ip[2], ip[3], p1, p2))
}

func (h *connHandler) cmdList(arg string) outcome {
	conn, ok := h.sess.AcceptData()
	if !ok {
		return reply(425, "Can't open data connection")
	}
	defer conn.Close()

	h.writeReply(150, "Opening data connection for LIST")

	lines := h.sess.Resolver().ToUnixListLines(arg)
	payload := strings.Join(lines, "\r\n")
	if len(lines) > 0 {
		payload += "\r\n"
	}

	if _, err := io.WriteString(conn, payload); err != nil {
		h.log.Debug("LIST transfer failed: %v", err)
		h.writeReply(451, "Local error in processing")
		return handled()
	}

	h.writeReply(226, "Transfer complete")
	return handled()
}

func (h *connHandler) cmdRetr(filename string) outcome {
	if filename == "" {
		return reply(501, "Filename required")
	}

	_, rel, ok := h.sess.Resolver().Resolve(filename)
	if !ok {
		return reply(550, "File not found")
	}
	file, err := h.sess.Resolver().OpenRead(rel)
	if err != nil {
		return reply(550, "File not found")
	}
	defer file.Close()

	conn, ok := h.sess.AcceptData()
	if !ok {
		return reply(425, "Can't open data connection")
	}
	defer conn.Close()

	h.writeReply(150, fmt.Sprintf("Opening data connection for %s", path.Base(filename)))

	if _, err := io.Copy(conn, file); err != nil {
		h.log.Debug("RETR transfer failed: %v", err)
		h.writeReply(451, "Local error in processing")
		return handled()
	}

	h.writeReply(226, "Transfer complete")
	return handled()
}

func (h *connHandler) cmdStor(filename string) outcome {
	if filename == "" {
		return reply(501, "Filename required")
	}

	_, rel, ok := h.sess.Resolver().Resolve(filename)
	if !ok {
		return reply(550, "Invalid path")
	}
	file, err := h.sess.Resolver().CreateForWrite(rel)
	if err != nil {
		return reply(550, "Invalid path")
	}
	defer file.Close()

	conn, ok := h.sess.AcceptData()
	if !ok {
		return reply(425, "Can't open data connection")
	}
	defer conn.Close()

	h.writeReply(150, "Opening data connection for upload")

	if _, err := io.Copy(file, conn); err != nil {
		h.log.Debug("STOR transfer failed: %v", err)
		h.writeReply(451, "Local error in processing")
		return handled()
	}

	h.writeReply(226, "Transfer complete")
	return handled()
}

func (h *connHandler) cmdDele(filename string) outcome {
	if filename == "" {
		return reply(501, "Filename required")
	}
	_, rel, ok := h.sess.Resolver().Resolve(filename)
	if !ok {
		return reply(550, "File not found")
	}
	if !h.sess.Resolver().Exists(rel) {
		return reply(550, "File not found")
	}
	if err := h.sess.Resolver().Remove(rel); err != nil {
		return reply(450, "Delete failed")
	}
	return reply(250, "File deleted")
}

func (h *connHandler) cmdMkd(dirname string) outcome {
	if dirname == "" {
		return reply(501, "Directory name required")
	}
	_, rel, ok := h.sess.Resolver().Resolve(dirname)
	if !ok {
		return reply(550, "Invalid path")
	}
	if h.sess.Resolver().Exists(rel) {
		return reply(550, "Directory already exists")
	}
	if err := h.sess.Resolver().Mkdir(rel); err != nil {
		return reply(550, "Create directory failed")
	}
	return reply(257, fmt.Sprintf("%q directory created", dirname))
}

func (h *connHandler) cmdRmd(dirname string) outcome {
	if dirname == "" {
		return reply(501, "Directory name required")
	}
	_, rel, ok := h.sess.Resolver().Resolve(dirname)
	if !ok {
		return reply(550, "Directory not found")
	}
	info, err := h.sess.Resolver().Stat(rel)
	if err != nil || !info.IsDir() {
		return reply(550, "Directory not found")
	}
	empty, err := h.sess.Resolver().IsEmptyDir(rel)
	if err != nil {
		return reply(550, "Remove directory failed")
	}
	if !empty {
		return reply(550, "Directory not empty")
	}
	if err := h.sess.Resolver().Rmdir(rel); err != nil {
		return reply(550, "Remove directory failed")
	}
	return reply(250, "Directory removed")
}

func (h *connHandler) cmdSize(filename string) outcome {
	if filename == "" {
		return reply(501, "Filename required")
	}
	_, rel, ok := h.sess.Resolver().Resolve(filename)
	if !ok {
		return reply(550, "File not found")
	}
	info, err := h.sess.Resolver().Stat(rel)
	if err != nil || info.IsDir() {
		return reply(550, "File not found")
	}
	return reply(213, fmt.Sprintf("%d", info.Size()))
}

func (h *connHandler) cmdMdtm(filename string) outcome {
	if filename == "" {
		return reply(501, "Filename required")
	}
	_, rel, ok := h.sess.Resolver().Resolve(filename)
	if !ok {
		return reply(550, "File not found")
	}
	info, err := h.sess.Resolver().Stat(rel)
	if err != nil {
		return reply(550, "File not found")
	}
	return reply(213, info.ModTime().UTC().Format("20060102150405"))
}
