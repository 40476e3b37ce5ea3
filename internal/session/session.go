package session

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/types"
)

// Session is one remote shell: a network connection bridged byte-for-byte to
// an interactive shell running under a pty in its own session and process
// group.
type Session struct {
	ID     string
	conn   net.Conn
	cmd    *exec.Cmd
	ptmx   *os.File
	state  atomic.Int32
	once   sync.Once
	logger *logrus.Entry
}

func newSession(conn net.Conn, shell string) (*Session, error) {
	s := &Session{
		ID:   uuid.New().String(),
		conn: conn,
	}
	s.logger = logrus.WithFields(logrus.Fields{
		"component": "session",
		"session":   s.ID,
		"remote":    conn.RemoteAddr().String(),
	})
	s.state.Store(int32(types.SessionConnecting))

	// pty.Start gives the shell the pty as controlling terminal in a new
	// session, so the shell leads its own process group
	cmd := exec.Command(shell, "-i")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	return s, nil
}

// State reports the session lifecycle state
func (s *Session) State() types.SessionState {
	return types.SessionState(s.state.Load())
}

// run proxies bytes both ways until the peer disconnects or the shell exits,
// then tears the whole process group down.
func (s *Session) run() {
	s.state.Store(int32(types.SessionActive))
	s.logger.WithField("pid", s.cmd.Process.Pid).Info("Session active")

	go func() {
		_, _ = io.Copy(s.ptmx, s.conn)
		// peer gone, nothing left to feed the shell
		s.Terminate()
	}()
	go func() {
		_, _ = io.Copy(s.conn, s.ptmx)
		s.Terminate()
	}()

	_ = s.cmd.Wait()
	s.Terminate()
	s.logger.Info("Session closed")
}

// Terminate kills the shell's process group and closes both ends. Safe to
// call repeatedly from any goroutine.
func (s *Session) Terminate() {
	s.once.Do(func() {
		s.state.Store(int32(types.SessionTerminating))
		if s.cmd.Process != nil {
			_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		}
		s.ptmx.Close()
		s.conn.Close()
	})
}
