package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
)

// Listener serves interactive shell sessions on a TCP or unix socket. Each
// accepted connection gets its own shell under a pty; the listener tracks
// live sessions so shutdown can kill every process group it spawned.
type Listener struct {
	config   *config.Config
	listener net.Listener
	logger   *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewListener creates a session listener from config
func NewListener(cfg *config.Config) *Listener {
	return &Listener{
		config:   cfg,
		logger:   logrus.WithField("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// Start binds the configured address and serves connections until Shutdown
func (l *Listener) Start() error {
	ln, err := net.Listen(l.config.SessionNetwork, l.config.SessionAddress)
	if err != nil {
		return fmt.Errorf("failed to bind session listener: %w", err)
	}
	l.listener = ln

	l.logger.Infof("Session listener on %s://%s", l.config.SessionNetwork, l.config.SessionAddress)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.WithError(err).Warn("Accept failed")
			continue
		}

		sess, err := newSession(conn, l.config.SessionShell)
		if err != nil {
			l.logger.WithError(err).Error("Failed to start session shell")
			conn.Close()
			continue
		}

		l.add(sess)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			sess.run()
			l.remove(sess.ID)
		}()
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) add(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s.ID] = s
}

func (l *Listener) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, id)
}

// Count returns the number of live sessions
func (l *Listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Shutdown stops accepting, kills every live session's process group and
// waits for the handlers to drain. Closing a unix listener also unlinks its
// socket file.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	ln := l.listener
	sessions := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, s := range sessions {
		s.Terminate()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
