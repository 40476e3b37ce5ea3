package handler

import (
	"errors"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// TerminalConnection bridges a WebSocket to an interactive shell under a
// pty. Frames in: init, data, resize. Frames out: data, exit, error.
type TerminalConnection struct {
	conn       *websocket.Conn
	shell      string
	cmd        *exec.Cmd
	ptmx       *os.File
	eventBus   chan types.WebSocketMessage
	senderDone chan struct{}
	readerDone chan struct{}
	started    atomic.Bool
	logger     *logrus.Entry
	mutex      sync.Mutex
	closed     bool
}

// HandleWebSocket serves the WebSocket terminal bridge
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	tc := &TerminalConnection{
		conn:       conn,
		shell:      h.config.SessionShell,
		eventBus:   make(chan types.WebSocketMessage, 100),
		senderDone: make(chan struct{}),
		logger:     h.logger.WithField("component", "websocket"),
	}

	go tc.eventSender()

	// The client must send an init frame promptly
	initTimeout := time.NewTimer(1 * time.Second)
	defer initTimeout.Stop()

	go func() {
		<-initTimeout.C
		if !tc.started.Load() {
			tc.sendError("Initialization timeout")
			tc.close(4001, "Initialization Timeout")
		}
	}()

	tc.handleMessages()
}

// handleMessages handles incoming WebSocket frames until the peer goes away
func (tc *TerminalConnection) handleMessages() {
	defer tc.close(1000, "Connection closed")

	for {
		var msg types.WebSocketMessage
		if err := tc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				tc.logger.WithError(err).Error("WebSocket read error")
			}
			return
		}

		switch msg.Type {
		case "init":
			tc.handleInit(msg)
		case "data":
			tc.handleData(msg)
		case "resize":
			tc.handleResize(msg)
		default:
			tc.sendError("Unknown message type: " + msg.Type)
		}
	}
}

// handleInit starts the shell with the requested terminal size
func (tc *TerminalConnection) handleInit(msg types.WebSocketMessage) {
	if tc.started.Swap(true) {
		tc.close(4000, "Already Initialized")
		return
	}

	cols, rows := msg.Cols, msg.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	cmd := exec.Command(tc.shell, "-i")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		tc.sendError("Failed to start shell: " + err.Error())
		tc.close(4002, "Shell Start Failed")
		return
	}

	tc.cmd = cmd
	tc.ptmx = ptmx
	tc.readerDone = make(chan struct{})
	tc.logger.WithField("pid", cmd.Process.Pid).Info("Terminal session started")

	go tc.pumpOutput()
	go tc.watchExit()
}

// handleData feeds keystrokes to the shell
func (tc *TerminalConnection) handleData(msg types.WebSocketMessage) {
	if !tc.started.Load() {
		tc.close(4003, "Not yet initialized")
		return
	}

	if _, err := tc.ptmx.Write([]byte(msg.Data)); err != nil {
		tc.sendError("Failed to write to shell: " + err.Error())
	}
}

// handleResize adjusts the pty dimensions
func (tc *TerminalConnection) handleResize(msg types.WebSocketMessage) {
	if !tc.started.Load() {
		tc.close(4003, "Not yet initialized")
		return
	}

	if msg.Cols == 0 || msg.Rows == 0 {
		tc.sendError("cols and rows must be positive")
		return
	}

	if err := pty.Setsize(tc.ptmx, &pty.Winsize{Rows: msg.Rows, Cols: msg.Cols}); err != nil {
		tc.sendError("Failed to resize terminal: " + err.Error())
	}
}

// pumpOutput streams pty output to the client as data frames
func (tc *TerminalConnection) pumpOutput() {
	defer close(tc.readerDone)

	buf := make([]byte, 4096)
	for {
		n, err := tc.ptmx.Read(buf)
		if n > 0 {
			tc.sendMessage(types.WebSocketMessage{Type: "data", Data: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

// watchExit reports the shell's exit after the last output frame
func (tc *TerminalConnection) watchExit() {
	err := tc.cmd.Wait()
	<-tc.readerDone

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	tc.sendMessage(types.WebSocketMessage{Type: "exit", Code: &code})
	tc.close(1000, "Shell exited")
}

// eventSender writes queued frames to the WebSocket client
func (tc *TerminalConnection) eventSender() {
	defer close(tc.senderDone)

	for event := range tc.eventBus {
		tc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := tc.conn.WriteJSON(event); err != nil {
			tc.logger.WithError(err).Error("Failed to send WebSocket message")
			return
		}
	}
}

// sendMessage queues a frame for the client, dropping it when the bus is full
func (tc *TerminalConnection) sendMessage(msg types.WebSocketMessage) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.closed {
		return
	}

	select {
	case tc.eventBus <- msg:
	default:
		tc.logger.Warn("Event bus full, dropping message")
	}
}

// sendError sends an error frame
func (tc *TerminalConnection) sendError(message string) {
	tc.sendMessage(types.WebSocketMessage{Type: "error", Error: message})
}

// close flushes queued frames, closes the connection and tears down the
// shell's process group. Safe to call repeatedly.
func (tc *TerminalConnection) close(code int, message string) {
	tc.mutex.Lock()
	if tc.closed {
		tc.mutex.Unlock()
		return
	}
	tc.closed = true
	tc.mutex.Unlock()

	// no producers remain once closed is set, so the sender can drain
	close(tc.eventBus)
	<-tc.senderDone

	tc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, message),
		time.Now().Add(time.Second))
	tc.conn.Close()

	if tc.cmd != nil && tc.cmd.Process != nil {
		_ = syscall.Kill(-tc.cmd.Process.Pid, syscall.SIGKILL)
	}
	if tc.ptmx != nil {
		tc.ptmx.Close()
	}
}
