package test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StepKind is what a scripted step does on the server side.
type StepKind int

const (
	StepText StepKind = iota
	StepPing
	StepClose
	StepDrop
	StepPause
)

// Step is one scripted server action.
type Step struct {
	Kind    StepKind
	Payload []byte
	Code    int
	Delay   time.Duration
}

func Text(payload string) Step { return Step{Kind: StepText, Payload: []byte(payload)} }
func Ping(payload string) Step { return Step{Kind: StepPing, Payload: []byte(payload)} }
func Close(code int, reason string) Step {
	return Step{Kind: StepClose, Code: code, Payload: []byte(reason)}
}

// Drop closes the TCP connection without a close frame.
func Drop() Step                 { return Step{Kind: StepDrop} }
func Pause(d time.Duration) Step { return Step{Kind: StepPause, Delay: d} }

// MockWebSocketServer represents a mock exchange stream server for testing.
// Each accepted connection plays the next registered session script; once
// the scripts run out the last one is replayed.
type MockWebSocketServer struct {
	Server *httptest.Server
	// Connections holds all accepted websocket connections
	Connections []*websocket.Conn
	// Pongs received from clients, in order
	Pongs [][]byte
	// Close frames received from clients
	CloseCodes []int

	sessions [][]Step
	accepted int
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

// NewMockWebSocketServer creates and starts a new mock WebSocket server
func NewMockWebSocketServer() *MockWebSocketServer {
	mock := &MockWebSocketServer{
		Connections: make([]*websocket.Conn, 0),
		upgrader: websocket.Upgrader{
			// Allow all origins for testing
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handleWebSocket))

	// Convert http:// to ws://
	mock.Server.URL = "ws" + mock.Server.URL[4:]

	return mock
}

// AddSession registers the script played on the next connection.
func (m *MockWebSocketServer) AddSession(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, steps)
}

// URL returns the ws:// address of the server.
func (m *MockWebSocketServer) URL() string {
	return m.Server.URL
}

// Accepted returns the number of connections accepted so far.
func (m *MockWebSocketServer) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// GetPongs returns a copy of the pong payloads received.
func (m *MockWebSocketServer) GetPongs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.Pongs))
	copy(out, m.Pongs)
	return out
}

// GetCloseCodes returns the close codes sent by clients.
func (m *MockWebSocketServer) GetCloseCodes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.CloseCodes))
	copy(out, m.CloseCodes)
	return out
}

func (m *MockWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.Connections = append(m.Connections, conn)
	var script []Step
	if n := len(m.sessions); n > 0 {
		idx := m.accepted
		if idx >= n {
			idx = n - 1
		}
		script = m.sessions[idx]
	}
	m.accepted++
	m.mu.Unlock()

	conn.SetPongHandler(func(appData string) error {
		m.mu.Lock()
		m.Pongs = append(m.Pongs, []byte(appData))
		m.mu.Unlock()
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		m.mu.Lock()
		m.CloseCodes = append(m.CloseCodes, code)
		m.mu.Unlock()
		message := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		return nil
	})

	go m.readMessages(conn)
	go m.play(conn, script)
}

// readMessages drains the client side so control handlers run.
func (m *MockWebSocketServer) readMessages(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// play sends the scripted frames to the client
func (m *MockWebSocketServer) play(conn *websocket.Conn, script []Step) {
	deadline := func() time.Time { return time.Now().Add(time.Second) }
	for _, step := range script {
		var err error
		switch step.Kind {
		case StepText:
			err = conn.WriteMessage(websocket.TextMessage, step.Payload)
		case StepPing:
			err = conn.WriteControl(websocket.PingMessage, step.Payload, deadline())
		case StepClose:
			err = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(step.Code, string(step.Payload)), deadline())
		case StepDrop:
			conn.Close()
			return
		case StepPause:
			time.Sleep(step.Delay)
		}
		if err != nil {
			return
		}
	}
}

// Close shuts down the mock server and closes all connections
func (m *MockWebSocketServer) Close() {
	m.mu.Lock()
	for _, conn := range m.Connections {
		conn.Close()
	}
	m.mu.Unlock()
	m.Server.Close()
}
