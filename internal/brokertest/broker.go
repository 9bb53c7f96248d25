// Package brokertest provides an in-process WebSocket broker speaking the
// alert feed wire protocol, for tests.
package brokertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Command is a command frame received from a client.
type Command struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Topic  string          `json:"-"`
	Params json.RawMessage `json:"params"`
}

// Published is a publish command received from a client.
type Published struct {
	Destination string
	Payload     json.RawMessage
}

// Handshake records the identity a client presented when connecting.
type Handshake struct {
	Identity      string
	Role          string
	Authorization string
	Query         string
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	topics  map[string]bool
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is a test broker.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	peers      map[*peer]struct{}
	reject     bool
	accepted   int
	handshakes []Handshake
	commands   []Command
	published  []Published
}

// New starts a broker on a random local port.
func New() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// URL of the broker.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every peer and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// SetReject makes the broker refuse (true) or accept (false) new connections.
func (s *Server) SetReject(reject bool) {
	s.mu.Lock()
	s.reject = reject
	s.mu.Unlock()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{conn: conn, topics: make(map[string]bool)}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.accepted++
	s.handshakes = append(s.handshakes, Handshake{
		Identity:      r.Header.Get("X-Identity"),
		Role:          r.Header.Get("X-Role"),
		Authorization: r.Header.Get("Authorization"),
		Query:         r.URL.RawQuery,
	})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleCommand(p, data)
	}
}

func (s *Server) handleCommand(p *peer, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return
	}
	var params struct {
		Topic       string          `json:"topic"`
		Destination string          `json:"destination"`
		Payload     json.RawMessage `json:"payload"`
	}
	json.Unmarshal(cmd.Params, &params)
	cmd.Topic = params.Topic

	ack := "ok"

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	switch cmd.Cmd {
	case "subscribe":
		p.topics[params.Topic] = true
		ack = "subscribed"
	case "unsubscribe":
		delete(p.topics, params.Topic)
		ack = "unsubscribed"
	case "publish":
		s.published = append(s.published, Published{
			Destination: params.Destination,
			Payload:     params.Payload,
		})
	}
	s.mu.Unlock()

	resp, _ := json.Marshal(map[string]any{"id": cmd.ID, "type": ack})
	p.write(resp)
}

// Publish sends body to every peer subscribed to topic and returns how many
// peers received it. body may be []byte, json.RawMessage or any JSON value.
func (s *Server) Publish(topic string, body any) int {
	var raw json.RawMessage
	switch b := body.(type) {
	case []byte:
		raw = b
	case json.RawMessage:
		raw = b
	default:
		raw, _ = json.Marshal(body)
	}

	frame, _ := json.Marshal(map[string]any{
		"type":  "message",
		"topic": topic,
		"body":  raw,
	})

	n := 0
	for _, p := range s.snapshotPeers() {
		s.mu.Lock()
		subscribed := p.topics[topic]
		s.mu.Unlock()
		if !subscribed {
			continue
		}
		if p.write(frame) == nil {
			n++
		}
	}
	return n
}

// SendRaw writes data as-is to every peer.
func (s *Server) SendRaw(data []byte) {
	for _, p := range s.snapshotPeers() {
		p.write(data)
	}
}

// DropAll closes every peer connection without a close handshake.
func (s *Server) DropAll() {
	for _, p := range s.snapshotPeers() {
		p.conn.Close()
	}
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Connections returns the number of open peers.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Accepted returns the number of connections accepted since start.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Subscribers returns how many open peers are subscribed to topic.
func (s *Server) Subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.peers {
		if p.topics[topic] {
			n++
		}
	}
	return n
}

// Commands returns every command received so far.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// CommandCount counts received commands with the given verb and topic.
func (s *Server) CommandCount(cmd, topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c.Cmd == cmd && c.Topic == topic {
			n++
		}
	}
	return n
}

// Published returns every publish command received so far.
func (s *Server) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Published(nil), s.published...)
}

// Handshakes returns the handshake of every accepted connection.
func (s *Server) Handshakes() []Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handshake(nil), s.handshakes...)
}
