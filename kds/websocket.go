package kds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// WSSubscriber sends events as JSON text frames {"event":..,"data":..}.
type WSSubscriber struct {
	id     string
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{id: uuid.NewString(), conn: conn}
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) WriteEvent(event string, data []byte) error {
	frame, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: event, Data: asJSON(data)})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, frame)
}

func (s *WSSubscriber) WriteComment(text string) error {
	frame, err := json.Marshal(Message{Event: EventConnected, Data: text})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, frame)
}

func (s *WSSubscriber) write(kind int, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(kind, frame)
}

// ReadUntilClosed drains client frames until the peer goes away.
func (s *WSSubscriber) ReadUntilClosed() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// asJSON keeps valid JSON as is and quotes anything else (e.g. "pong").
func asJSON(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
