// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package chain

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/event"
)

// Message is one frame sent to stream clients
type Message struct {
	Type  string      `json:"type"`
	Event string      `json:"event,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
}

// Subscriber streams applied events to websocket clients
type Subscriber struct {
	clients    map[string]*client
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

func NewSubscriber(log zerolog.Logger) *Subscriber {
	return &Subscriber{
		clients:    make(map[string]*client),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done. It must be
// called at most once.
func (s *Subscriber) Run(ctx context.Context) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.mu.Lock()
			for id, c := range s.clients {
				c.conn.Close()
				delete(s.clients, id)
			}
			s.mu.Unlock()
			return
		case c := <-s.register:
			s.mu.Lock()
			s.clients[c.id] = c
			s.mu.Unlock()
			s.log.Debug().Str("client", c.id).Msg("stream client connected")
		case c := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[c.id]; ok {
				delete(s.clients, c.id)
				c.conn.Close()
			}
			s.mu.Unlock()
		case msg := <-s.broadcast:
			s.mu.RLock()
			for _, c := range s.clients {
				if err := c.conn.WriteJSON(msg); err != nil {
					go s.leave(c)
				}
			}
			s.mu.RUnlock()
		case <-heartbeat.C:
			s.publish(Message{Type: "heartbeat"})
		}
	}
}

func (s *Subscriber) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	_ = conn.WriteJSON(Message{Type: "connected", Data: map[string]string{"id": c.id}})
	select {
	case s.register <- c:
	case <-s.done:
		conn.Close()
		return
	}
	go func() {
		defer s.leave(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// leave unregisters c, or just closes it once Run has stopped
func (s *Subscriber) leave(c *client) {
	select {
	case s.unregister <- c:
	case <-s.done:
		c.conn.Close()
	}
}

// Publish queues ev for every client. It never blocks the ledger: when the
// queue is full the event is dropped for streaming.
func (s *Subscriber) Publish(ev event.Event) {
	s.publish(Message{Type: "event", Event: ev.Kind().String(), Data: ev})
}

func (s *Subscriber) publish(msg Message) {
	select {
	case s.broadcast <- msg:
	default:
		s.log.Warn().Str("type", msg.Type).Msg("stream queue full, dropping message")
	}
}

func (s *Subscriber) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
