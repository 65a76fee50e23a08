package ws

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// listenerBuffer is how many events may queue for one slow listener before
// further events to it are dropped.
const listenerBuffer = 32

// Listener is the part of a websocket connection the hub writes to.
type Listener interface {
	WriteJSON(v interface{}) error
}

// subscriber owns the only goroutine writing to its listener.
type subscriber struct {
	listener Listener
	events   chan any
}

func (s *subscriber) run(topic string) {
	for event := range s.events {
		if err := s.listener.WriteJSON(event); err != nil {
			log.Warn().Err(err).Msg("Error writing ws event to " + topic)
		}
	}
}

type WebSocketNotificationHub struct {
	registrationMutex sync.Mutex
	listeners         map[string][]*subscriber
}

func NewNotificationHub() *WebSocketNotificationHub {
	return &WebSocketNotificationHub{
		listeners: make(map[string][]*subscriber),
	}
}

func EscrowTopic(session string) string {
	return fmt.Sprintf("escrow/%s", session)
}

func (hub *WebSocketNotificationHub) RegisterListener(topic string, conn Listener) {
	sub := &subscriber{
		listener: conn,
		events:   make(chan any, listenerBuffer),
	}

	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	hub.listeners[topic] = append(hub.listeners[topic], sub)
	go sub.run(topic)
}

func (hub *WebSocketNotificationHub) UnregisterListener(topic string, conn Listener) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	remaining := hub.listeners[topic][:0]
	for _, sub := range hub.listeners[topic] {
		if sub.listener == conn {
			close(sub.events)
			continue
		}
		remaining = append(remaining, sub)
	}

	if len(remaining) == 0 {
		delete(hub.listeners, topic)
		return
	}
	hub.listeners[topic] = remaining
}

func (hub *WebSocketNotificationHub) ListenerCount(topic string) int {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	return len(hub.listeners[topic])
}

// Publish queues event for every listener of targetTopic and returns without
// waiting for any write. A listener whose queue is full misses the event.
func (hub *WebSocketNotificationHub) Publish(targetTopic string, event any) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	for _, sub := range hub.listeners[targetTopic] {
		select {
		case sub.events <- event:
		default:
			log.Warn().Msg("Ws listener too slow, dropping event for " + targetTopic)
		}
	}
}
