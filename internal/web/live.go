package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"laptimer/internal/laptimer"
)

const (
	liveWriteWait  = 5 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 25 * time.Second
	liveBuffer     = 16
)

// LiveMessage is one websocket text frame. Type is "status" or "event".
type LiveMessage struct {
	Type   string           `json:"type"`
	Event  *laptimer.Record `json:"event,omitempty"`
	Status *StatusSnapshot  `json:"status,omitempty"`
}

// LiveHub fans lap events out to websocket clients. Publish never blocks: a
// client whose queue is full misses the message.
type LiveHub struct {
	status   *Status
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[int]chan LiveMessage
	nextID int
}

func NewLiveHub(status *Status) *LiveHub {
	return &LiveHub{
		status: status,
		upgrader: websocket.Upgrader{
			// The UI is served from the same box; any origin on the AP is fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[int]chan LiveMessage),
	}
}

func (h *LiveHub) Subscribe(buffer int) (int, <-chan LiveMessage) {
	if buffer <= 0 {
		buffer = liveBuffer
	}
	ch := make(chan LiveMessage, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *LiveHub) Unsubscribe(id int) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *LiveHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish implements laptimer.Sink.
func (h *LiveHub) Publish(ev laptimer.Event) {
	rec := ev.Record()
	msg := LiveMessage{Type: "event", Event: &rec}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *LiveHub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("live: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id, ch := h.Subscribe(liveBuffer)
		defer h.Unsubscribe(id)

		if h.status != nil {
			snap := h.status.Snapshot(time.Now().UTC())
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(LiveMessage{Type: "status", Status: &snap}); err != nil {
				return
			}
		}

		// Clients never send anything meaningful; the read loop only notices
		// close frames and keeps pong handling alive.
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(1024)
			_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(livePongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(livePingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
