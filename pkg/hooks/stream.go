package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Stream fans Bus events out to live WebSocket subscribers, grounded on
// dohr-michael-ozzie/internal/gateway/ws's Hub: Accept the upgrade,
// register a per-connection send channel, and bridge every Bus event
// into it without blocking Emit on a slow client. Unlike Hub, Stream is
// read-only — devpipe's bus has no inbound client frames to dispatch,
// only outbound lifecycle events a dashboard or CLI wants to watch.
type Stream struct {
	bus *Bus

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	taskID string // "" subscribes to every task
}

// NewStream creates a Stream bridging bus's events to WebSocket clients.
func NewStream(bus *Bus) *Stream {
	s := &Stream{bus: bus, clients: make(map[*streamClient]struct{})}
	for _, eventType := range []EventType{
		TaskStart, TaskEnd, AgentStart, AgentEnd, ToolCall, ToolResult,
		Error, Checkpoint, PhaseChange, MemoryUpdate,
	} {
		bus.Subscribe(eventType, Low, Filter{}, s.broadcast)
	}
	return s
}

func (s *Stream) broadcast(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if c.taskID != "" && c.taskID != e.TaskID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Warn("hooks: stream client too slow, dropping event", "task_id", e.TaskID, "event_type", e.Type)
		}
	}
	return nil
}

// ServeHTTP upgrades r into a WebSocket connection and streams every
// subsequent Bus event to it until the client disconnects. A "task_id"
// query parameter narrows the stream to one task.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("hooks: stream accept", "error", err)
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, 64), taskID: r.URL.Query().Get("task_id")}
	s.register(c)
	defer s.unregister(c)

	ctx := r.Context()
	go s.drainIncoming(ctx, c)
	s.writePump(ctx, c)
}

// drainIncoming discards anything the client sends; Stream is outbound
// only, but the connection still needs its read side pumped so the
// client's disconnect (or a ping/pong) is observed.
func (s *Stream) drainIncoming(ctx context.Context, c *streamClient) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Stream) writePump(ctx context.Context, c *streamClient) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) register(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Stream) unregister(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}
