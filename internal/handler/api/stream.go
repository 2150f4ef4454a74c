package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"StoryRisk/internal/domain/models"
	domrepo "StoryRisk/internal/domain/repository"
	xlogger "StoryRisk/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// StreamConfig tunes the websocket feed.
type StreamConfig struct {
	BufferSize   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	projectID string
	done      chan struct{}
	closeOnce sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// StreamHub pushes story events to websocket subscribers. It is an
// EventPublisher so the Estimator can fan events into it.
type StreamHub struct {
	cfg      StreamConfig
	upgrader websocket.Upgrader
	log      *xlogger.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

func NewStreamHub(cfg StreamConfig, log *xlogger.Logger) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = xlogger.Nop()
	}
	return &StreamHub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.With(xlogger.String("component", "stream")),
		clients: make(map[*streamClient]struct{}),
	}
}

var _ domrepo.EventPublisher = (*StreamHub)(nil)

// Serve upgrades the request and streams events until the client leaves.
// ?projectId= restricts the feed to one project.
func (h *StreamHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &streamClient{
		conn:      conn,
		send:      make(chan []byte, h.cfg.BufferSize),
		projectID: c.QueryParam("projectId"),
		done:      make(chan struct{}),
	}
	if !h.add(cl) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		cl.close()
		return nil
	}
	h.log.Debug("stream client connected", xlogger.String("project_id", cl.projectID), xlogger.Int("clients", h.Clients()))

	go h.readLoop(cl)
	h.writeLoop(cl)
	h.remove(cl)
	return nil
}

func (h *StreamHub) add(cl *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *StreamHub) remove(cl *streamClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.close()
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *StreamHub) readLoop(cl *streamClient) {
	defer cl.close()
	cl.conn.SetReadLimit(512)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writeLoop(cl *streamClient) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.done:
			return
		case b := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PublishStoryEvent queues ev for every matching client. Slow clients miss
// events rather than block the publisher.
func (h *StreamHub) PublishStoryEvent(_ context.Context, ev models.StoryEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	project := ""
	if ev.Story != nil {
		project = ev.Story.ProjectID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if cl.projectID != "" && cl.projectID != project {
			continue
		}
		select {
		case cl.send <- b:
		default:
			h.log.Debug("stream client lagging, event dropped")
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *StreamHub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*streamClient, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
	return nil
}
