// Package ws streams lane snapshots to browsers over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/internal/domain/types"
	"github.com/okian/huntline/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Feed opens lane subscriptions. The returned function ends the subscription.
type Feed interface {
	SubscribeLane(ctx context.Context, laneID string, fn func(context.Context, types.Lane) error) (func(), error)
	SubscribeHunt(ctx context.Context, huntID string, fn func(context.Context, types.Lane) error) (func(), error)
}

// Handler upgrades feed requests and pumps lane views to the client.
type Handler struct {
	upgrader   websocket.Upgrader
	feed       Feed
	sendBuffer int
	logger     logger.Logger
}

// NewHandler creates a websocket handler over feed.
func NewHandler(feed Feed, opts ...Option) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		feed:       feed,
		sendBuffer: 64,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	return h
}

// Register attaches the feed routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/lanes/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, "lane", h.feed.SubscribeLane)
	})
	mux.HandleFunc("GET /ws/hunts/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, "hunt", h.feed.SubscribeHunt)
	})
}

type subscribeFunc func(ctx context.Context, id string, fn func(context.Context, types.Lane) error) (func(), error)

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, kind string, subscribe subscribeFunc) {
	ctx := r.Context()
	id := r.PathValue("id")
	c := newClient(h, kind, id)

	// Subscribe before upgrading so an unknown id is still a plain 404.
	cancel, err := subscribe(ctx, id, c.enqueue)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	c.cancel = cancel

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn(ctx, "websocket upgrade failed",
			logger.String("kind", kind),
			logger.String("id", id),
			logger.Error(err))
		return
	}
	c.conn = conn
	h.logger.Debug(ctx, "feed client connected", logger.String("kind", kind), logger.String("id", id))
	c.run()
}

// client is one websocket connection bound to one subscription.
type client struct {
	h      *Handler
	kind   string
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	cancel func()
}

func newClient(h *Handler, kind, id string) *client {
	return &client{
		h:    h,
		kind: kind,
		id:   id,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) run() {
	go c.writePump()
	go c.readPump()
}

// enqueue hands a view to the write pump, waiting while the buffer is full.
func (c *client) enqueue(ctx context.Context, lane types.Lane) error {
	b, err := json.Marshal(lane)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
	case <-c.done:
	case <-ctx.Done():
	}
	return nil
}

// readPump only services control frames; feed clients send nothing.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.h.logger.Warn(context.Background(), "feed read failed",
					logger.String("kind", c.kind),
					logger.String("id", c.id),
					logger.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.h.logger.Debug(context.Background(), "feed write failed",
					logger.String("id", c.id),
					logger.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close ends the subscription and the connection once.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.conn.Close()
		c.h.logger.Debug(context.Background(), "feed client disconnected",
			logger.String("kind", c.kind),
			logger.String("id", c.id))
	})
}
