package ws_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/huntline/internal/adapters/http/ws"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/internal/domain/types"
	"github.com/okian/huntline/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeFeed remembers the handler of every open subscription.
type fakeFeed struct {
	mu        sync.Mutex
	handlers  map[string]func(context.Context, types.Lane) error
	cancelled map[string]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		handlers:  make(map[string]func(context.Context, types.Lane) error),
		cancelled: make(map[string]bool),
	}
}

func (f *fakeFeed) subscribe(id string, fn func(context.Context, types.Lane) error) (func(), error) {
	if strings.HasPrefix(id, "missing") {
		return nil, fmt.Errorf("subscribe %s: %w", id, model.ErrNotFound)
	}
	f.mu.Lock()
	f.handlers[id] = fn
	f.mu.Unlock()
	_ = fn(context.Background(), types.Lane{ID: id, Version: 1})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled[id] = true
	}, nil
}

func (f *fakeFeed) SubscribeLane(_ context.Context, id string, fn func(context.Context, types.Lane) error) (func(), error) {
	return f.subscribe(id, fn)
}

func (f *fakeFeed) SubscribeHunt(_ context.Context, id string, fn func(context.Context, types.Lane) error) (func(), error) {
	return f.subscribe(id, fn)
}

func (f *fakeFeed) push(id string, l types.Lane) {
	f.mu.Lock()
	fn := f.handlers[id]
	f.mu.Unlock()
	_ = fn(context.Background(), l)
}

func (f *fakeFeed) isCancelled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[id]
}

func dial(srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func readLane(conn *websocket.Conn) (types.Lane, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var l types.Lane
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return l, err
	}
	err = json.Unmarshal(msg, &l)
	return l, err
}

func TestHandler(t *testing.T) {
	Convey("Given a feed server", t, func() {
		feed := newFakeFeed()
		mux := http.NewServeMux()
		ws.NewHandler(feed, ws.WithLogger(logger.Nop()), ws.WithSendBuffer(4)).Register(mux)
		srv := httptest.NewServer(mux)
		Reset(srv.Close)

		Convey("When a client follows a lane", func() {
			conn, _, err := dial(srv, "/ws/lanes/lane-1")
			So(err, ShouldBeNil)
			defer conn.Close()

			Convey("Then it receives the snapshot and later updates in order", func() {
				l, err := readLane(conn)
				So(err, ShouldBeNil)
				So(l.ID, ShouldEqual, "lane-1")
				So(l.Version, ShouldEqual, 1)

				feed.push("lane-1", types.Lane{ID: "lane-1", Version: 2, CurrentIndex: 1})
				feed.push("lane-1", types.Lane{ID: "lane-1", Version: 3, CurrentIndex: 2})
				l, err = readLane(conn)
				So(err, ShouldBeNil)
				So(l.CurrentIndex, ShouldEqual, 1)
				l, err = readLane(conn)
				So(err, ShouldBeNil)
				So(l.Version, ShouldEqual, 3)
			})

			Convey("Then closing the connection ends the subscription", func() {
				_, err := readLane(conn)
				So(err, ShouldBeNil)
				So(conn.Close(), ShouldBeNil)

				deadline := time.Now().Add(2 * time.Second)
				for !feed.isCancelled("lane-1") && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(feed.isCancelled("lane-1"), ShouldBeTrue)
			})
		})

		Convey("When a client follows a hunt", func() {
			conn, _, err := dial(srv, "/ws/hunts/hunt-1")
			So(err, ShouldBeNil)
			defer conn.Close()

			l, err := readLane(conn)
			So(err, ShouldBeNil)
			So(l.ID, ShouldEqual, "hunt-1")
		})

		Convey("When the lane does not exist", func() {
			_, resp, err := dial(srv, "/ws/lanes/missing-1")

			Convey("Then the upgrade is refused with 404", func() {
				So(err, ShouldNotBeNil)
				So(resp, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}
