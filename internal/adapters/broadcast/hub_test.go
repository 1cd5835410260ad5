package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/huntline/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	hunt  model.Hunt
	lanes []model.Lane
}

func (f *fakeSource) GetLaneWithHunt(_ context.Context, laneID string) (model.Hunt, model.Lane, error) {
	for _, l := range f.lanes {
		if l.ID == laneID {
			return f.hunt, l, nil
		}
	}
	return model.Hunt{}, model.Lane{}, model.ErrNotFound
}

func (f *fakeSource) GetHunt(_ context.Context, id string) (model.Hunt, error) {
	if id != f.hunt.ID {
		return model.Hunt{}, model.ErrNotFound
	}
	return f.hunt, nil
}

func (f *fakeSource) ListLanes(_ context.Context, huntID string) ([]model.Lane, error) {
	if huntID != f.hunt.ID {
		return nil, model.ErrNotFound
	}
	return f.lanes, nil
}

// collector records delivered (lane, version, index) triples.
type collector struct {
	mu   sync.Mutex
	seen []model.LaneEvent
}

func (c *collector) handle(_ context.Context, ev model.LaneEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ev)
	return nil
}

func (c *collector) events() []model.LaneEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.LaneEvent(nil), c.seen...)
}

func (c *collector) last(laneID string) model.Lane {
	var out model.Lane
	for _, ev := range c.events() {
		if ev.Lane.ID == laneID {
			out = ev.Lane
		}
	}
	return out
}

func lane(id string, version int64, index int) model.Lane {
	return model.Lane{ID: id, HuntID: "h1", Version: version, CurrentIndex: index,
		Checkpoints: make([]model.Checkpoint, 10)}
}

func event(id string, version int64, index int) model.LaneEvent {
	return model.LaneEvent{Kind: model.KindProgression, Hunt: model.Hunt{ID: "h1", Started: true}, Lane: lane(id, version, index)}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHub(t *testing.T) {
	Convey("Given a hub over a hunt with two lanes", t, func() {
		ctx := context.Background()
		src := &fakeSource{
			hunt:  model.Hunt{ID: "h1", Started: true},
			lanes: []model.Lane{lane("l1", 1, 0), lane("l2", 1, 0)},
		}
		hub := NewHub(src, WithRetryInterval(time.Millisecond))
		Reset(hub.Close)

		Convey("When subscribing to a lane", func() {
			c := &collector{}
			sub, err := hub.SubscribeLane(ctx, "l1", c.handle)
			So(err, ShouldBeNil)

			Convey("Then the current snapshot arrives first", func() {
				So(eventually(func() bool { return len(c.events()) == 1 }), ShouldBeTrue)
				So(c.events()[0].Lane.Version, ShouldEqual, 1)
				So(c.events()[0].Kind, ShouldEqual, model.KindSnapshot)
			})

			Convey("Then only events of that lane are delivered", func() {
				So(hub.Publish(ctx, event("l2", 2, 1)), ShouldBeNil)
				So(hub.Publish(ctx, event("l1", 2, 1)), ShouldBeNil)
				So(eventually(func() bool { return c.last("l1").Version == 2 }), ShouldBeTrue)
				for _, ev := range c.events() {
					So(ev.Lane.ID, ShouldEqual, "l1")
				}
			})

			Convey("Then an older version never follows a newer one", func() {
				So(hub.Publish(ctx, event("l1", 3, 2)), ShouldBeNil)
				So(eventually(func() bool { return c.last("l1").Version == 3 }), ShouldBeTrue)
				So(hub.Publish(ctx, event("l1", 2, 1)), ShouldBeNil)
				So(hub.Publish(ctx, event("l1", 4, 3)), ShouldBeNil)
				So(eventually(func() bool { return c.last("l1").Version == 4 }), ShouldBeTrue)

				prev := int64(0)
				for _, ev := range c.events() {
					So(ev.Lane.Version, ShouldBeGreaterThan, prev)
					prev = ev.Lane.Version
				}
			})

			Convey("Then cancel stops delivery", func() {
				So(eventually(func() bool { return len(c.events()) == 1 }), ShouldBeTrue)
				sub.Cancel()
				sub.Cancel()
				<-sub.Done()
				So(hub.Subscriptions(), ShouldEqual, 0)
				So(hub.Publish(ctx, event("l1", 5, 4)), ShouldBeNil)
				time.Sleep(20 * time.Millisecond)
				So(c.events(), ShouldHaveLength, 1)
			})
		})

		Convey("When a slow subscriber falls behind", func() {
			gate := make(chan struct{})
			c := &collector{}
			var once sync.Once
			_, err := hub.SubscribeLane(ctx, "l1", func(ctx context.Context, ev model.LaneEvent) error {
				once.Do(func() { <-gate })
				return c.handle(ctx, ev)
			})
			So(err, ShouldBeNil)

			for v := int64(2); v <= 50; v++ {
				So(hub.Publish(ctx, event("l1", v, int(v-1)%10)), ShouldBeNil)
			}
			close(gate)

			Convey("Then intermediate snapshots coalesce and the final one arrives", func() {
				So(eventually(func() bool { return c.last("l1").Version == 50 }), ShouldBeTrue)
				So(len(c.events()), ShouldBeLessThan, 50)
			})
		})

		Convey("When a handler fails transiently", func() {
			var (
				mu    sync.Mutex
				calls int
			)
			c := &collector{}
			_, err := hub.SubscribeLane(ctx, "l2", func(ctx context.Context, ev model.LaneEvent) error {
				mu.Lock()
				calls++
				n := calls
				mu.Unlock()
				if n <= 2 {
					return errors.New("socket busy")
				}
				return c.handle(ctx, ev)
			})
			So(err, ShouldBeNil)

			Convey("Then the snapshot is retried until delivered", func() {
				So(eventually(func() bool { return len(c.events()) == 1 }), ShouldBeTrue)
				mu.Lock()
				defer mu.Unlock()
				So(calls, ShouldEqual, 3)
			})
		})

		Convey("When a handler keeps failing past its retries", func() {
			stubborn := NewHub(src, WithRetryInterval(time.Millisecond), WithDeliveryRetries(2))
			Reset(stubborn.Close)
			var (
				mu    sync.Mutex
				calls int
			)
			c := &collector{}
			_, err := stubborn.SubscribeLane(ctx, "l2", func(ctx context.Context, ev model.LaneEvent) error {
				mu.Lock()
				calls++
				n := calls
				mu.Unlock()
				if n <= 5 {
					return errors.New("socket busy")
				}
				return c.handle(ctx, ev)
			})
			So(err, ShouldBeNil)

			Convey("Then the snapshot is offered again later and still arrives", func() {
				So(eventually(func() bool { return len(c.events()) == 1 }), ShouldBeTrue)
				So(c.last("l2").Version, ShouldEqual, 1)
				mu.Lock()
				defer mu.Unlock()
				So(calls, ShouldEqual, 6)
			})
		})

		Convey("When the organizer subscribes to the hunt", func() {
			c := &collector{}
			_, err := hub.SubscribeHunt(ctx, "h1", c.handle)
			So(err, ShouldBeNil)

			Convey("Then it sees every lane", func() {
				So(hub.Publish(ctx, event("l2", 2, 1)), ShouldBeNil)
				So(eventually(func() bool {
					return c.last("l1").Version == 1 && c.last("l2").Version == 2
				}), ShouldBeTrue)
			})
		})

		Convey("When subscribing to unknown targets", func() {
			_, err := hub.SubscribeLane(ctx, "nope", (&collector{}).handle)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			_, err = hub.SubscribeHunt(ctx, "nope", (&collector{}).handle)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			_, err = hub.SubscribeLane(ctx, "l1", nil)
			So(errors.Is(err, ErrNilHandler), ShouldBeTrue)
		})

		Convey("When the hub is closed", func() {
			hub.Close()
			So(errors.Is(hub.Publish(ctx, event("l1", 2, 1)), ErrHubClosed), ShouldBeTrue)
			_, err := hub.SubscribeLane(ctx, "l1", (&collector{}).handle)
			So(errors.Is(err, ErrHubClosed), ShouldBeTrue)
		})
	})
}
