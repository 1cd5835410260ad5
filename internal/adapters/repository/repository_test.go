package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/huntline/internal/domain/editor"
	"github.com/okian/huntline/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type uuidInvitations struct{}

func (uuidInvitations) Issue(laneID string) model.Invitation {
	return model.Invitation{Reference: uuid.NewString(), LaneID: laneID}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LaneEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.LaneEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// flakyStore fails the first n UpdateLane calls with a transient error.
type flakyStore struct {
	Store
	failures atomic.Int32
}

func (s *flakyStore) UpdateLane(ctx context.Context, laneID string, fn Mutation) (model.Hunt, model.Lane, error) {
	if s.failures.Add(-1) >= 0 {
		return model.Hunt{}, model.Lane{}, errors.New("database is locked")
	}
	return s.Store.UpdateLane(ctx, laneID, fn)
}

// stuckStore blocks reads until the context ends.
type stuckStore struct {
	Store
}

func (stuckStore) Lane(ctx context.Context, _ string) (model.Lane, error) {
	<-ctx.Done()
	return model.Lane{}, ctx.Err()
}

func backends(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLite(":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func checkpoint(i int) model.Checkpoint {
	return model.Checkpoint{
		ID:       fmt.Sprintf("cp-%d", i),
		ImageRef: fmt.Sprintf("img_%d", i),
		Label:    fmt.Sprintf("clue %d", i),
		Token:    fmt.Sprintf("token-%d", i),
	}
}

func addCheckpoints(ctx context.Context, repo *Repository, laneID string, n int) {
	for i := range n {
		_, err := repo.ApplyLaneEdit(ctx, laneID, editor.AddCheckpoint{Checkpoint: checkpoint(i), InsertAfter: editor.Append})
		So(err, ShouldBeNil)
	}
}

func TestRepository(t *testing.T) {
	for name, open := range backends(t) {
		Convey("Given a repository over the "+name+" backend", t, func() {
			ctx := context.Background()
			pub := &recordingPublisher{}
			store := open()
			repo := New(store, uuidInvitations{}, WithPublisher(pub), WithMaxLanes(8))
			Reset(func() { _ = repo.Close() })

			Convey("When creating a hunt with three lanes", func() {
				h, lanes, err := repo.CreateHunt(ctx, " Spring Hunt ", 3)
				So(err, ShouldBeNil)

				Convey("Then the hunt and lanes are stored unstarted", func() {
					So(h.Name, ShouldEqual, "Spring Hunt")
					So(h.Started, ShouldBeFalse)
					So(lanes, ShouldHaveLength, 3)

					got, err := repo.GetHunt(ctx, h.ID)
					So(err, ShouldBeNil)
					So(got.LaneCount, ShouldEqual, 3)
					So(got.CreatedAt.Equal(h.CreatedAt), ShouldBeTrue)

					listed, err := repo.ListLanes(ctx, h.ID)
					So(err, ShouldBeNil)
					So(listed, ShouldHaveLength, 3)
					for i, l := range listed {
						So(l.Position, ShouldEqual, i+1)
						So(l.CurrentIndex, ShouldEqual, 0)
						So(l.Checkpoints, ShouldBeEmpty)
						So(l.Version, ShouldEqual, 1)
					}
				})

				Convey("Then every lane has a distinct invitation resolving to it", func() {
					seen := map[string]bool{}
					for _, l := range lanes {
						So(l.Invitation, ShouldNotEqual, l.ID)
						So(seen[l.Invitation], ShouldBeFalse)
						seen[l.Invitation] = true

						inv, err := repo.Invitation(ctx, l.Invitation)
						So(err, ShouldBeNil)
						So(inv.LaneID, ShouldEqual, l.ID)
					}
				})

				Convey("Then scans before start are refused", func() {
					addCheckpoints(ctx, repo, lanes[0].ID, 1)
					_, err := repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0")
					So(errors.Is(err, model.ErrHuntNotStarted), ShouldBeTrue)
				})

				Convey("And after starting it", func() {
					addCheckpoints(ctx, repo, lanes[0].ID, 2)
					started, err := repo.StartHunt(ctx, h.ID)
					So(err, ShouldBeNil)
					So(started.Started, ShouldBeTrue)
					So(started.StartTime, ShouldNotBeNil)

					Convey("Then every lane version was bumped and published", func() {
						listed, err := repo.ListLanes(ctx, h.ID)
						So(err, ShouldBeNil)
						So(listed[0].Version, ShouldEqual, 4)
						So(listed[1].Version, ShouldEqual, 2)
						starts := 0
						for _, k := range pub.kinds() {
							if k == model.KindStart {
								starts++
							}
						}
						So(starts, ShouldEqual, 3)
					})

					Convey("Then a second start is an invalid operation", func() {
						_, err := repo.StartHunt(ctx, h.ID)
						So(errors.Is(err, model.ErrInvalidOperation), ShouldBeTrue)
					})

					Convey("Then progression is a compare-and-swap", func() {
						l, err := repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0")
						So(err, ShouldBeNil)
						So(l.CurrentIndex, ShouldEqual, 1)

						_, err = repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0")
						So(errors.Is(err, model.ErrConflict), ShouldBeTrue)

						_, err = repo.ApplyProgression(ctx, lanes[0].ID, 1, 3, "cp-1")
						So(errors.Is(err, model.ErrInvalidOperation), ShouldBeTrue)

						got, err := repo.GetLane(ctx, lanes[0].ID)
						So(err, ShouldBeNil)
						So(got.CurrentIndex, ShouldEqual, 1)
					})

					Convey("Then progression refuses a checkpoint shifted into the observed index", func() {
						_, err := repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0")
						So(err, ShouldBeNil)
						shifted, err := repo.ApplyLaneEdit(ctx, lanes[0].ID, &editor.RemoveCheckpoint{Index: 0})
						So(err, ShouldBeNil)
						So(shifted.CurrentIndex, ShouldEqual, 0)

						_, err = repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0")
						So(errors.Is(err, model.ErrConflict), ShouldBeTrue)

						l, err := repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-1")
						So(err, ShouldBeNil)
						So(l.CurrentIndex, ShouldEqual, 1)
						So(l.Complete(), ShouldBeTrue)
					})

					Convey("Then only one of many racing advances wins", func() {
						const racers = 16
						var (
							wg  sync.WaitGroup
							won atomic.Int32
						)
						for range racers {
							wg.Add(1)
							go func() {
								defer wg.Done()
								if _, err := repo.ApplyProgression(ctx, lanes[0].ID, 0, 1, "cp-0"); err == nil {
									won.Add(1)
								}
							}()
						}
						wg.Wait()
						So(won.Load(), ShouldEqual, 1)

						got, err := repo.GetLane(ctx, lanes[0].ID)
						So(err, ShouldBeNil)
						So(got.CurrentIndex, ShouldEqual, 1)
					})

					Convey("Then a refused edit leaves the snapshot untouched", func() {
						before, err := repo.GetLane(ctx, lanes[0].ID)
						So(err, ShouldBeNil)
						_, err = repo.ApplyLaneEdit(ctx, lanes[0].ID, editor.ReorderCheckpoint{From: 0, To: 1})
						So(errors.Is(err, model.ErrInvalidOperation), ShouldBeTrue)

						after, err := repo.GetLane(ctx, lanes[0].ID)
						So(err, ShouldBeNil)
						So(after, ShouldResemble, before)
					})
				})

				Convey("Then participants can join and mark ready", func() {
					l, err := repo.Join(ctx, lanes[1].ID, "Robin")
					So(err, ShouldBeNil)
					So(l.Participants, ShouldHaveLength, 1)
					So(l.Participants[0].Ready, ShouldBeFalse)

					l, err = repo.MarkReady(ctx, lanes[1].ID, 0)
					So(err, ShouldBeNil)
					So(l.Participants[0].Ready, ShouldBeTrue)

					_, err = repo.MarkReady(ctx, lanes[1].ID, 5)
					So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)

					_, err = repo.Join(ctx, lanes[1].ID, "  ")
					So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				})

				Convey("Then counts reflect the stored records", func() {
					hunts, lanesN := repo.Counts(ctx)
					So(hunts, ShouldEqual, 1)
					So(lanesN, ShouldEqual, 3)
				})
			})

			Convey("When reading unknown records", func() {
				_, err := repo.GetHunt(ctx, "nope")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				_, err = repo.GetLane(ctx, "nope")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				_, err = repo.ListLanes(ctx, "nope")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				_, err = repo.Invitation(ctx, uuid.NewString())
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				_, err = repo.StartHunt(ctx, "nope")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})

			Convey("When creating a hunt with bad input", func() {
				_, _, err := repo.CreateHunt(ctx, "", 2)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				_, _, err = repo.CreateHunt(ctx, "x", 0)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				_, _, err = repo.CreateHunt(ctx, "x", 9)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			})
		})
	}
}

func TestRepositoryResilience(t *testing.T) {
	Convey("Given a backend that fails transiently", t, func() {
		ctx := context.Background()
		flaky := &flakyStore{Store: NewMemoryStore()}
		repo := New(flaky, uuidInvitations{}, WithRetries(4), WithRetryInterval(time.Millisecond))
		_, lanes, err := repo.CreateHunt(ctx, "Retry", 1)
		So(err, ShouldBeNil)

		Convey("When the failures stay under the retry budget", func() {
			flaky.failures.Store(2)
			l, err := repo.Join(ctx, lanes[0].ID, "Ash")

			Convey("Then the commit lands exactly once", func() {
				So(err, ShouldBeNil)
				So(l.Participants, ShouldHaveLength, 1)
				So(l.Version, ShouldEqual, 2)
			})
		})

		Convey("When the failures exceed the retry budget", func() {
			flaky.failures.Store(10)
			_, err := repo.Join(ctx, lanes[0].ID, "Ash")

			Convey("Then the error surfaces and nothing changed", func() {
				So(err, ShouldNotBeNil)
				So(model.IsDomain(err), ShouldBeFalse)
				flaky.failures.Store(0)
				l, err := repo.GetLane(ctx, lanes[0].ID)
				So(err, ShouldBeNil)
				So(l.Participants, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a backend that never answers", t, func() {
		repo := New(stuckStore{Store: NewMemoryStore()}, uuidInvitations{}, WithOpTimeout(20*time.Millisecond))

		Convey("When reading a lane", func() {
			_, err := repo.GetLane(context.Background(), "lane")

			Convey("Then the call times out", func() {
				So(errors.Is(err, model.ErrTimeout), ShouldBeTrue)
			})
		})
	})
}
