package progression_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/huntline/internal/adapters/repository"
	"github.com/okian/huntline/internal/domain/editor"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/internal/domain/progression"
	. "github.com/smartystreets/goconvey/convey"
)

type refs struct{}

func (refs) Issue(laneID string) model.Invitation {
	return model.Invitation{Reference: uuid.NewString(), LaneID: laneID}
}

// newLane creates a one-lane hunt whose checkpoints carry the given tokens.
func newLane(ctx context.Context, repo *repository.Repository, tokens ...string) (model.Hunt, model.Lane) {
	h, lanes, err := repo.CreateHunt(ctx, "Scenario", 1)
	So(err, ShouldBeNil)
	lane := lanes[0]
	for i, tok := range tokens {
		cp := model.Checkpoint{ID: uuid.NewString(), ImageRef: "img", Label: "clue " + tok, Token: tok}
		lane, err = repo.ApplyLaneEdit(ctx, lane.ID, editor.AddCheckpoint{Checkpoint: cp, InsertAfter: i - 1})
		So(err, ShouldBeNil)
	}
	return h, lane
}

func TestSubmitScan(t *testing.T) {
	Convey("Given a hunt with one lane and checkpoints A then B", t, func() {
		ctx := context.Background()
		repo := repository.New(repository.NewMemoryStore(), refs{})
		machine := progression.New(repo)
		h, lane := newLane(ctx, repo, "A", "B")

		Convey("When scanning before the hunt starts", func() {
			_, err := machine.SubmitScan(ctx, lane.ID, "A")

			Convey("Then the scan is refused as not started", func() {
				So(errors.Is(err, model.ErrHuntNotStarted), ShouldBeTrue)
			})
		})

		Convey("When the hunt is started", func() {
			_, err := repo.StartHunt(ctx, h.ID)
			So(err, ShouldBeNil)

			Convey("Then A advances to 1", func() {
				res, err := machine.SubmitScan(ctx, lane.ID, "A")
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeTrue)
				So(res.NewIndex, ShouldEqual, 1)
				So(res.State, ShouldEqual, model.StateInProgress)
				So(res.Lane.Clue(), ShouldEqual, "clue A")

				Convey("And A again is rejected without moving", func() {
					res, err := machine.SubmitScan(ctx, lane.ID, "A")
					So(err, ShouldBeNil)
					So(res.Accepted, ShouldBeFalse)
					So(res.NewIndex, ShouldEqual, 1)
				})

				Convey("And B completes the lane", func() {
					res, err := machine.SubmitScan(ctx, lane.ID, "B")
					So(err, ShouldBeNil)
					So(res.Accepted, ShouldBeTrue)
					So(res.NewIndex, ShouldEqual, 2)
					So(res.State, ShouldEqual, model.StateComplete)

					Convey("And any further scan fails as complete", func() {
						_, err := machine.SubmitScan(ctx, lane.ID, "B")
						So(errors.Is(err, model.ErrAlreadyComplete), ShouldBeTrue)
					})
				})
			})

			Convey("Then B out of order is rejected", func() {
				res, err := machine.SubmitScan(ctx, lane.ID, "B")
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeFalse)
				So(res.NewIndex, ShouldEqual, 0)
			})

			Convey("Then an unknown lane is not found", func() {
				_, err := machine.SubmitScan(ctx, "missing", "A")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestRacingScans(t *testing.T) {
	for name, open := range map[string]func() (repository.Store, error){
		"memory": func() (repository.Store, error) { return repository.NewMemoryStore(), nil },
		"sqlite": func() (repository.Store, error) { return repository.OpenSQLite(":memory:") },
	} {
		Convey("Given a started lane on the "+name+" backend", t, func() {
			ctx := context.Background()
			store, err := open()
			So(err, ShouldBeNil)
			repo := repository.New(store, refs{})
			Reset(func() { _ = repo.Close() })
			machine := progression.New(repo)
			h, lane := newLane(ctx, repo, "A", "B", "C")
			_, err = repo.StartHunt(ctx, h.ID)
			So(err, ShouldBeNil)
			_, err = machine.SubmitScan(ctx, lane.ID, "A")
			So(err, ShouldBeNil)

			Convey("When many devices scan the current token at once", func() {
				const devices = 12
				var (
					wg      sync.WaitGroup
					mu      sync.Mutex
					results []progression.Result
					errs    []error
				)
				for range devices {
					wg.Add(1)
					go func() {
						defer wg.Done()
						res, err := machine.SubmitScan(ctx, lane.ID, "B")
						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							errs = append(errs, err)
							return
						}
						results = append(results, res)
					}()
				}
				wg.Wait()

				Convey("Then exactly one advances the lane by one", func() {
					So(errs, ShouldBeEmpty)
					accepted := 0
					for _, r := range results {
						if r.Accepted {
							accepted++
							So(r.NewIndex, ShouldEqual, 2)
						} else {
							So(r.NewIndex, ShouldEqual, 2)
						}
					}
					So(accepted, ShouldEqual, 1)

					got, err := repo.GetLane(ctx, lane.ID)
					So(err, ShouldBeNil)
					So(got.CurrentIndex, ShouldEqual, 2)
				})
			})

			Convey("When devices race on the final checkpoint", func() {
				_, err := machine.SubmitScan(ctx, lane.ID, "B")
				So(err, ShouldBeNil)

				var wg sync.WaitGroup
				outcomes := make([]progression.Result, 2)
				failures := make([]error, 2)
				for i := range 2 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						outcomes[i], failures[i] = machine.SubmitScan(ctx, lane.ID, "C")
					}()
				}
				wg.Wait()

				Convey("Then one wins and the other is rejected or sees completion", func() {
					winners := 0
					for i := range 2 {
						if failures[i] == nil && outcomes[i].Accepted {
							winners++
							So(outcomes[i].State, ShouldEqual, model.StateComplete)
							continue
						}
						if failures[i] != nil {
							So(errors.Is(failures[i], model.ErrAlreadyComplete), ShouldBeTrue)
						}
					}
					So(winners, ShouldEqual, 1)
				})
			})
		})
	}
}

// interleaved runs before once ahead of the first swap it forwards.
type interleaved struct {
	*repository.Repository
	once   sync.Once
	before func()
}

func (r *interleaved) ApplyProgression(ctx context.Context, laneID string, from, to int, checkpointID string) (model.Lane, error) {
	r.once.Do(r.before)
	return r.Repository.ApplyProgression(ctx, laneID, from, to, checkpointID)
}

func TestScanAcrossRemoval(t *testing.T) {
	Convey("Given a started lane at its third of four checkpoints", t, func() {
		ctx := context.Background()
		repo := repository.New(repository.NewMemoryStore(), refs{})
		direct := progression.New(repo)
		h, lane := newLane(ctx, repo, "c0", "c1", "c2", "c3")
		_, err := repo.StartHunt(ctx, h.ID)
		So(err, ShouldBeNil)
		for _, tok := range []string{"c0", "c1"} {
			res, err := direct.SubmitScan(ctx, lane.ID, tok)
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldBeTrue)
		}

		Convey("When a visited checkpoint is removed and another device scans c2 before the first device's swap", func() {
			var other progression.Result
			var otherErr error
			slow := progression.New(&interleaved{Repository: repo, before: func() {
				_, err := repo.ApplyLaneEdit(ctx, lane.ID, &editor.RemoveCheckpoint{Index: 0})
				So(err, ShouldBeNil)
				other, otherErr = direct.SubmitScan(ctx, lane.ID, "c2")
			}})
			res, err := slow.SubmitScan(ctx, lane.ID, "c2")

			Convey("Then the token advances the lane exactly once", func() {
				So(otherErr, ShouldBeNil)
				So(other.Accepted, ShouldBeTrue)
				So(other.NewIndex, ShouldEqual, 2)

				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeFalse)
				So(res.NewIndex, ShouldEqual, 2)

				got, err := repo.GetLane(ctx, lane.ID)
				So(err, ShouldBeNil)
				So(got.CurrentIndex, ShouldEqual, 2)
				So(len(got.Checkpoints), ShouldEqual, 3)
				So(got.Checkpoints[got.CurrentIndex].Token, ShouldEqual, "c3")
			})
		})
	})
}
