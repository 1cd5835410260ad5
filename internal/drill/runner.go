// Package drill exercises a running service: it builds a hunt over HTTP and
// has several devices per lane race every scan.
package drill

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/okian/huntline/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Run executes the complete drill.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("drill")
	client := newHTTPClient(strings.TrimRight(config.BaseURL, "/"), config.Timeout)

	log.Info(ctx, "starting hunt drill",
		logger.String("baseURL", config.BaseURL),
		logger.Int("lanes", config.Lanes),
		logger.Int("checkpoints", config.Checkpoints),
		logger.Int("participants", config.Participants))

	// Step 1: Check service health
	if err := client.get(ctx, "/stats", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Build the hunt
	created, tokens, err := setup(ctx, client, config, stats)
	if err != nil {
		return stats, fmt.Errorf("hunt setup failed: %w", err)
	}

	// Step 3: Start it
	if err := client.post(ctx, "/hunts/"+created.Hunt.ID+"/start", nil, nil); err != nil {
		return stats, fmt.Errorf("start hunt: %w", err)
	}

	// Step 4: Race every lane concurrently
	if err := race(ctx, client, config, created.Lanes, tokens, stats, log); err != nil {
		return stats, fmt.Errorf("scan race failed: %w", err)
	}

	// Step 5: Verify results
	if err := verify(ctx, client, config, created.Hunt.ID, stats); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("missing base url")
	case c.Lanes < 1, c.Checkpoints < 1, c.Participants < 1:
		return fmt.Errorf("lanes, checkpoints and participants must be positive (got %d/%d/%d)",
			c.Lanes, c.Checkpoints, c.Participants)
	}
	return nil
}

// setup creates the hunt, fills every lane with checkpoints and joins the
// participants. It returns the checkpoint tokens per lane.
func setup(ctx context.Context, client *httpClient, config *Config, stats *Stats) (*huntCreated, [][]string, error) {
	var created huntCreated
	name := "drill " + time.Now().UTC().Format(time.RFC3339)
	if err := client.post(ctx, "/hunts", map[string]any{"name": name, "lane_count": config.Lanes}, &created); err != nil {
		return nil, nil, fmt.Errorf("create hunt: %w", err)
	}
	stats.HuntID = created.Hunt.ID
	stats.LanesCreated = len(created.Lanes)

	var image struct {
		ImageRef string `json:"image_ref"`
	}
	if err := client.post(ctx, "/images", strings.NewReader("drill checkpoint"), &image); err != nil {
		return nil, nil, fmt.Errorf("upload image: %w", err)
	}

	tokens := make([][]string, len(created.Lanes))
	g, gctx := errgroup.WithContext(ctx)
	var added, joined atomic.Int64
	for i, l := range created.Lanes {
		g.Go(func() error {
			var view lane
			for c := 0; c < config.Checkpoints; c++ {
				body := map[string]any{"image_ref": image.ImageRef, "label": fmt.Sprintf("lane %d stop %d", i, c+1)}
				if err := client.post(gctx, "/lanes/"+l.ID+"/checkpoints", body, &view); err != nil {
					return fmt.Errorf("add checkpoint to %s: %w", l.ID, err)
				}
				added.Add(1)
			}
			for _, cp := range view.Checkpoints {
				tokens[i] = append(tokens[i], cp.Token)
			}
			for p := 0; p < config.Participants; p++ {
				body := map[string]any{"name": fmt.Sprintf("device-%d-%d", i, p)}
				if err := client.post(gctx, "/invitations/"+l.Invitation+"/join", body, nil); err != nil {
					return fmt.Errorf("join %s: %w", l.ID, err)
				}
				joined.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.CheckpointsAdded = int(added.Load())
	stats.ParticipantsJoined = int(joined.Load())
	if err != nil {
		return nil, nil, err
	}
	return &created, tokens, nil
}

// race has all participants of a lane submit the current token at once,
// checkpoint after checkpoint. Exactly one submission per step may win.
func race(ctx context.Context, client *httpClient, config *Config, lanes []lane, tokens [][]string, stats *Stats, log logger.Logger) error {
	var submitted, accepted, rejected, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lanes {
		g.Go(func() error {
			for step, token := range tokens[i] {
				var wins atomic.Int64
				devices, dctx := errgroup.WithContext(gctx)
				for p := 0; p < config.Participants; p++ {
					devices.Go(func() error {
						var res scanResult
						submitted.Add(1)
						err := client.post(dctx, "/lanes/"+l.ID+"/scans", map[string]any{"token": token}, &res)
						var apiErr *apiError
						switch {
						case err == nil && res.Accepted:
							wins.Add(1)
							accepted.Add(1)
						case err == nil, errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Code == "already_complete":
							rejected.Add(1)
						default:
							failed.Add(1)
							return fmt.Errorf("scan %s step %d: %w", l.ID, step, err)
						}
						return nil
					})
				}
				if err := devices.Wait(); err != nil {
					return err
				}
				if n := wins.Load(); n != 1 {
					return fmt.Errorf("lane %s step %d: %d scans accepted, want 1", l.ID, step, n)
				}
				if config.Verbose {
					log.Info(gctx, "checkpoint reached", logger.String("lane", l.ID), logger.Int("step", step+1))
				}
			}
			return nil
		})
	}
	err := g.Wait()
	stats.ScansSubmitted = int(submitted.Load())
	stats.ScansAccepted = int(accepted.Load())
	stats.ScansRejected = int(rejected.Load())
	stats.ScansFailed = int(failed.Load())
	return err
}

// displayFinalStats logs the final drill statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var scansPerSecond float64
	if stats.Duration > 0 {
		scansPerSecond = float64(stats.ScansSubmitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.String("hunt", stats.HuntID),
		logger.Int("lanes", stats.LanesCreated),
		logger.Int("checkpoints", stats.CheckpointsAdded),
		logger.Int("participants", stats.ParticipantsJoined),
		logger.Int("scansSubmitted", stats.ScansSubmitted),
		logger.Int("scansAccepted", stats.ScansAccepted),
		logger.Int("scansRejected", stats.ScansRejected),
		logger.Int("scansFailed", stats.ScansFailed),
		logger.Duration("duration", stats.Duration),
		logger.Any("scansPerSecond", scansPerSecond))
}
