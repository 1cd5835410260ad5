package drill

import (
	"context"
	"fmt"
)

const stateComplete = "COMPLETE"

// verify checks that every lane reached victory with one accepted scan per
// checkpoint.
func verify(ctx context.Context, client *httpClient, config *Config, huntID string, stats *Stats) error {
	var lanes []lane
	if err := client.get(ctx, "/hunts/"+huntID+"/lanes", &lanes); err != nil {
		return fmt.Errorf("list lanes: %w", err)
	}
	if len(lanes) != config.Lanes {
		return fmt.Errorf("hunt has %d lanes, want %d", len(lanes), config.Lanes)
	}
	for _, l := range lanes {
		if l.CurrentIndex != config.Checkpoints || l.State != stateComplete {
			return fmt.Errorf("lane %s at %d (%s), want %d (%s)",
				l.ID, l.CurrentIndex, l.State, config.Checkpoints, stateComplete)
		}
	}
	if want := config.Lanes * config.Checkpoints; stats.ScansAccepted != want {
		return fmt.Errorf("%d scans accepted, want %d", stats.ScansAccepted, want)
	}
	return nil
}
