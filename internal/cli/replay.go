package cli

import (
	"context"

	"bizsim/internal/game"
	"bizsim/internal/syncq"
)

type ReplayOutcome struct {
	Entry  syncq.Entry
	Result *game.SubmitResult
	Err    error
}

// Replay submits queued entries in order. Entries that fail on the network
// stay queued; entries the server rejects are dropped and reported.
func Replay(ctx context.Context, c *Client, entries []syncq.Entry) ([]syncq.Entry, []ReplayOutcome) {
	remaining := make([]syncq.Entry, 0, len(entries))
	outcomes := make([]ReplayOutcome, 0, len(entries))
	for _, e := range entries {
		res, err := c.Submit(ctx, Submission{
			GameID:         e.GameID,
			CompanyID:      e.CompanyID,
			CompanyName:    e.CompanyName,
			Quarter:        e.Quarter,
			Decisions:      e.Decisions,
			IdempotencyKey: e.IdempotencyKey,
		})
		if err != nil {
			if !IsAPIError(err) {
				remaining = append(remaining, e)
			}
			outcomes = append(outcomes, ReplayOutcome{Entry: e, Err: err})
			continue
		}
		outcomes = append(outcomes, ReplayOutcome{Entry: e, Result: &res})
	}
	return remaining, outcomes
}
