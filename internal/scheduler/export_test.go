package scheduler

import "context"

// Recover exposes the startup recovery sweep for testing.
func (s *Scheduler) Recover(ctx context.Context) error {
	return s.recover(ctx)
}
