// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package services

import (
	"context"
)

// Runner is the blocking-loop shape shared by background workers, such as
// the stuck-sync reaper. Run must respect context cancellation and return
// ctx.Err() on a clean stop.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService wraps a Runner as a supervised service. If Run returns an
// unexpected error the supervisor restarts the worker with backoff.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps a background worker for supervision. The name
// identifies the service in supervisor logs.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for logging.
func (s *RunnerService) String() string {
	return s.name
}
