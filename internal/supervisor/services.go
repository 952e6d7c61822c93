// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package supervisor

import (
	"context"
)

// Runner is any component with a blocking Run loop. The similarity
// index, trending computer, and ingest pipeline all satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// runnerService adapts a Runner to suture.Service.
type runnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps a Runner for the supervision tree.
func NewRunnerService(name string, runner Runner) *runnerService { //nolint:revive // unexported type is deliberate, callers only need suture.Service
	return &runnerService{name: name, runner: runner}
}

func (s *runnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *runnerService) String() string { return s.name }
