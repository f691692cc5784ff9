// Package executor applies a batch of composition steps, produced by the
// reconciliation planner, against an Engine. Steps within a batch touch
// disjoint resources by construction (the planner never emits two steps
// for the same named resource in one round), so they run with bounded
// parallelism rather than one at a time.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// Engine is the execution surface a composition step is carried out
// against: the Docker Engine adapter (internal/engine) in production, a
// mock engine or a test double otherwise.
type Engine interface {
	Fetch(ctx context.Context, img model.Image) error
	RemoveImage(ctx context.Context, img model.Image) error
	CreateNetwork(ctx context.Context, n model.Network) error
	RemoveNetwork(ctx context.Context, n model.Network) error
	CreateVolume(ctx context.Context, v model.Volume) error
	RemoveVolume(ctx context.Context, v model.Volume) error
	Start(ctx context.Context, svc model.Service) error
	Stop(ctx context.Context, svc model.Service) error
	Kill(ctx context.Context, svc model.Service) error
	Remove(ctx context.Context, svc model.Service) error
	UpdateMetadata(ctx context.Context, current, target model.Service) error
	Handover(ctx context.Context, current, target model.Service) error
	Restart(ctx context.Context, svc model.Service) error
}

// concurrency bounds how many steps of a batch execute at once, so a large
// batch doesn't saturate the engine adapter's connection to the daemon.
const concurrency = 4

// Result pairs a Step with the error (if any) its execution produced.
type Result struct {
	Step step.Step
	Err  error
}

// Executor runs step batches against an Engine.
type Executor struct {
	engine Engine
}

// New builds an Executor over the given Engine.
func New(engine Engine) *Executor {
	return &Executor{engine: engine}
}

// Apply executes every step in the batch, bounded to concurrency steps at a
// time, and returns one Result per step in the batch's original order. A
// noop step is recorded without touching the engine. Apply does not stop at
// the first failure: every step gets a chance to run, since a failure
// acting on one resource must not block progress on unrelated ones in the
// same batch.
func (e *Executor) Apply(ctx context.Context, steps []step.Step) []Result {
	results := make([]Result, len(steps))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, s := range steps {
		if s.Action == step.ActionNoop {
			results[i] = Result{Step: s}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s step.Step) {
			defer wg.Done()
			defer func() { <-sem }()
			err := e.execute(ctx, s)
			if err != nil {
				slog.Error("step failed", "action", s.Action, "err", err)
			}
			results[i] = Result{Step: s, Err: err}
		}(i, s)
	}

	wg.Wait()
	return results
}

func (e *Executor) execute(ctx context.Context, s step.Step) error {
	switch s.Action {
	case step.ActionFetch:
		return e.engine.Fetch(ctx, s.Image)
	case step.ActionRemoveImage:
		return e.engine.RemoveImage(ctx, s.Image)
	case step.ActionCreateNetwork:
		return e.engine.CreateNetwork(ctx, s.Network)
	case step.ActionRemoveNetwork:
		return e.engine.RemoveNetwork(ctx, s.Network)
	case step.ActionCreateVolume:
		return e.engine.CreateVolume(ctx, s.Volume)
	case step.ActionRemoveVolume:
		return e.engine.RemoveVolume(ctx, s.Volume)
	case step.ActionStart:
		return e.engine.Start(ctx, s.TargetService)
	case step.ActionStop:
		return e.engine.Stop(ctx, s.CurrentService)
	case step.ActionKill:
		return e.engine.Kill(ctx, s.CurrentService)
	case step.ActionRemove:
		return e.engine.Remove(ctx, s.CurrentService)
	case step.ActionUpdateMetadata:
		return e.engine.UpdateMetadata(ctx, s.CurrentService, s.TargetService)
	case step.ActionHandover:
		return e.engine.Handover(ctx, s.CurrentService, s.TargetService)
	case step.ActionRestart:
		return e.engine.Restart(ctx, s.CurrentService)
	default:
		return fmt.Errorf("executor: unsupported action %q", s.Action)
	}
}
