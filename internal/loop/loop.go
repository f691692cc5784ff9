// Package loop is the outer driver: on a timer (and on target-store
// change notifications, and on engine lifecycle events when the engine
// supports streaming them), it gathers current apps, target apps, and
// runtime context, calls the reconciliation entry point, hands the
// returned steps to the executor, and feeds results back into durable
// state and the status API.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cfilipov/edged/internal/engine"
	"github.com/cfilipov/edged/internal/executor"
	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/planner"
	"github.com/cfilipov/edged/internal/state"
	"github.com/cfilipov/edged/internal/statusapi"
	"github.com/cfilipov/edged/internal/step"
	"github.com/cfilipov/edged/internal/targetstore"
)

// Engine is the current-state surface the loop needs beyond
// executor.Engine: a full snapshot of supervised objects and the set of
// images already present locally.
type Engine interface {
	executor.Engine
	Snapshot(ctx context.Context) ([]model.App, error)
	AvailableImages(ctx context.Context) ([]model.Image, error)
}

// eventSource is implemented by engines that can stream lifecycle events
// (internal/engine.SDKEngine does; the mock engine used in tests doesn't).
// Loop checks for it with a type assertion rather than requiring it of
// every Engine, so a round can still run against an engine with no event
// stream of its own.
type eventSource interface {
	Events(ctx context.Context) (<-chan engine.Event, <-chan error)
}

// Loop owns one reconcile round's wiring: engine, target-state source,
// durable state, and the status API it reports through.
type Loop struct {
	engine    Engine
	exec      *executor.Executor
	store     *state.Store
	status    *statusapi.Server
	targetDir string
	localMode bool
	log       *slog.Logger
}

// New builds a Loop. log may be nil, in which case slog.Default() is used.
func New(engine Engine, store *state.Store, status *statusapi.Server, targetDir string, localMode bool, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		engine:    engine,
		exec:      executor.New(engine),
		store:     store,
		status:    status,
		targetDir: targetDir,
		localMode: localMode,
		log:       log,
	}
}

// Run drives reconcile rounds on a timer until ctx is cancelled, and also
// on demand via trigger (sent-to externally, e.g. from
// internal/targetstore.Watch). If the engine supports event streaming, Run
// also subscribes to it and requests an immediate round for every
// supervised-object event, so an external change (an operator killing a
// container by hand, docker pruning a dangling network) is picked up
// without waiting for the next tick. A round in progress is never
// interrupted by a new trigger; triggers that arrive mid-round are
// coalesced into the next one.
func (l *Loop) Run(ctx context.Context, interval time.Duration, trigger chan struct{}) {
	timer := time.NewTicker(interval)
	defer timer.Stop()

	if es, ok := l.engine.(eventSource); ok {
		go l.watchEvents(ctx, es, trigger)
	}

	for {
		if err := l.RunOnce(ctx); err != nil {
			l.log.Error("reconcile round failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-trigger:
			drain(trigger)
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// watchEvents subscribes to the engine's event stream and reconnects with
// exponential backoff when it drops, mirroring the teacher's Docker-events
// broadcast watcher. Unlike that watcher it never gives up the process on
// repeated failure: the reconcile ticker in Run is a complete fallback on
// its own, so losing the event stream only costs responsiveness, not
// correctness.
func (l *Loop) watchEvents(ctx context.Context, es eventSource, trigger chan<- struct{}) {
	backoff := time.Second
	for {
		evCh, errCh := es.Events(ctx)
		l.consumeEvents(ctx, evCh, errCh, trigger)
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("engine event stream disconnected, reconnecting", "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// consumeEvents requests a reconcile round for every event on evCh until
// the stream ends, errors, or ctx is cancelled. Docker's events API only
// ever reports a pull's completion, never its start or progress, so events
// drive "reconcile now" rather than any Downloading bookkeeping — there is
// nothing in the stream that could populate it.
func (l *Loop) consumeEvents(ctx context.Context, evCh <-chan engine.Event, errCh <-chan error, trigger chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-evCh:
			if !ok {
				return
			}
			select {
			case trigger <- struct{}{}:
			default:
			}
		case err, ok := <-errCh:
			if !ok {
				return
			}
			if err != nil {
				l.log.Warn("engine event stream error", "err", err)
			}
			return
		}
	}
}

// RunOnce gathers current state, target state, and context, computes the
// next batch of steps, executes it, and publishes the outcome. It returns
// an error only for failures that prevent the round from running at all
// (reading current/target state); individual step failures are recorded
// per-step and never abort the round.
func (l *Loop) RunOnce(ctx context.Context) error {
	current, err := l.engine.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("loop: snapshot current state: %w", err)
	}

	target, err := targetstore.Load(l.targetDir)
	if err != nil {
		return fmt.Errorf("loop: load target state: %w", err)
	}

	images, err := l.engine.AvailableImages(ctx)
	if err != nil {
		return fmt.Errorf("loop: list available images: %w", err)
	}

	started, err := l.store.ContainerStarted()
	if err != nil {
		return fmt.Errorf("loop: read container-started memo: %w", err)
	}

	// Downloading is always empty going into a round: Fetch runs
	// synchronously inside exec.Apply below, and Run only ever has one
	// round in flight at a time, so a fetch started by a previous round
	// has always either finished or failed by the time this one starts.
	// The within-round case — two services in the same batch both wanting
	// an image neither has yet — is handled after planning by
	// dedupeFetches, below, not by this field.
	mctx := model.Context{
		LocalMode:        l.localMode,
		AvailableImages:  images,
		Downloading:      map[int]bool{},
		ContainerStarted: started,
	}

	steps := dedupeFetches(planner.NextSteps(current, target, mctx))
	results := l.exec.Apply(ctx, steps)

	l.recordDeferrals(results)
	l.reconcileContainerStarted(ctx)

	if l.status != nil {
		l.status.Publish(current, target, steps, results)
	}

	return nil
}

// dedupeFetches keeps only the first fetch step per image reference in a
// batch, replacing any later one with noop. The planner decides each
// service independently, so two services in the same app that target the
// same not-yet-present image both emit fetch in the same round; without
// this, both would reach the engine and pull the image twice concurrently.
func dedupeFetches(steps []step.Step) []step.Step {
	seen := map[string]bool{}
	out := make([]step.Step, len(steps))
	copy(out, steps)
	for i, s := range out {
		if s.Action != step.ActionFetch {
			continue
		}
		if seen[s.Image.Name] {
			out[i] = step.Noop()
			continue
		}
		seen[s.Image.Name] = true
	}
	return out
}

// recordDeferrals persists every failed step as a deferred-step record
// (surfaced by the status API) and clears the record for any step that
// succeeded, so a resolved failure doesn't linger in the deferred list.
func (l *Loop) recordDeferrals(results []executor.Result) {
	for _, r := range results {
		key := deferredKey(r.Step)
		if key == "" {
			continue
		}
		if r.Err == nil {
			if err := l.store.ClearDeferredStep(key); err != nil {
				l.log.Warn("clear deferred step", "key", key, "err", err)
			}
			continue
		}
		d := state.DeferredStep{
			Key:       key,
			Reason:    string(r.Step.Action),
			ErrClass:  errClass(r.Err),
			Timestamp: time.Now(),
		}
		if err := l.store.RecordDeferredStep(d); err != nil {
			l.log.Warn("record deferred step", "key", key, "err", err)
		}
	}
}

// deferredKey identifies the resource a step acted on, stable across
// rounds so repeated failures against the same resource overwrite rather
// than accumulate.
func deferredKey(s step.Step) string {
	switch s.Action {
	case step.ActionFetch, step.ActionRemoveImage:
		return "image:" + s.Image.Name
	case step.ActionCreateNetwork, step.ActionRemoveNetwork:
		return "network:" + s.Network.Name
	case step.ActionCreateVolume, step.ActionRemoveVolume:
		return "volume:" + s.Volume.Name
	case step.ActionStart, step.ActionUpdateMetadata, step.ActionHandover:
		return fmt.Sprintf("service:%d/%s", s.TargetService.AppID, s.TargetService.ServiceName)
	case step.ActionStop, step.ActionKill, step.ActionRemove, step.ActionRestart:
		return fmt.Sprintf("service:%d/%s", s.CurrentService.AppID, s.CurrentService.ServiceName)
	default:
		return ""
	}
}

// errClass buckets an error into a coarse category for the status API,
// without leaking engine-specific error types into a JSON response.
func errClass(err error) string {
	if err == nil {
		return ""
	}
	return "engineError"
}

// reconcileContainerStarted re-snapshots current state and updates the
// container-started memo: every container observed Running is marked
// started, and any started-but-since-removed container is forgotten. This
// is simpler than tracking per-step container ids through the executor,
// and converges within one extra round either way.
func (l *Loop) reconcileContainerStarted(ctx context.Context) {
	current, err := l.engine.Snapshot(ctx)
	if err != nil {
		l.log.Warn("reconcile container-started memo: snapshot", "err", err)
		return
	}

	started, err := l.store.ContainerStarted()
	if err != nil {
		l.log.Warn("reconcile container-started memo: read", "err", err)
		return
	}

	seen := map[string]bool{}
	for _, app := range current {
		for _, svc := range app.Services {
			if svc.ContainerID == "" {
				continue
			}
			seen[svc.ContainerID] = true
			if svc.Status == model.StatusRunning && !started[svc.ContainerID] {
				if err := l.store.MarkContainerStarted(svc.ContainerID); err != nil {
					l.log.Warn("mark container started", "containerId", svc.ContainerID, "err", err)
				}
			}
		}
	}
	for id := range started {
		if !seen[id] {
			if err := l.store.ClearContainerStarted(id); err != nil {
				l.log.Warn("clear container started", "containerId", id, "err", err)
			}
		}
	}
}
