package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newFakeEngine() *fakeEngine { return &fakeEngine{fail: map[string]error{}} }

func (f *fakeEngine) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeEngine) Fetch(ctx context.Context, img model.Image) error { return f.record("fetch:" + img.Name) }
func (f *fakeEngine) RemoveImage(ctx context.Context, img model.Image) error {
	return f.record("removeImage:" + img.Name)
}
func (f *fakeEngine) CreateNetwork(ctx context.Context, n model.Network) error {
	return f.record("createNetwork:" + n.Name)
}
func (f *fakeEngine) RemoveNetwork(ctx context.Context, n model.Network) error {
	return f.record("removeNetwork:" + n.Name)
}
func (f *fakeEngine) CreateVolume(ctx context.Context, v model.Volume) error {
	return f.record("createVolume:" + v.Name)
}
func (f *fakeEngine) RemoveVolume(ctx context.Context, v model.Volume) error {
	return f.record("removeVolume:" + v.Name)
}
func (f *fakeEngine) Start(ctx context.Context, svc model.Service) error {
	return f.record("start:" + svc.ServiceName)
}
func (f *fakeEngine) Stop(ctx context.Context, svc model.Service) error {
	return f.record("stop:" + svc.ServiceName)
}
func (f *fakeEngine) Kill(ctx context.Context, svc model.Service) error {
	return f.record("kill:" + svc.ServiceName)
}
func (f *fakeEngine) Remove(ctx context.Context, svc model.Service) error {
	return f.record("remove:" + svc.ServiceName)
}
func (f *fakeEngine) UpdateMetadata(ctx context.Context, current, target model.Service) error {
	return f.record("updateMetadata:" + target.ServiceName)
}
func (f *fakeEngine) Handover(ctx context.Context, current, target model.Service) error {
	return f.record("handover:" + target.ServiceName)
}
func (f *fakeEngine) Restart(ctx context.Context, svc model.Service) error {
	return f.record("restart:" + svc.ServiceName)
}

func TestApplyDispatchesEveryAction(t *testing.T) {
	eng := newFakeEngine()
	ex := New(eng)

	svc := model.Service{ServiceName: "main"}
	steps := []step.Step{
		step.Fetch(model.Image{Name: "img"}),
		step.RemoveImage(model.Image{Name: "img"}),
		step.CreateNetwork(model.Network{Name: "net"}),
		step.RemoveNetwork(model.Network{Name: "net"}),
		step.CreateVolume(model.Volume{Name: "vol"}),
		step.RemoveVolume(model.Volume{Name: "vol"}),
		step.Start(svc),
		step.Stop(svc),
		step.Kill(svc),
		step.Remove(svc),
		step.UpdateMetadata(svc, svc),
		step.Handover(svc, svc),
		step.Restart(svc),
		step.Noop(),
	}

	results := ex.Apply(context.Background(), steps)
	if len(results) != len(steps) {
		t.Fatalf("expected %d results, got %d", len(steps), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("step %d (%s): unexpected error: %v", i, steps[i].Action, r.Err)
		}
	}

	eng.mu.Lock()
	calls := append([]string(nil), eng.calls...)
	eng.mu.Unlock()
	sort.Strings(calls)

	want := []string{
		"createNetwork:net", "createVolume:vol", "fetch:img", "handover:main",
		"kill:main", "remove:main", "removeImage:img", "removeNetwork:net",
		"removeVolume:vol", "restart:main", "start:main", "stop:main",
		"updateMetadata:main",
	}
	sort.Strings(want)
	if len(calls) != len(want) {
		t.Fatalf("expected %d engine calls (noop excluded), got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("engine calls mismatch: got %v, want %v", calls, want)
		}
	}
}

func TestApplyNoopSkipsEngine(t *testing.T) {
	eng := newFakeEngine()
	ex := New(eng)

	results := ex.Apply(context.Background(), []step.Step{step.Noop()})
	if len(results) != 1 || results[0].Err != nil || results[0].Step.Action != step.ActionNoop {
		t.Fatalf("expected a single clean noop result, got %+v", results)
	}
	if len(eng.calls) != 0 {
		t.Fatalf("expected no engine calls for a noop batch, got %v", eng.calls)
	}
}

func TestApplyDoesNotStopAtFirstFailure(t *testing.T) {
	eng := newFakeEngine()
	boom := errors.New("boom")
	eng.fail["kill:a"] = boom

	ex := New(eng)
	steps := []step.Step{
		step.Kill(model.Service{ServiceName: "a"}),
		step.Kill(model.Service{ServiceName: "b"}),
	}

	results := ex.Apply(context.Background(), steps)
	if results[0].Err != boom {
		t.Fatalf("expected step 0 to fail with boom, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("expected step 1 to still run and succeed, got %v", results[1].Err)
	}
}

func TestApplyPreservesResultOrder(t *testing.T) {
	eng := newFakeEngine()
	ex := New(eng)

	var steps []step.Step
	for i := 0; i < 20; i++ {
		steps = append(steps, step.Kill(model.Service{ServiceName: string(rune('a' + i))}))
	}

	results := ex.Apply(context.Background(), steps)
	for i, r := range results {
		want := "kill:" + steps[i].CurrentService.ServiceName
		got := "kill:" + r.Step.CurrentService.ServiceName
		if got != want {
			t.Fatalf("result %d out of order: got %s, want %s", i, got, want)
		}
	}
}
