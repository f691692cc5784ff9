package planner

import (
	"testing"
	"time"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// withSupervisorNetwork pre-seeds an App's Networks with the global bridge,
// so tests asserting an exact step batch aren't tripped up by the cross-app
// supervisor0 guarantee.
func withSupervisorNetwork(app model.App) model.App {
	nets := make(map[string]model.Network, len(app.Networks)+1)
	for k, v := range app.Networks {
		nets[k] = v
	}
	nets[supervisorNetworkName] = model.Network{AppID: app.AppID, Name: supervisorNetworkName, Driver: "bridge"}
	app.Networks = nets
	return app
}

// withDefaultNetwork additionally pre-seeds the per-app "default" bridge, for
// tests with services where the synthesized network would otherwise show up
// as an extra createNetwork step.
func withDefaultNetwork(app model.App) model.App {
	app = withSupervisorNetwork(app)
	app.Networks["default"] = model.DefaultNetwork(app.AppID, app.AppUUID)
	return app
}

func countAction(steps []step.Step, a step.Action) int {
	n := 0
	for _, s := range steps {
		if s.Action == a {
			n++
		}
	}
	return n
}

func hasAction(steps []step.Step, a step.Action) bool {
	return countAction(steps, a) > 0
}

func TestCreateVolume(t *testing.T) {
	current := withSupervisorNetwork(model.App{AppID: 1})
	target := withSupervisorNetwork(model.App{AppID: 1, Volumes: map[string]model.Volume{
		"test-volume": {AppID: 1, Name: "test-volume"},
	}})

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})

	if len(steps) != 1 || steps[0].Action != step.ActionCreateVolume || steps[0].Volume.Name != "test-volume" {
		t.Fatalf("expected single createVolume(test-volume) step, got %+v", steps)
	}
}

func mainService(appID, releaseID int, image string, labels map[string]string) model.Service {
	return model.Service{
		AppID:       appID,
		ServiceName: "main",
		ReleaseID:   releaseID,
		ImageID:     releaseID,
		Config: model.Config{
			Image:   image,
			Labels:  labels,
			Running: true,
		},
		Status: model.StatusRunning,
	}
}

func TestKillThenDownloadStrategy(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "kill-then-download"}

	currentSvc := mainService(1, 1, "main-image", labels)
	currentSvc.ContainerID = "c1"
	targetSvc := mainService(1, 2, "main-image-2", labels)

	current := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{currentSvc}})
	target := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{targetSvc}})

	// Round 1: kill current.
	round1 := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if len(round1) != 1 || round1[0].Action != step.ActionKill || round1[0].CurrentService.ServiceName != "main" {
		t.Fatalf("round 1: expected [kill(main)], got %+v", round1)
	}

	// Round 2: current has no services (kill completed). Image unavailable.
	current2 := withDefaultNetwork(model.App{AppID: 1})
	round2 := NextSteps([]model.App{current2}, []model.App{target}, model.Context{})
	if len(round2) != 1 || round2[0].Action != step.ActionFetch || round2[0].Image.Name != "main-image-2" {
		t.Fatalf("round 2: expected [fetch(main-image-2)], got %+v", round2)
	}

	// Round 3: image now available.
	ctx3 := model.Context{AvailableImages: []model.Image{
		{Name: "main-image-2", Status: model.ImageDownloaded, DockerImageID: "sha256:new"},
	}}
	round3 := NextSteps([]model.App{current2}, []model.App{target}, ctx3)
	if len(round3) != 1 || round3[0].Action != step.ActionStart || round3[0].TargetService.ServiceName != "main" {
		t.Fatalf("round 3: expected [start(main)], got %+v", round3)
	}
}

func TestDeleteThenDownloadStrategy(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "delete-then-download"}

	currentSvc := mainService(1, 1, "main-image", labels)
	currentSvc.ContainerID = "c1"
	targetSvc := mainService(1, 2, "main-image-2", labels)

	current := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{currentSvc}})
	target := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{targetSvc}})

	// Round 1: kill current and remove its now-superseded image, unlike
	// kill-then-download which leaves the old image in place.
	ctx1 := model.Context{AvailableImages: []model.Image{
		{Name: "main-image", Status: model.ImageDownloaded, DockerImageID: "sha256:old"},
	}}
	round1 := NextSteps([]model.App{current}, []model.App{target}, ctx1)
	if len(round1) != 2 {
		t.Fatalf("round 1: expected [kill(main), removeImage(main-image)], got %+v", round1)
	}
	if !hasAction(round1, step.ActionKill) {
		t.Fatalf("round 1: expected a kill step, got %+v", round1)
	}
	if !hasAction(round1, step.ActionRemoveImage) {
		t.Fatalf("round 1: expected a removeImage step, got %+v", round1)
	}
	for _, s := range round1 {
		if s.Action == step.ActionRemoveImage && s.Image.DockerImageID != "sha256:old" {
			t.Fatalf("round 1: removeImage should target the old image, got %+v", s.Image)
		}
	}

	// Round 2: current has no services (kill completed). Image unavailable.
	current2 := withDefaultNetwork(model.App{AppID: 1})
	round2 := NextSteps([]model.App{current2}, []model.App{target}, model.Context{})
	if len(round2) != 1 || round2[0].Action != step.ActionFetch || round2[0].Image.Name != "main-image-2" {
		t.Fatalf("round 2: expected [fetch(main-image-2)], got %+v", round2)
	}

	// Round 3: image now available.
	ctx3 := model.Context{AvailableImages: []model.Image{
		{Name: "main-image-2", Status: model.ImageDownloaded, DockerImageID: "sha256:new"},
	}}
	round3 := NextSteps([]model.App{current2}, []model.App{target}, ctx3)
	if len(round3) != 1 || round3[0].Action != step.ActionStart || round3[0].TargetService.ServiceName != "main" {
		t.Fatalf("round 3: expected [start(main)], got %+v", round3)
	}
}

func TestDependencyGating(t *testing.T) {
	dep := model.Service{
		AppID: 1, ServiceName: "dep", ReleaseID: 1, ImageID: 1,
		Config: model.Config{Image: "dep-image", Running: true},
	}
	main := model.Service{
		AppID: 1, ServiceName: "main", ReleaseID: 1, ImageID: 2,
		Config:    model.Config{Image: "main-image", Running: true},
		DependsOn: []string{"dep"},
	}
	target := model.App{AppID: 1, Services: []model.Service{main, dep}}
	current := model.App{AppID: 1}

	ctx := model.Context{AvailableImages: []model.Image{
		{Name: "dep-image", Status: model.ImageDownloaded, DockerImageID: "d"},
		{Name: "main-image", Status: model.ImageDownloaded, DockerImageID: "m"},
	}}

	round1 := NextSteps([]model.App{current}, []model.App{target}, ctx)
	if !hasAction(round1, step.ActionStart) {
		t.Fatalf("round 1: expected a start step, got %+v", round1)
	}
	for _, s := range round1 {
		if s.Action == step.ActionStart && s.TargetService.ServiceName == "main" {
			t.Fatalf("round 1: main must not be started before dep, got %+v", round1)
		}
	}

	// Round 2: dep now running with a requested-start memo.
	depRunning := dep
	depRunning.Status = model.StatusRunning
	depRunning.ContainerID = "dep-c1"
	current2 := model.App{AppID: 1, Services: []model.Service{depRunning}}
	ctx2 := ctx
	ctx2.ContainerStarted = map[string]bool{"dep-c1": true}

	round2 := NextSteps([]model.App{current2}, []model.App{target}, ctx2)
	found := false
	for _, s := range round2 {
		if s.Action == step.ActionStart && s.TargetService.ServiceName == "main" {
			found = true
		}
	}
	if !found {
		t.Fatalf("round 2: expected start(main) once dep is running, got %+v", round2)
	}
}

func TestDeadContainer(t *testing.T) {
	svc := mainService(1, 1, "main-image", nil)
	svc.Status = model.StatusDead
	svc.ContainerID = "c1"

	current := model.App{AppID: 1, Services: []model.Service{svc}}
	target := model.App{AppID: 1, Services: []model.Service{svc}}

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if !hasAction(steps, step.ActionRemove) {
		t.Fatalf("expected remove(main) for Dead container, got %+v", steps)
	}
}

func TestStoppingIsRespected(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "aux", ReleaseID: 1,
		Status:      model.StatusStopping,
		ContainerID: "c1",
	}
	current := withSupervisorNetwork(model.App{AppID: 1, Services: []model.Service{svc}})
	target := withSupervisorNetwork(model.App{AppID: 1})

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if len(steps) != 1 || steps[0].Action != step.ActionNoop {
		t.Fatalf("expected [noop] for Stopping service with no target, got %+v", steps)
	}
}

func TestDownloadingInFlight(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "main", ReleaseID: 1, ImageID: 1,
		Config: model.Config{Image: "main-image", Running: true},
	}
	target := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{svc}})
	current := withDefaultNetwork(model.App{AppID: 1})
	ctx := model.Context{Downloading: map[int]bool{1: true}}

	steps := NextSteps([]model.App{current}, []model.App{target}, ctx)
	if len(steps) != 1 || steps[0].Action != step.ActionNoop {
		t.Fatalf("expected [noop] while downloading, got %+v", steps)
	}
}

func TestVolumeRecreationWithDependents(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "svc", ReleaseID: 1, ImageID: 1, ContainerID: "c1",
		Status: model.StatusRunning,
		Config: model.Config{
			Image:   "svc-image",
			Running: true,
			Volumes: []model.VolumeMount{{VolumeName: "v"}},
		},
	}
	currentVol := model.Volume{AppID: 1, Name: "v"}
	targetVol := model.Volume{AppID: 1, Name: "v", Labels: map[string]string{"added": "label"}}

	current := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{svc}, Volumes: map[string]model.Volume{"v": currentVol}})
	target := withDefaultNetwork(model.App{AppID: 1, Services: []model.Service{svc}, Volumes: map[string]model.Volume{"v": targetVol}})

	// Round 1: kill svc (it references the recreating volume).
	round1 := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if !hasAction(round1, step.ActionKill) {
		t.Fatalf("round 1: expected kill(svc), got %+v", round1)
	}
	if hasAction(round1, step.ActionRemoveVolume) || hasAction(round1, step.ActionCreateVolume) {
		t.Fatalf("round 1: must not remove/create volume while a service still references it, got %+v", round1)
	}

	// Round 2: svc gone from current. The volume can now be recreated; the
	// planner may independently start re-fetching svc's image in the same
	// batch, since the two progress threads don't block each other.
	current2 := withDefaultNetwork(model.App{AppID: 1, Volumes: map[string]model.Volume{"v": currentVol}})
	round2 := NextSteps([]model.App{current2}, []model.App{target}, model.Context{})
	if !hasAction(round2, step.ActionRemoveVolume) {
		t.Fatalf("round 2: expected removeVolume(v), got %+v", round2)
	}
	if hasAction(round2, step.ActionCreateVolume) {
		t.Fatalf("round 2: must not create v before it's removed, got %+v", round2)
	}

	// Round 3: v gone entirely from current.
	current3 := withDefaultNetwork(model.App{AppID: 1})
	round3 := NextSteps([]model.App{current3}, []model.App{target}, model.Context{})
	if !hasAction(round3, step.ActionCreateVolume) {
		t.Fatalf("round 3: expected createVolume(v), got %+v", round3)
	}
}

// --- Universal invariants ---

func TestIdempotence(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "main", ReleaseID: 1, ImageID: 1, ContainerID: "c1",
		Status: model.StatusRunning,
		Config: model.Config{Image: "main-image", Running: true},
	}
	app := withDefaultNetwork(model.App{
		AppID:    1,
		Services: []model.Service{svc},
	})

	steps := NextSteps([]model.App{app}, []model.App{app}, model.Context{})
	if len(steps) > 1 || (len(steps) == 1 && steps[0].Action != step.ActionNoop) {
		t.Fatalf("idempotence: expected [] or [noop] for S==T, got %+v", steps)
	}
}

func TestDefaultNetworkAlways(t *testing.T) {
	svc := model.Service{AppID: 1, ServiceName: "main", Config: model.Config{Image: "main-image"}}
	target := model.App{AppID: 1, Services: []model.Service{svc}}
	current := model.App{AppID: 1}

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if !hasAction(steps, step.ActionCreateNetwork) {
		t.Fatalf("expected createNetwork(default) to be synthesized, got %+v", steps)
	}
	foundDefault := false
	for _, s := range steps {
		if s.Action == step.ActionCreateNetwork && s.Network.Name == "default" {
			foundDefault = true
		}
	}
	if !foundDefault {
		t.Fatalf("expected the synthesized network to be named default, got %+v", steps)
	}
}

func TestNoFetchDuplication(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "main", ReleaseID: 1, ImageID: 1,
		Config: model.Config{Image: "main-image", Running: true},
	}
	target := model.App{AppID: 1, Services: []model.Service{svc}}
	current := model.App{AppID: 1}

	ctx := model.Context{Downloading: map[int]bool{1: true}}
	steps := NextSteps([]model.App{current}, []model.App{target}, ctx)
	if hasAction(steps, step.ActionFetch) {
		t.Fatalf("expected no fetch while isDownloading is true, got %+v", steps)
	}
}

func TestStrategyKillFirst(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "kill-then-download"}
	current := model.App{AppID: 1, Services: []model.Service{mainServiceWithContainer(1, 1, "main-image", labels, "c1")}}
	target := model.App{AppID: 1, Services: []model.Service{mainService(1, 2, "main-image-2", labels)}}

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if !hasAction(steps, step.ActionKill) {
		t.Fatalf("expected kill in the first batch for kill-then-download, got %+v", steps)
	}
	if hasAction(steps, step.ActionFetch) {
		t.Fatalf("expected no fetch in the first batch for kill-then-download, got %+v", steps)
	}
}

func mainServiceWithContainer(appID, releaseID int, image string, labels map[string]string, containerID string) model.Service {
	s := mainService(appID, releaseID, image, labels)
	s.ContainerID = containerID
	return s
}

func TestNoOrphanResource(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "svc", Status: model.StatusRunning, ContainerID: "c1",
		Config: model.Config{Image: "img", Running: true, Volumes: []model.VolumeMount{{VolumeName: "v"}}},
	}
	current := model.App{AppID: 1, Services: []model.Service{svc}, Volumes: map[string]model.Volume{"v": {AppID: 1, Name: "v"}}}
	target := model.App{AppID: 1} // volume dropped entirely from target

	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})
	if hasAction(steps, step.ActionRemoveVolume) {
		t.Fatalf("expected no removeVolume while svc still references it, got %+v", steps)
	}
}

func TestShrunkAppRemovesUnreferencedVolumeAndNetwork(t *testing.T) {
	svc := model.Service{
		AppID: 1, ServiceName: "svc", Status: model.StatusRunning, ContainerID: "c1",
		Config: model.Config{Image: "img", Running: true},
	}
	current := model.App{
		AppID:    1,
		Services: []model.Service{svc},
		Volumes:  map[string]model.Volume{"orphan-vol": {AppID: 1, Name: "orphan-vol"}},
		Networks: map[string]model.Network{
			supervisorNetworkName: {Name: supervisorNetworkName, Driver: "bridge"},
			"default":             model.DefaultNetwork(1, ""),
			"orphan-net":          {AppID: 1, Name: "orphan-net", Driver: "bridge"},
		},
	}
	target := model.App{
		AppID:    1,
		Services: []model.Service{svc},
		Networks: map[string]model.Network{
			supervisorNetworkName: {Name: supervisorNetworkName, Driver: "bridge"},
			"default":             model.DefaultNetwork(1, ""),
		},
	}

	// The app itself survives (present in both current and target) but its
	// volume and network sets shrank; nothing references the dropped
	// resources anymore, so the cross-app planner must remove them even
	// though the whole-app orphan path never fires.
	steps := NextSteps([]model.App{current}, []model.App{target}, model.Context{})

	if !hasAction(steps, step.ActionRemoveVolume) {
		t.Fatalf("expected removeVolume(orphan-vol) once app shrinks but stays present, got %+v", steps)
	}
	if !hasAction(steps, step.ActionRemoveNetwork) {
		t.Fatalf("expected removeNetwork(orphan-net) once app shrinks but stays present, got %+v", steps)
	}
	for _, s := range steps {
		if s.Action == step.ActionRemoveNetwork && s.Network.Name == supervisorNetworkName {
			t.Fatalf("must never remove the shared supervisor network, got %+v", steps)
		}
		if s.Action == step.ActionRemoveVolume && s.Volume.Name != "orphan-vol" {
			t.Fatalf("unexpected removeVolume target, got %+v", steps)
		}
		if s.Action == step.ActionRemoveNetwork && s.Network.Name != "orphan-net" {
			t.Fatalf("unexpected removeNetwork target, got %+v", steps)
		}
	}
}

func TestHandoverStrategySignalsOnceNewIsRunning(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "hand-over"}
	tgt := mainService(1, 2, "main-image-2", labels)
	old := mainServiceWithContainer(1, 1, "main-image", labels, "c-old")
	newCur := mainServiceWithContainer(1, 2, "main-image-2", labels, "c-new")
	newCur.Status = model.StatusRunning

	steps := planHandoverOld(old, newCur, tgt)
	if len(steps) != 1 || steps[0].Action != step.ActionHandover {
		t.Fatalf("expected [handover(old)] once the replacement is running, got %+v", steps)
	}
}

func TestHandoverStrategyWaitsBeforeTimeout(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "hand-over"}
	tgt := mainService(1, 2, "main-image-2", labels)
	old := mainServiceWithContainer(1, 1, "main-image", labels, "c-old")
	newCur := mainServiceWithContainer(1, 2, "main-image-2", labels, "c-new")
	newCur.Status = model.StatusInstalled
	newCur.CreatedAt = now()

	steps := planHandoverOld(old, newCur, tgt)
	if len(steps) != 1 || steps[0].Action != step.ActionNoop {
		t.Fatalf("expected [noop] while the replacement is still starting, got %+v", steps)
	}
}

func TestHandoverStrategyForceCutoverAfterTimeout(t *testing.T) {
	labels := map[string]string{
		model.LabelUpdateStrategy:  "hand-over",
		model.LabelHandoverTimeout: "10",
	}
	tgt := mainService(1, 2, "main-image-2", labels)
	old := mainServiceWithContainer(1, 1, "main-image", labels, "c-old")
	newCur := mainServiceWithContainer(1, 2, "main-image-2", labels, "c-new")
	newCur.Status = model.StatusInstalled
	newCur.CreatedAt = now().Add(-time.Minute)

	steps := planHandoverOld(old, newCur, tgt)
	if len(steps) != 1 || steps[0].Action != step.ActionKill {
		t.Fatalf("expected [kill(old)] once the handover timeout elapses, got %+v", steps)
	}
}

func TestHandoverStrategyKillsOnceAcknowledged(t *testing.T) {
	labels := map[string]string{model.LabelUpdateStrategy: "hand-over"}
	tgt := mainService(1, 2, "main-image-2", labels)
	old := mainServiceWithContainer(1, 1, "main-image", labels, "c-old")
	old.Status = model.StatusHandover
	newCur := mainServiceWithContainer(1, 2, "main-image-2", labels, "c-new")
	newCur.Status = model.StatusRunning

	steps := planHandoverOld(old, newCur, tgt)
	if len(steps) != 1 || steps[0].Action != step.ActionKill {
		t.Fatalf("expected [kill(old)] once old acknowledges handover, got %+v", steps)
	}
}

func TestCyclicDependencyRejected(t *testing.T) {
	app := model.App{
		AppID: 1,
		Services: []model.Service{
			{ServiceName: "a", DependsOn: []string{"b"}},
			{ServiceName: "b", DependsOn: []string{"a"}},
		},
	}
	if err := CheckAcyclic(app); err == nil {
		t.Fatal("expected CheckAcyclic to reject a cyclic dependsOn graph")
	}
}

func TestCheckAcyclicAcceptsDAG(t *testing.T) {
	app := model.App{
		AppID: 1,
		Services: []model.Service{
			{ServiceName: "main", DependsOn: []string{"dep"}},
			{ServiceName: "dep"},
		},
	}
	if err := CheckAcyclic(app); err != nil {
		t.Fatalf("unexpected error for acyclic graph: %v", err)
	}
}
