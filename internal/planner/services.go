package planner

import (
	"sort"
	"time"

	"github.com/cfilipov/edged/internal/inventory"
	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
	"github.com/cfilipov/edged/internal/strategy"
)

// now is overridable in tests so the handover-timeout branch is
// deterministic without sleeping.
var now = time.Now

// killOrNoop applies the teardown rule shared by "only in current" and
// volume/network-recreation dependents: an already-stopping container is
// left alone, a dead one is purged, otherwise it's killed.
func killOrNoop(cur model.Service) step.Step {
	switch cur.Status {
	case model.StatusStopping:
		return step.Noop()
	case model.StatusDead:
		return step.Remove(cur)
	default:
		return step.Kill(cur)
	}
}

// planServices computes the service step family for one app.
// claimed marks service names already acted on by the volume/network
// families this round (a recreation kill) — those are skipped here to
// avoid emitting a second, conflicting step for the same service.
func planServices(current, target model.App, ctx model.Context, claimed map[string]bool) []step.Step {
	inv := inventory.New(ctx)

	currentByName := map[string][]model.Service{}
	for _, s := range current.Services {
		currentByName[s.ServiceName] = append(currentByName[s.ServiceName], s)
	}
	targetByName := map[string]model.Service{}
	for _, s := range target.Services {
		targetByName[s.ServiceName] = s
	}

	names := make(map[string]bool, len(currentByName)+len(targetByName))
	for n := range currentByName {
		names[n] = true
	}
	for n := range targetByName {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	var steps []step.Step
	for _, name := range ordered {
		if claimed[name] {
			continue
		}
		curs := currentByName[name]
		tgt, tgtOK := targetByName[name]

		switch {
		case len(curs) == 0 && tgtOK:
			steps = append(steps, planStartService(tgt, current, ctx, inv)...)

		case len(curs) > 0 && !tgtOK:
			for _, cur := range curs {
				steps = append(steps, killOrNoop(cur))
			}

		case len(curs) > 0 && tgtOK:
			steps = append(steps, planExistingServiceGroup(curs, tgt, ctx, inv)...)
		}
	}
	return steps
}

// planStartService handles a service present only in target: it must be
// started, subject to its image and dependency preconditions.
func planStartService(tgt model.Service, current model.App, ctx model.Context, inv inventory.View) []step.Step {
	if !inv.IsAvailable(tgt) {
		if inv.IsDownloading(tgt) {
			return []step.Step{step.Noop()}
		}
		return []step.Step{step.Fetch(imageDescriptor(tgt))}
	}

	for _, v := range tgt.Config.Volumes {
		if _, ok := current.Volumes[v.VolumeName]; !ok {
			return nil // wait for (a) to create it first
		}
	}
	for name := range tgt.Config.Networks {
		if _, ok := current.Networks[name]; !ok {
			return nil // wait for (b) to create it first
		}
	}

	for _, dep := range tgt.DependsOn {
		depCur, ok := current.ServiceByName(dep)
		if !ok || depCur.Status != model.StatusRunning || !ctx.HasRequestedStart(depCur.ContainerID) {
			return []step.Step{step.Noop()}
		}
	}

	return []step.Step{step.Start(tgt)}
}

// planExistingServiceGroup handles a service name present in both current
// and target, including the hand-over strategy's transient window where
// two current containers for the same name coexist.
func planExistingServiceGroup(curs []model.Service, tgt model.Service, ctx model.Context, inv inventory.View) []step.Step {
	var newCur *model.Service
	var olds []model.Service
	for i := range curs {
		c := curs[i]
		if c.ReleaseID == tgt.ReleaseID && c.IsEqualConfig(tgt) {
			newCur = &curs[i]
			continue
		}
		olds = append(olds, c)
	}

	if newCur == nil {
		return planExistingService(curs[0], tgt, ctx, inv)
	}

	var out []step.Step
	out = append(out, planExistingService(*newCur, tgt, ctx, inv)...)
	for _, old := range olds {
		out = append(out, planHandoverOld(old, *newCur, tgt)...)
	}
	return out
}

// planExistingService is the single-current-entry decision table for a
// service present in both current and target: dead-purge, metadata-only
// update, running-state toggle, or (on material change) strategy-driven
// recreation.
func planExistingService(cur model.Service, tgt model.Service, ctx model.Context, inv inventory.View) []step.Step {
	if cur.Status == model.StatusDead {
		return []step.Step{step.Remove(cur)}
	}

	if cur.IsEqualExceptForRunningAndRelease(tgt) {
		if cur.ReleaseID != tgt.ReleaseID || cur.ImageID != tgt.ImageID {
			return []step.Step{step.UpdateMetadata(cur, tgt)}
		}
		if !tgt.Config.Running && cur.Config.Running {
			return []step.Step{step.Stop(cur)}
		}
		if tgt.Config.Running && !cur.Config.Running {
			return []step.Step{step.Start(tgt)}
		}
		return nil
	}

	return planRecreate(cur, tgt, ctx, inv)
}

// planRecreate dispatches a materially-changed service to its update
// strategy's kill/fetch/start ordering.
func planRecreate(cur model.Service, tgt model.Service, ctx model.Context, inv inventory.View) []step.Step {
	switch strategy.OfService(tgt) {
	case strategy.KillThenDownload:
		return []step.Step{killOrNoop(cur)}

	case strategy.DeleteThenDownload:
		steps := []step.Step{killOrNoop(cur)}
		if img, ok := inv.FindAvailable(cur.Config.Image); ok {
			steps = append(steps, step.RemoveImage(img))
		}
		return steps

	case strategy.HandOver:
		if !inv.IsAvailable(tgt) {
			if inv.IsDownloading(tgt) {
				return []step.Step{step.Noop()}
			}
			return []step.Step{step.Fetch(imageDescriptor(tgt))}
		}
		return []step.Step{step.Start(tgt)}

	default: // download-then-kill
		if !inv.IsAvailable(tgt) {
			if inv.IsDownloading(tgt) {
				return []step.Step{step.Noop()}
			}
			return []step.Step{step.Fetch(imageDescriptor(tgt))}
		}
		return []step.Step{killOrNoop(cur)}
	}
}

// planHandoverOld decides the fate of the outgoing container once its
// replacement (newCur) already exists in current state: signal handover
// once the replacement is Running, force-cut-over if the replacement never
// reaches Running within the handover-timeout, otherwise wait.
func planHandoverOld(old model.Service, newCur model.Service, tgt model.Service) []step.Step {
	if old.Status == model.StatusHandover {
		return []step.Step{step.Kill(old)}
	}
	if newCur.Status == model.StatusRunning {
		return []step.Step{step.Handover(old, tgt)}
	}
	timeout := time.Duration(strategy.HandoverTimeoutSeconds(tgt)) * time.Second
	if !newCur.CreatedAt.IsZero() && now().Sub(newCur.CreatedAt) > timeout {
		return []step.Step{step.Kill(old)} // force cutover; new stays, possibly unhealthy
	}
	return []step.Step{step.Noop()}
}

func imageDescriptor(svc model.Service) model.Image {
	return model.Image{
		ImageID:     svc.ImageID,
		AppID:       svc.AppID,
		ServiceID:   svc.ServiceID,
		ServiceName: svc.ServiceName,
		ReleaseID:   svc.ReleaseID,
		Name:        svc.Config.Image,
		Status:      model.ImageDownloading,
	}
}
