package planner

import (
	"sort"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// supervisorNetworkName is the host-wide supervised bridge guaranteed by
// the cross-app planner, independent of any single app.
const supervisorNetworkName = "supervisor0"

// PlanCrossApp runs after every app's own Plan: it tears down apps
// present in current but absent from target, guarantees the global
// supervised bridge exists, and prunes images no target (or remaining
// current) app references.
func PlanCrossApp(currents, targets []model.App, ctx model.Context) []step.Step {
	var steps []step.Step

	targetByID := make(map[int]model.App, len(targets))
	for _, a := range targets {
		targetByID[a.AppID] = a
	}

	orphaned := make([]model.App, 0)
	for _, cur := range currents {
		if _, ok := targetByID[cur.AppID]; !ok {
			orphaned = append(orphaned, cur)
		}
	}
	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i].AppID < orphaned[j].AppID })

	for _, app := range orphaned {
		steps = append(steps, planOrphanedApp(app)...)
	}

	steps = append(steps, planShrunkApps(currents, targetByID)...)

	if !hasSupervisorNetwork(currents) {
		steps = append(steps, step.CreateNetwork(model.Network{
			Name:   supervisorNetworkName,
			Driver: "bridge",
			Labels: map[string]string{model.LabelSupervised: "true"},
		}))
	}

	if !ctx.LocalMode {
		steps = append(steps, planImagePrune(currents, targets, ctx)...)
	}

	return steps
}

// planOrphanedApp tears down an app no longer in target: services first,
// then (once none remain) its networks and volumes, since nothing else can
// reference app-scoped resources once the app itself is gone.
func planOrphanedApp(app model.App) []step.Step {
	if len(app.Services) > 0 {
		var steps []step.Step
		for _, svc := range app.Services {
			steps = append(steps, killOrNoop(svc))
		}
		return steps
	}

	var steps []step.Step
	names := make([]string, 0, len(app.Networks))
	for n := range app.Networks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		steps = append(steps, step.RemoveNetwork(app.Networks[n]))
	}

	volNames := make([]string, 0, len(app.Volumes))
	for n := range app.Volumes {
		volNames = append(volNames, n)
	}
	sort.Strings(volNames)
	for _, n := range volNames {
		steps = append(steps, step.RemoveVolume(app.Volumes[n]))
	}
	return steps
}

// planShrunkApps removes volumes and networks dropped from an app's target
// while the app itself remains in target: the per-app volume/network
// planners defer exactly this case (curOK && !tgtOK) to the cross-app
// planner, since removal only ever happens here. Unlike planOrphanedApp,
// the app's services keep running, so a resource is only removed once no
// current service references it any longer.
func planShrunkApps(currents []model.App, targetByID map[int]model.App) []step.Step {
	sorted := make([]model.App, len(currents))
	copy(sorted, currents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AppID < sorted[j].AppID })

	var steps []step.Step
	for _, cur := range sorted {
		tgt, ok := targetByID[cur.AppID]
		if !ok {
			continue // whole app gone: handled by planOrphanedApp
		}

		volNames := make([]string, 0, len(cur.Volumes))
		for n := range cur.Volumes {
			volNames = append(volNames, n)
		}
		sort.Strings(volNames)
		for _, n := range volNames {
			if _, ok := tgt.Volumes[n]; ok {
				continue
			}
			if cur.ReferencesVolume(n) {
				continue
			}
			steps = append(steps, step.RemoveVolume(cur.Volumes[n]))
		}

		targetNets := effectiveTargetNetworks(tgt)
		netNames := make([]string, 0, len(cur.Networks))
		for n := range cur.Networks {
			netNames = append(netNames, n)
		}
		sort.Strings(netNames)
		for _, n := range netNames {
			if n == supervisorNetworkName {
				continue // host-wide, owned by the cross-app planner itself
			}
			if _, ok := targetNets[n]; ok {
				continue
			}
			if cur.ReferencesNetwork(n) {
				continue
			}
			steps = append(steps, step.RemoveNetwork(cur.Networks[n]))
		}
	}
	return steps
}

func hasSupervisorNetwork(apps []model.App) bool {
	for _, a := range apps {
		if _, ok := a.Networks[supervisorNetworkName]; ok {
			return true
		}
	}
	return false
}

// planImagePrune emits removeImage for every locally-available Downloaded
// image no service in any current-or-target app still references, by
// either DockerImageID or registry-name equivalence.
func planImagePrune(currents, targets []model.App, ctx model.Context) []step.Step {
	var steps []step.Step
	imgs := make([]model.Image, len(ctx.AvailableImages))
	copy(imgs, ctx.AvailableImages)
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].ImageID < imgs[j].ImageID })

	for _, img := range imgs {
		if img.Status != model.ImageDownloaded {
			continue
		}
		if imageReferenced(img, currents) || imageReferenced(img, targets) {
			continue
		}
		steps = append(steps, step.RemoveImage(img))
	}
	return steps
}

func imageReferenced(img model.Image, apps []model.App) bool {
	for _, a := range apps {
		for _, s := range a.Services {
			if s.Config.Image == img.DockerImageID || s.Config.Image == img.Name {
				return true
			}
			if s.ImageID != 0 && s.ImageID == img.ImageID {
				return true
			}
		}
	}
	return false
}
