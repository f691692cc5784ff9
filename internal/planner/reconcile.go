package planner

import (
	"sort"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// NextSteps is the published reconciliation entry point: it merges
// every app's own plan with the cross-app plan, and folds the "nothing to
// do" cases into noop (downloads in flight) or an empty batch (fixpoint).
func NextSteps(currents, targets []model.App, ctx model.Context) []step.Step {
	currentByID := make(map[int]model.App, len(currents))
	for _, a := range currents {
		currentByID[a.AppID] = a
	}

	appIDs := make([]int, 0, len(targets))
	seen := make(map[int]bool)
	for _, a := range targets {
		if !seen[a.AppID] {
			seen[a.AppID] = true
			appIDs = append(appIDs, a.AppID)
		}
	}
	sort.Ints(appIDs)

	var steps []step.Step
	for _, id := range appIDs {
		var target model.App
		for _, a := range targets {
			if a.AppID == id {
				target = a
				break
			}
		}
		current, ok := currentByID[id]
		if !ok {
			current = model.App{AppID: id}
		}
		steps = append(steps, Plan(current, target, ctx)...)
	}

	steps = append(steps, PlanCrossApp(currents, targets, ctx)...)

	if len(steps) > 0 {
		return steps
	}
	if anyDownloading(ctx) {
		return []step.Step{step.Noop()}
	}
	return nil
}

func anyDownloading(ctx model.Context) bool {
	for _, v := range ctx.Downloading {
		if v {
			return true
		}
	}
	return false
}
