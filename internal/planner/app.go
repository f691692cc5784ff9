// Package planner implements the state-reconciliation planner: given a
// current App/target App pair and a runtime Context, Plan computes the next
// batch of composition steps for that app; PlanCrossApp and NextSteps
// extend this across a whole device's set of apps.
package planner

import (
	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// Plan computes the ordered batch of steps for one app: volumes, then
// networks, then services, in that priority. The within-family order is a
// presentation detail, not a correctness requirement — the executor may
// run independent steps in any order or in parallel.
func Plan(current, target model.App, ctx model.Context) []step.Step {
	var steps []step.Step

	volumeSteps, claimedByVolumes := planVolumes(current, target)
	steps = append(steps, volumeSteps...)

	networkSteps, claimedByNetworks := planNetworks(current, target)
	steps = append(steps, networkSteps...)

	claimed := claimedByVolumes
	for name := range claimedByNetworks {
		claimed[name] = true
	}

	steps = append(steps, planServices(current, target, ctx, claimed)...)
	return steps
}
