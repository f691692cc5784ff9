package planner

import (
	"sort"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// planNetworks computes the network step family for one app: the
// same create/recreate/defer shape as volumes, plus synthesizing the
// "default" bridge network for any app that has at least one target
// service but doesn't declare one itself.
func planNetworks(current, target model.App) (steps []step.Step, killedServices map[string]bool) {
	killedServices = map[string]bool{}

	effectiveTarget := target
	effectiveTarget.Networks = effectiveTargetNetworks(target)

	names := make(map[string]bool)
	for n := range current.Networks {
		names[n] = true
	}
	for n := range effectiveTarget.Networks {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		cur, curOK := current.Networks[name]
		tgt, tgtOK := effectiveTarget.Networks[name]

		switch {
		case !curOK && tgtOK:
			steps = append(steps, step.CreateNetwork(tgt))

		case curOK && tgtOK:
			if cur.IsEqualConfig(tgt) {
				continue
			}
			referencing := referencingServicesForNetwork(current, name)
			if len(referencing) > 0 {
				for _, svc := range referencing {
					steps = append(steps, killOrNoop(svc))
					killedServices[svc.ServiceName] = true
				}
				continue
			}
			steps = append(steps, step.RemoveNetwork(cur))

		case curOK && !tgtOK:
			// Deferred to the cross-app planner, same as volumes.
		}
	}
	return steps, killedServices
}

// effectiveTargetNetworks returns target's declared networks plus the
// synthesized "default" bridge for any app with at least one target
// service that doesn't declare a network of its own, without mutating
// target.Networks.
func effectiveTargetNetworks(target model.App) map[string]model.Network {
	if len(target.Services) == 0 {
		return target.Networks
	}
	if _, ok := target.Networks["default"]; ok {
		return target.Networks
	}
	withDefault := make(map[string]model.Network, len(target.Networks)+1)
	for k, v := range target.Networks {
		withDefault[k] = v
	}
	withDefault["default"] = model.DefaultNetwork(target.AppID, target.AppUUID)
	return withDefault
}

func referencingServicesForNetwork(app model.App, name string) []model.Service {
	var out []model.Service
	for _, s := range app.Services {
		if s.ReferencesNetwork(name) {
			out = append(out, s)
		}
	}
	return out
}
