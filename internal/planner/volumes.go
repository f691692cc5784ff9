package planner

import (
	"sort"

	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/step"
)

// planVolumes computes the volume step family for one app. It
// returns the steps plus the set of service names it has already killed
// this round (a volume recreation kills every referencing service), so the
// service step family doesn't also try to act on them.
func planVolumes(current, target model.App) (steps []step.Step, killedServices map[string]bool) {
	killedServices = map[string]bool{}

	names := make(map[string]bool)
	for n := range current.Volumes {
		names[n] = true
	}
	for n := range target.Volumes {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		cur, curOK := current.Volumes[name]
		tgt, tgtOK := target.Volumes[name]

		switch {
		case !curOK && tgtOK:
			steps = append(steps, step.CreateVolume(tgt))

		case curOK && tgtOK:
			if cur.IsEqualConfig(tgt) {
				continue
			}
			referencing := referencingServicesForVolume(current, name)
			if len(referencing) > 0 {
				for _, svc := range referencing {
					steps = append(steps, killOrNoop(svc))
					killedServices[svc.ServiceName] = true
				}
				continue
			}
			steps = append(steps, step.RemoveVolume(cur))

		case curOK && !tgtOK:
			// Deferred: only the cross-app planner removes a volume whose
			// app is gone entirely or which nothing references.
		}
	}
	return steps, killedServices
}

func referencingServicesForVolume(app model.App, name string) []model.Service {
	var out []model.Service
	for _, s := range app.Services {
		if s.ReferencesVolume(name) {
			out = append(out, s)
		}
	}
	return out
}
