package planner

import (
	"fmt"

	"github.com/cfilipov/edged/internal/model"
)

// CheckAcyclic verifies that app's dependsOn graph has no cycles. It is run
// once when a new target state is ingested (internal/targetstore, or the
// cloud-API equivalent) — not on every NextSteps call — so a malformed
// target is rejected up front rather than causing the planner to wait
// forever on a dependency cycle that can never resolve.
func CheckAcyclic(app model.App) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(app.Services))
	byName := make(map[string]model.Service, len(app.Services))
	for _, s := range app.Services {
		byName[s.ServiceName] = s
	}

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("%w: app %d: %v -> %s", model.ErrCyclicDependency, app.AppID, path, name)
		}
		color[name] = gray
		svc := byName[name]
		for _, dep := range svc.DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range app.Services {
		if color[s.ServiceName] == white {
			if err := visit(s.ServiceName, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
