package model

import "fmt"

// App is the unit of deployment: a set of services, networks and volumes
// under one appId. IsTarget discriminates a target-state App (as declared)
// from a current-state App (as observed on the engine); the planner treats
// the two asymmetrically.
type App struct {
	AppID    int
	AppUUID  string
	Services []Service
	Networks map[string]Network
	Volumes  map[string]Volume
	IsTarget bool
}

// ServiceByName returns the service with the given name, if present.
func (a App) ServiceByName(name string) (Service, bool) {
	for _, s := range a.Services {
		if s.ServiceName == name {
			return s, true
		}
	}
	return Service{}, false
}

// ServiceNames returns the set of service names present in the app.
func (a App) ServiceNames() map[string]struct{} {
	out := make(map[string]struct{}, len(a.Services))
	for _, s := range a.Services {
		out[s.ServiceName] = struct{}{}
	}
	return out
}

// ReferencesVolume reports whether any service in the app references the
// named volume.
func (a App) ReferencesVolume(name string) bool {
	for _, s := range a.Services {
		if s.ReferencesVolume(name) {
			return true
		}
	}
	return false
}

// ReferencesNetwork reports whether any service in the app references the
// named network.
func (a App) ReferencesNetwork(name string) bool {
	for _, s := range a.Services {
		if s.ReferencesNetwork(name) {
			return true
		}
	}
	return false
}

// ReferencesImage reports whether any service in the app is currently
// configured to use the given image reference.
func (a App) ReferencesImage(imageName string) bool {
	for _, s := range a.Services {
		if s.Config.Image == imageName || s.ImageName == imageName {
			return true
		}
	}
	return false
}

// Validate checks App-level invariants: unique service names, dependsOn
// resolving within the app, and (for Networks/Volumes) structural validity.
// It does not check for dependency cycles — see planner.CheckAcyclic, which
// is run once at target-ingest time.
func (a App) Validate() error {
	seen := make(map[string]bool, len(a.Services))
	names := a.ServiceNames()
	for _, s := range a.Services {
		if seen[s.ServiceName] {
			return fmt.Errorf("%w: duplicate service %q in app %d", ErrInvalidServiceConfiguration, s.ServiceName, a.AppID)
		}
		seen[s.ServiceName] = true
		if err := s.Validate(); err != nil {
			return err
		}
		for _, dep := range s.DependsOn {
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("%w: service %q depends on unknown sibling %q", ErrInvalidServiceConfiguration, s.ServiceName, dep)
			}
		}
	}
	for _, n := range a.Networks {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	for _, v := range a.Volumes {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
