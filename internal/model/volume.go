package model

import (
	"fmt"
	"reflect"
)

// Volume is identified by (AppID, Name) within an App.
type Volume struct {
	AppID      int
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
}

// Validate checks that Name is non-empty; the engine-naming form is
// validated at the adapter boundary via ParseEngineObjectName.
func (v Volume) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: empty volume name", ErrInvalidVolumeName)
	}
	return nil
}

// IsEqualConfig reports whether two volumes have identical configuration
// once supervisor-owned labels are stripped.
func (v Volume) IsEqualConfig(other Volume) bool {
	a, b := v, other
	a.Labels = StripSupervisorLabels(v.Labels)
	b.Labels = StripSupervisorLabels(other.Labels)
	return reflect.DeepEqual(a, b)
}

// VolumeFromComposeObject builds a target-state Volume from a decoded
// compose-like volume definition.
func VolumeFromComposeObject(appID int, appUUID, name, driver string, driverOpts, labels map[string]string) Volume {
	merged := SupervisedLabels(appUUID)
	for k, v := range labels {
		merged[k] = v
	}
	return Volume{
		AppID:      appID,
		Name:       name,
		Driver:     driver,
		DriverOpts: driverOpts,
		Labels:     merged,
	}
}

// VolumeFromEngineObject reconstructs a current-state Volume from the
// engine's "<appId>_<name>" naming scheme plus its reported configuration.
func VolumeFromEngineObject(engineName, driver string, driverOpts, labels map[string]string) (Volume, error) {
	appID, name, err := ParseEngineObjectName(engineName)
	if err != nil {
		return Volume{}, err
	}
	return Volume{
		AppID:      appID,
		Name:       name,
		Driver:     driver,
		DriverOpts: driverOpts,
		Labels:     labels,
	}, nil
}
