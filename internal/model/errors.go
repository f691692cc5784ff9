// Package model holds the immutable domain value types the planner operates
// on: App, Service, Network, Volume, Image and the runtime Context, along
// with the equality and validation predicates used to diff them.
package model

import "errors"

// Sentinel errors raised while adapting engine/compose data into domain
// values. The planner itself never returns these — they surface at the
// value-construction boundary (see package docs).
var (
	ErrInvalidAppID                = errors.New("model: invalid app id")
	ErrInvalidNetworkName          = errors.New("model: invalid network name")
	ErrInvalidVolumeName           = errors.New("model: invalid volume name")
	ErrInvalidNetworkConfiguration = errors.New("model: invalid network configuration")
	ErrInvalidServiceConfiguration = errors.New("model: invalid service configuration")
	ErrImageNotFound               = errors.New("model: image not found")
	ErrUnknownUpdateStrategy       = errors.New("model: unknown update strategy")
	ErrCyclicDependency            = errors.New("model: cyclic service dependency")
)
