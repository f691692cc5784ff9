// Package step defines the closed set of composition actions the planner
// may emit. A Step is a pure value; execution belongs to an external
// step-runner (internal/executor).
package step

import "github.com/cfilipov/edged/internal/model"

// Action identifies which of the fourteen composition actions a Step
// carries. Each Action has exactly one valid payload shape, documented on
// the corresponding constructor below.
type Action string

const (
	ActionFetch          Action = "fetch"
	ActionRemoveImage    Action = "removeImage"
	ActionCreateNetwork  Action = "createNetwork"
	ActionRemoveNetwork  Action = "removeNetwork"
	ActionCreateVolume   Action = "createVolume"
	ActionRemoveVolume   Action = "removeVolume"
	ActionStart          Action = "start"
	ActionStop           Action = "stop"
	ActionKill           Action = "kill"
	ActionRemove         Action = "remove"
	ActionUpdateMetadata Action = "updateMetadata"
	ActionHandover       Action = "handover"
	ActionRestart        Action = "restart"
	ActionNoop           Action = "noop"
)

// Step is a single composition step. Exactly the fields relevant to Action
// are populated; the smart constructors below are the only supported way
// to build one, so an impossible payload (e.g. a "kill" carrying a target
// Service) cannot be constructed through this package.
type Step struct {
	Action Action

	// Image-targeted actions (fetch, removeImage).
	Image model.Image

	// Network-targeted actions (createNetwork takes Target, removeNetwork
	// takes Current).
	Network model.Network

	// Volume-targeted actions (createVolume takes Target, removeVolume
	// takes Current).
	Volume model.Volume

	// Service-targeted actions. Current/Target are populated according to
	// the table in package doc: start/updateMetadata/handover use Target
	// (and, for updateMetadata/handover, Current too); stop/kill/remove/
	// restart use Current only.
	CurrentService model.Service
	TargetService  model.Service
}

// Fetch emits a fetch step for the given target image descriptor.
func Fetch(img model.Image) Step { return Step{Action: ActionFetch, Image: img} }

// RemoveImage emits a removeImage step for the given image descriptor.
func RemoveImage(img model.Image) Step { return Step{Action: ActionRemoveImage, Image: img} }

// CreateNetwork emits a createNetwork step for the given target Network.
func CreateNetwork(n model.Network) Step { return Step{Action: ActionCreateNetwork, Network: n} }

// RemoveNetwork emits a removeNetwork step for the given current Network.
func RemoveNetwork(n model.Network) Step { return Step{Action: ActionRemoveNetwork, Network: n} }

// CreateVolume emits a createVolume step for the given target Volume.
func CreateVolume(v model.Volume) Step { return Step{Action: ActionCreateVolume, Volume: v} }

// RemoveVolume emits a removeVolume step for the given current Volume.
func RemoveVolume(v model.Volume) Step { return Step{Action: ActionRemoveVolume, Volume: v} }

// Start emits a start step for the given target Service.
func Start(s model.Service) Step { return Step{Action: ActionStart, TargetService: s} }

// Stop emits a stop step for the given current Service.
func Stop(s model.Service) Step { return Step{Action: ActionStop, CurrentService: s} }

// Kill emits a kill step for the given current Service.
func Kill(s model.Service) Step { return Step{Action: ActionKill, CurrentService: s} }

// Remove emits a remove step for the given current Service (used to purge
// a Dead container).
func Remove(s model.Service) Step { return Step{Action: ActionRemove, CurrentService: s} }

// UpdateMetadata emits an updateMetadata step for a (current, target)
// Service pair whose only difference is release metadata.
func UpdateMetadata(current, target model.Service) Step {
	return Step{Action: ActionUpdateMetadata, CurrentService: current, TargetService: target}
}

// Handover emits a handover step for a (current, target) Service pair
// undergoing a hand-over strategy cutover.
func Handover(current, target model.Service) Step {
	return Step{Action: ActionHandover, CurrentService: current, TargetService: target}
}

// Restart emits a restart step for the given current Service.
func Restart(s model.Service) Step { return Step{Action: ActionRestart, CurrentService: s} }

// Noop emits a no-op step: the signal that progress is blocked but legal,
// distinct from an empty batch (which signals fixpoint reached).
func Noop() Step { return Step{Action: ActionNoop} }
