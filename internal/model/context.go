package model

// Context is the runtime view passed into the planner alongside current and
// target state. It is read-only from the planner's perspective; the outer
// loop is responsible for keeping ContainerStarted and Downloading current
// (see internal/state and internal/engine).
type Context struct {
	// LocalMode disables cloud-driven removals (cross-app image/app pruning)
	// when true.
	LocalMode bool

	// AvailableImages is the set of images currently present on the engine's
	// local disk, used by the image inventory view (internal/inventory).
	AvailableImages []Image

	// ContainerIDs maps serviceName to containerId for the current app,
	// mirroring what's observed on the engine.
	ContainerIDs map[string]string

	// Downloading is the set of imageId values whose fetch is in flight.
	Downloading map[int]bool

	// ContainerStarted is the process-wide memo of containerId values the
	// outer loop has asked to start since they were last observed Running.
	// The planner reads it to avoid re-emitting start; it never writes it.
	ContainerStarted map[string]bool
}

// IsDownloading reports whether imageID is in the in-flight download set.
func (c Context) IsDownloading(imageID int) bool {
	return c.Downloading[imageID]
}

// HasRequestedStart reports whether the outer loop has already asked
// containerID to start since it was last observed Running.
func (c Context) HasRequestedStart(containerID string) bool {
	return containerID != "" && c.ContainerStarted[containerID]
}
