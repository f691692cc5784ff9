package model

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Status is the lifecycle state of a Service.
type Status string

const (
	StatusInstalling Status = "Installing"
	StatusInstalled  Status = "Installed"
	StatusRunning    Status = "Running"
	StatusStopping   Status = "Stopping"
	StatusStopped    Status = "Stopped"
	StatusDead       Status = "Dead"
	StatusHandover   Status = "Handover"
)

// VolumeMount is one entry of a service's declared volumes list.
type VolumeMount struct {
	VolumeName string
	Path       string
	ReadOnly   bool
}

// NetworkAttachment is one entry of a service's declared networks mapping.
type NetworkAttachment struct {
	IPv4Address string
	IPv6Address string
	Aliases     []string
}

// Config is the declarative container configuration carried by a Service.
// Equality over Config (with labels normalized) is what the planner uses to
// decide whether a service needs only a metadata update or a full recreate.
type Config struct {
	Image         string
	Labels        map[string]string
	Privileged    bool
	Env           map[string]string
	Volumes       []VolumeMount
	Networks      map[string]NetworkAttachment
	Running       bool
	RestartPolicy string
}

// Service is a single container specification belonging to an App, keyed by
// (AppID, ServiceName, ReleaseID).
type Service struct {
	AppID       int
	ServiceName string
	ReleaseID   int

	ServiceID   int
	ImageID     int
	ImageName   string
	ContainerID string // set only for current-state services with a container

	Config    Config
	Status    Status
	CreatedAt time.Time
	DependsOn []string // sibling service names, same app
}

// Validate checks that a Running/Stopping/Dead service carries a container
// id.
func (s Service) Validate() error {
	switch s.Status {
	case StatusRunning, StatusStopping, StatusDead:
		if s.ContainerID == "" {
			return fmt.Errorf("%w: service %q status %s requires a container id", ErrInvalidServiceConfiguration, s.ServiceName, s.Status)
		}
	}
	return nil
}

// normalizedConfig returns a copy of cfg with io.balena.* labels stripped,
// used by every config-equality comparison below.
func normalizedConfig(cfg Config) Config {
	out := cfg
	out.Labels = StripSupervisorLabels(cfg.Labels)
	return out
}

// IsEqualConfig reports whether two services have byte-for-byte equal
// declarative configuration once supervisor-owned labels are stripped. This
// is full structural equality, including the Running flag.
func (s Service) IsEqualConfig(other Service) bool {
	return reflect.DeepEqual(normalizedConfig(s.Config), normalizedConfig(other.Config))
}

// IsEqualExceptForRunningAndRelease reports whether two services would
// produce the same container if started, ignoring the Running flag and
// release metadata (ReleaseID/ImageID). A false result means a material
// change: the container must be recreated rather than merely updated or
// toggled running/stopped.
func (s Service) IsEqualExceptForRunningAndRelease(other Service) bool {
	a := normalizedConfig(s.Config)
	b := normalizedConfig(other.Config)
	a.Running, b.Running = false, false
	return reflect.DeepEqual(a, b)
}

// ReferencesVolume reports whether the service's declared volumes list
// includes name.
func (s Service) ReferencesVolume(name string) bool {
	for _, v := range s.Config.Volumes {
		if v.VolumeName == name {
			return true
		}
	}
	return false
}

// ReferencesNetwork reports whether the service's declared networks mapping
// includes name.
func (s Service) ReferencesNetwork(name string) bool {
	_, ok := s.Config.Networks[name]
	return ok
}

// SortServicesByName returns a copy of services sorted by ServiceName, for
// deterministic iteration when producing step batches.
func SortServicesByName(services []Service) []Service {
	out := make([]Service, len(services))
	copy(out, services)
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}
