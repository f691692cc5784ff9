// Package engine adapts the reconciliation planner's step vocabulary and
// current-state needs onto the Docker Engine API: SDKEngine talks
// to a real daemon, MockEngine keeps an in-memory world for tests.
package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/cfilipov/edged/internal/model"
)

// SDKEngine implements executor.Engine and the current-state Snapshot
// provider against a real Docker daemon.
type SDKEngine struct {
	cli *client.Client
}

// New connects to the Docker daemon via the default socket (DOCKER_HOST or
// /var/run/docker.sock).
func New() (*SDKEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: connect: %w", err)
	}
	return &SDKEngine{cli: cli}, nil
}

// NewWithHost connects to a specific Docker host, e.g. for a remote or
// test daemon.
func NewWithHost(host string) (*SDKEngine, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: connect %s: %w", host, err)
	}
	return &SDKEngine{cli: cli}, nil
}

func (e *SDKEngine) Close() error { return e.cli.Close() }

// Fetch pulls the target image reference.
func (e *SDKEngine) Fetch(ctx context.Context, img model.Image) error {
	rc, err := e.cli.ImagePull(ctx, img.Name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("engine: fetch %s: %w", img.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("engine: fetch %s: %w", img.Name, err)
	}
	return nil
}

// RemoveImage removes a locally available image by its engine id, falling
// back to its reference when no id was recorded.
func (e *SDKEngine) RemoveImage(ctx context.Context, img model.Image) error {
	ref := img.DockerImageID
	if ref == "" {
		ref = img.Name
	}
	if _, err := e.cli.ImageRemove(ctx, ref, image.RemoveOptions{}); err != nil {
		return fmt.Errorf("engine: removeImage %s: %w", ref, err)
	}
	return nil
}

func (e *SDKEngine) CreateNetwork(ctx context.Context, n model.Network) error {
	name := model.EngineObjectName(n.AppID, n.Name)
	opts := network.CreateOptions{
		Driver:     n.Driver,
		EnableIPv6: &n.EnableIPv6,
		Internal:   n.Internal,
		Labels:     n.Labels,
		Options:    n.Options,
	}
	if len(n.IPAM.Configs) > 0 {
		ipam := &network.IPAM{Driver: n.IPAM.Driver}
		for _, c := range n.IPAM.Configs {
			ipam.Config = append(ipam.Config, network.IPAMConfig{
				Subnet:     c.Subnet,
				Gateway:    c.Gateway,
				IPRange:    c.IPRange,
				AuxAddress: map[string]string{},
			})
		}
		opts.IPAM = ipam
	}
	if _, err := e.cli.NetworkCreate(ctx, name, opts); err != nil {
		return fmt.Errorf("engine: createNetwork %s: %w", name, err)
	}
	return nil
}

func (e *SDKEngine) RemoveNetwork(ctx context.Context, n model.Network) error {
	name := model.EngineObjectName(n.AppID, n.Name)
	if err := e.cli.NetworkRemove(ctx, name); err != nil {
		return fmt.Errorf("engine: removeNetwork %s: %w", name, err)
	}
	return nil
}

func (e *SDKEngine) CreateVolume(ctx context.Context, v model.Volume) error {
	name := model.EngineObjectName(v.AppID, v.Name)
	_, err := e.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:       name,
		Driver:     v.Driver,
		DriverOpts: v.DriverOpts,
		Labels:     v.Labels,
	})
	if err != nil {
		return fmt.Errorf("engine: createVolume %s: %w", name, err)
	}
	return nil
}

func (e *SDKEngine) RemoveVolume(ctx context.Context, v model.Volume) error {
	name := model.EngineObjectName(v.AppID, v.Name)
	if err := e.cli.VolumeRemove(ctx, name, false); err != nil {
		return fmt.Errorf("engine: removeVolume %s: %w", name, err)
	}
	return nil
}

// Start creates the container if it doesn't exist yet and starts it.
func (e *SDKEngine) Start(ctx context.Context, svc model.Service) error {
	id := svc.ContainerID
	if id == "" {
		var err error
		id, err = e.createContainer(ctx, svc)
		if err != nil {
			return err
		}
	}
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("engine: start %s: %w", svc.ServiceName, err)
	}
	return nil
}

func (e *SDKEngine) createContainer(ctx context.Context, svc model.Service) (string, error) {
	name := model.EngineObjectName(svc.AppID, svc.ServiceName) + "_" + strconv.Itoa(svc.ReleaseID)

	labels := map[string]string{}
	for k, v := range svc.Config.Labels {
		labels[k] = v
	}
	labels[model.LabelAppID] = strconv.Itoa(svc.AppID)
	labels[model.LabelServiceName] = svc.ServiceName
	labels[model.LabelServiceID] = strconv.Itoa(svc.ServiceID)
	labels[model.LabelReleaseID] = strconv.Itoa(svc.ReleaseID)

	var env []string
	for k, v := range svc.Config.Env {
		env = append(env, k+"="+v)
	}

	var binds []string
	for _, m := range svc.Config.Volumes {
		spec := model.EngineObjectName(svc.AppID, m.VolumeName) + ":" + m.Path
		if m.ReadOnly {
			spec += ":ro"
		}
		binds = append(binds, spec)
	}

	hostCfg := &container.HostConfig{
		Binds:       binds,
		Privileged:  svc.Config.Privileged,
		NetworkMode: container.NetworkMode(model.EngineObjectName(svc.AppID, "default")),
	}
	if svc.Config.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(svc.Config.RestartPolicy)}
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:  svc.Config.Image,
		Env:    env,
		Labels: labels,
	}, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("engine: create %s: %w", svc.ServiceName, err)
	}
	return resp.ID, nil
}

func (e *SDKEngine) Stop(ctx context.Context, svc model.Service) error {
	timeout := 10
	if err := e.cli.ContainerStop(ctx, svc.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("engine: stop %s: %w", svc.ServiceName, err)
	}
	return nil
}

func (e *SDKEngine) Kill(ctx context.Context, svc model.Service) error {
	if err := e.cli.ContainerKill(ctx, svc.ContainerID, "SIGKILL"); err != nil {
		return fmt.Errorf("engine: kill %s: %w", svc.ServiceName, err)
	}
	return nil
}

func (e *SDKEngine) Remove(ctx context.Context, svc model.Service) error {
	if err := e.cli.ContainerRemove(ctx, svc.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("engine: remove %s: %w", svc.ServiceName, err)
	}
	return nil
}

// UpdateMetadata handles a release/image-only change: Docker containers
// can't be relabeled live, so this renames the container to reflect the
// new release and leaves the running process untouched. The label values
// themselves are persisted by internal/state and reapplied the next time
// the container is folded into current state.
func (e *SDKEngine) UpdateMetadata(ctx context.Context, current, target model.Service) error {
	name := model.EngineObjectName(target.AppID, target.ServiceName) + "_" + strconv.Itoa(target.ReleaseID)
	if err := e.cli.ContainerRename(ctx, current.ContainerID, name); err != nil {
		return fmt.Errorf("engine: updateMetadata %s: %w", target.ServiceName, err)
	}
	return nil
}

// Handover carries no container-level effect of its own: it signals the
// reconcile loop that the new container is running and the old one is
// cleared to shut down, which the loop mirrors into internal/state so the
// next round observes the old service as StatusHandover.
func (e *SDKEngine) Handover(ctx context.Context, current, target model.Service) error {
	return nil
}

func (e *SDKEngine) Restart(ctx context.Context, svc model.Service) error {
	timeout := 10
	if err := e.cli.ContainerRestart(ctx, svc.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("engine: restart %s: %w", svc.ServiceName, err)
	}
	return nil
}
