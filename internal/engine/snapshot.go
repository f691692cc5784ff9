package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"

	"github.com/cfilipov/edged/internal/model"
)

// supervisedFilter restricts engine listings to objects this agent owns.
func supervisedFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", model.LabelSupervised+"=true"))
}

// Snapshot lists every supervised container, network, and volume on the
// engine and folds them into model.App values keyed by appId, the current
// state the reconcile loop diffs against target.
func (e *SDKEngine) Snapshot(ctx context.Context) ([]model.App, error) {
	apps := map[int]*model.App{}

	appFor := func(appID int) *model.App {
		a, ok := apps[appID]
		if !ok {
			a = &model.App{AppID: appID, Networks: map[string]model.Network{}, Volumes: map[string]model.Volume{}}
			apps[appID] = a
		}
		return a
	}

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: supervisedFilter()})
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot containers: %w", err)
	}
	for _, c := range containers {
		svc, err := serviceFromSummary(c)
		if err != nil {
			continue // not one of ours despite the label filter (stale/malformed labels)
		}
		a := appFor(svc.AppID)
		a.Services = append(a.Services, svc)
	}

	networks, err := e.cli.NetworkList(ctx, network.ListOptions{Filters: supervisedFilter()})
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot networks: %w", err)
	}
	for _, n := range networks {
		var ipam model.IPAM
		for _, c := range n.IPAM.Config {
			ipam.Configs = append(ipam.Configs, model.IPAMEntry{Subnet: c.Subnet, Gateway: c.Gateway})
		}
		nm, err := model.NetworkFromEngineObject(n.Name, n.Driver, ipam, n.EnableIPv6, n.Internal, n.Labels, n.Options)
		if err != nil {
			continue
		}
		appFor(nm.AppID).Networks[nm.Name] = nm
	}

	volumes, err := e.cli.VolumeList(ctx, volume.ListOptions{Filters: supervisedFilter()})
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot volumes: %w", err)
	}
	for _, v := range volumes.Volumes {
		vm, err := model.VolumeFromEngineObject(v.Name, v.Driver, v.Options, v.Labels)
		if err != nil {
			continue
		}
		appFor(vm.AppID).Volumes[vm.Name] = vm
	}

	out := make([]model.App, 0, len(apps))
	for _, a := range apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out, nil
}

// AvailableImages lists every locally-present image, for building a
// model.Context to feed the planner. Only Name and DockerImageID are
// populated: the engine has no notion of our AppID/ServiceID/ReleaseID
// bookkeeping for an arbitrary local image, and internal/inventory's
// matching only ever looks at those two fields.
func (e *SDKEngine) AvailableImages(ctx context.Context) ([]model.Image, error) {
	images, err := e.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("engine: list images: %w", err)
	}

	var out []model.Image
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == "<none>:<none>" {
				continue
			}
			out = append(out, model.Image{
				Name:          tag,
				DockerImageID: img.ID,
				Status:        model.ImageDownloaded,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// serviceFromSummary reconstructs a current-state Service from a container
// list entry. Full declarative config (env, volumes, networks) isn't
// carried on the summary listing; the reconcile loop treats anything beyond
// image/running/labels as settled once a container exists; a recreate is
// only driven by a change it can actually observe here or via
// ContainerInspect in a follow-up call when a step needs it.
func serviceFromSummary(c container.Summary) (model.Service, error) {
	appID, err := strconv.Atoi(c.Labels[model.LabelAppID])
	if err != nil {
		return model.Service{}, fmt.Errorf("engine: container %s missing/invalid app-id label", c.ID)
	}
	serviceName := c.Labels[model.LabelServiceName]
	if serviceName == "" {
		return model.Service{}, fmt.Errorf("engine: container %s missing service-name label", c.ID)
	}
	serviceID, _ := strconv.Atoi(c.Labels[model.LabelServiceID])
	releaseID, _ := strconv.Atoi(c.Labels[model.LabelReleaseID])

	cfg := model.Config{
		Image:   c.Image,
		Labels:  c.Labels,
		Running: c.State == "running",
	}

	svc := model.ServiceFromEngineObject(c.ID, c.Labels, cfg, statusFromState(c.State), nil, appID, serviceID, releaseID, serviceName, c.Image)
	return svc, nil
}

// statusFromState maps Docker's container state string onto the lifecycle
// Status the planner reasons over.
func statusFromState(state string) model.Status {
	switch state {
	case "running":
		return model.StatusRunning
	case "paused", "restarting":
		return model.StatusRunning
	case "removing":
		return model.StatusStopping
	case "exited":
		return model.StatusStopped
	case "dead":
		return model.StatusDead
	default:
		return model.StatusInstalled
	}
}
