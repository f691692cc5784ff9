package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cfilipov/edged/internal/model"
)

// MockEngine is an in-memory stand-in for SDKEngine: it implements
// executor.Engine and Snapshot without a daemon, for tests and local
// development.
type MockEngine struct {
	mu        sync.RWMutex
	services  map[string]model.Service // containerID -> service
	networks  map[string]model.Network // "<appId>_<name>" -> network
	volumes   map[string]model.Volume  // "<appId>_<name>" -> volume
	images    map[string]model.Image   // name -> image
	nextID    int
	Fail      map[string]error // action -> error, injected failures for tests
}

// NewMock returns an empty MockEngine.
func NewMock() *MockEngine {
	return &MockEngine{
		services: map[string]model.Service{},
		networks: map[string]model.Network{},
		volumes:  map[string]model.Volume{},
		images:   map[string]model.Image{},
		Fail:     map[string]error{},
	}
}

func (m *MockEngine) failure(action string) error {
	if err, ok := m.Fail[action]; ok {
		return err
	}
	return nil
}

func (m *MockEngine) Fetch(ctx context.Context, img model.Image) error {
	if err := m.failure("fetch"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	img.Status = model.ImageDownloaded
	if img.DockerImageID == "" {
		img.DockerImageID = "sha256:mock-" + img.Name
	}
	m.images[img.Name] = img
	return nil
}

func (m *MockEngine) RemoveImage(ctx context.Context, img model.Image) error {
	if err := m.failure("removeImage"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, img.Name)
	return nil
}

func (m *MockEngine) CreateNetwork(ctx context.Context, n model.Network) error {
	if err := m.failure("createNetwork"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks[model.EngineObjectName(n.AppID, n.Name)] = n
	return nil
}

func (m *MockEngine) RemoveNetwork(ctx context.Context, n model.Network) error {
	if err := m.failure("removeNetwork"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.networks, model.EngineObjectName(n.AppID, n.Name))
	return nil
}

func (m *MockEngine) CreateVolume(ctx context.Context, v model.Volume) error {
	if err := m.failure("createVolume"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[model.EngineObjectName(v.AppID, v.Name)] = v
	return nil
}

func (m *MockEngine) RemoveVolume(ctx context.Context, v model.Volume) error {
	if err := m.failure("removeVolume"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.volumes, model.EngineObjectName(v.AppID, v.Name))
	return nil
}

func (m *MockEngine) Start(ctx context.Context, svc model.Service) error {
	if err := m.failure("start"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc.ContainerID == "" {
		m.nextID++
		svc.ContainerID = fmt.Sprintf("mock-%d", m.nextID)
	}
	svc.Status = model.StatusRunning
	svc.Config.Running = true
	m.services[svc.ContainerID] = svc
	return nil
}

func (m *MockEngine) Stop(ctx context.Context, svc model.Service) error {
	if err := m.failure("stop"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[svc.ContainerID]; ok {
		s.Status = model.StatusStopped
		s.Config.Running = false
		m.services[svc.ContainerID] = s
	}
	return nil
}

func (m *MockEngine) Kill(ctx context.Context, svc model.Service) error {
	if err := m.failure("kill"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, svc.ContainerID)
	return nil
}

func (m *MockEngine) Remove(ctx context.Context, svc model.Service) error {
	if err := m.failure("remove"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, svc.ContainerID)
	return nil
}

func (m *MockEngine) UpdateMetadata(ctx context.Context, current, target model.Service) error {
	if err := m.failure("updateMetadata"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[current.ContainerID]
	if !ok {
		return fmt.Errorf("engine: updateMetadata: unknown container %s", current.ContainerID)
	}
	s.ReleaseID = target.ReleaseID
	s.ImageID = target.ImageID
	s.ImageName = target.ImageName
	m.services[current.ContainerID] = s
	return nil
}

func (m *MockEngine) Handover(ctx context.Context, current, target model.Service) error {
	return m.failure("handover")
}

func (m *MockEngine) Restart(ctx context.Context, svc model.Service) error {
	if err := m.failure("restart"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[svc.ContainerID]; ok {
		s.Status = model.StatusRunning
		s.Config.Running = true
		m.services[svc.ContainerID] = s
	}
	return nil
}

// Snapshot folds the mock's in-memory world into model.App values, the
// same shape SDKEngine.Snapshot produces from a real daemon.
func (m *MockEngine) Snapshot(ctx context.Context) ([]model.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apps := map[int]*model.App{}
	appFor := func(appID int) *model.App {
		a, ok := apps[appID]
		if !ok {
			a = &model.App{AppID: appID, Networks: map[string]model.Network{}, Volumes: map[string]model.Volume{}}
			apps[appID] = a
		}
		return a
	}

	for _, s := range m.services {
		a := appFor(s.AppID)
		a.Services = append(a.Services, s)
	}
	for _, n := range m.networks {
		appFor(n.AppID).Networks[n.Name] = n
	}
	for _, v := range m.volumes {
		appFor(v.AppID).Volumes[v.Name] = v
	}

	out := make([]model.App, 0, len(apps))
	for _, a := range apps {
		a.Services = model.SortServicesByName(a.Services)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out, nil
}

// AvailableImages returns the images the mock considers locally present,
// for building a model.Context to feed the planner in tests. ctx is unused;
// it's present to satisfy the same interface as SDKEngine.AvailableImages.
func (m *MockEngine) AvailableImages(ctx context.Context) ([]model.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Image, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
