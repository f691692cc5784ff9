// Package targetstore sources target App state from a directory of
// per-app YAML files on local disk, for devices operating without a
// cloud connection.
package targetstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cfilipov/edged/internal/model"
)

// acceptedFileNames are the file names checked, in order, inside each
// app subdirectory of the target directory.
var acceptedFileNames = []string{"app.yaml", "app.yml", "target.yaml", "target.yml"}

// appDoc is the on-disk shape of one app's target state.
type appDoc struct {
	AppID    int                  `yaml:"appId"`
	AppUUID  string               `yaml:"appUuid"`
	Services map[string]serviceDoc `yaml:"services"`
	Networks map[string]networkDoc `yaml:"networks"`
	Volumes  map[string]volumeDoc  `yaml:"volumes"`
}

type serviceDoc struct {
	Image         string                       `yaml:"image"`
	ServiceID     int                          `yaml:"serviceId"`
	ReleaseID     int                          `yaml:"releaseId"`
	ImageID       int                          `yaml:"imageId"`
	Privileged    bool                         `yaml:"privileged"`
	Env           map[string]string            `yaml:"env"`
	Volumes       []volumeMountDoc             `yaml:"volumes"`
	Networks      map[string]networkAttachDoc `yaml:"networks"`
	RestartPolicy string                       `yaml:"restartPolicy"`
	Labels        map[string]string            `yaml:"labels"`
	DependsOn     []string                     `yaml:"dependsOn"`
}

type volumeMountDoc struct {
	VolumeName string `yaml:"volumeName"`
	Path       string `yaml:"path"`
	ReadOnly   bool   `yaml:"readOnly"`
}

type networkAttachDoc struct {
	IPv4Address string   `yaml:"ipv4Address"`
	IPv6Address string   `yaml:"ipv6Address"`
	Aliases     []string `yaml:"aliases"`
}

type networkDoc struct {
	Driver     string            `yaml:"driver"`
	IPAM       ipamDoc           `yaml:"ipam"`
	EnableIPv6 bool              `yaml:"enableIpv6"`
	Internal   bool              `yaml:"internal"`
	Labels     map[string]string `yaml:"labels"`
	Options    map[string]string `yaml:"options"`
}

type ipamDoc struct {
	Driver  string      `yaml:"driver"`
	Configs []ipamEntry `yaml:"configs"`
}

type ipamEntry struct {
	Subnet     string `yaml:"subnet"`
	Gateway    string `yaml:"gateway"`
	IPRange    string `yaml:"ipRange"`
	AuxAddress string `yaml:"auxAddress"`
}

type volumeDoc struct {
	Driver     string            `yaml:"driver"`
	DriverOpts map[string]string `yaml:"driverOpts"`
	Labels     map[string]string `yaml:"labels"`
}

// Load reads every app subdirectory of dir and decodes its target file
// into a model.App, sorted by AppID. A subdirectory without a recognized
// target file is skipped.
func Load(dir string) ([]model.App, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("targetstore: read %s: %w", dir, err)
	}

	var apps []model.App
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := findTargetFile(filepath.Join(dir, entry.Name()))
		if path == "" {
			continue
		}
		app, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("targetstore: %s: %w", entry.Name(), err)
		}
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].AppID < apps[j].AppID })
	return apps, nil
}

// findTargetFile returns the first accepted target file name present in
// appDir, or "" if none exist.
func findTargetFile(appDir string) string {
	for _, name := range acceptedFileNames {
		path := filepath.Join(appDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFile(path string) (model.App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.App{}, fmt.Errorf("read: %w", err)
	}

	var doc appDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.App{}, fmt.Errorf("parse: %w", err)
	}
	return toApp(doc)
}

func toApp(doc appDoc) (model.App, error) {
	app := model.App{
		AppID:    doc.AppID,
		AppUUID:  doc.AppUUID,
		Networks: map[string]model.Network{},
		Volumes:  map[string]model.Volume{},
		IsTarget: true,
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sd := doc.Services[name]
		cfg := model.Config{
			Image:         sd.Image,
			Privileged:    sd.Privileged,
			Env:           sd.Env,
			RestartPolicy: sd.RestartPolicy,
			Labels:        sd.Labels,
			Running:       true,
		}
		for _, v := range sd.Volumes {
			cfg.Volumes = append(cfg.Volumes, model.VolumeMount{
				VolumeName: v.VolumeName,
				Path:       v.Path,
				ReadOnly:   v.ReadOnly,
			})
		}
		if len(sd.Networks) > 0 {
			cfg.Networks = map[string]model.NetworkAttachment{}
			for netName, na := range sd.Networks {
				cfg.Networks[netName] = model.NetworkAttachment{
					IPv4Address: na.IPv4Address,
					IPv6Address: na.IPv6Address,
					Aliases:     na.Aliases,
				}
			}
		}
		svc := model.ServiceFromComposeObject(doc.AppID, doc.AppUUID, name, sd.ReleaseID, sd.ServiceID, sd.ImageID, sd.Image, cfg, sd.DependsOn)
		app.Services = append(app.Services, svc)
	}

	for name, nd := range doc.Networks {
		var ipam model.IPAM
		ipam.Driver = nd.IPAM.Driver
		for _, c := range nd.IPAM.Configs {
			ipam.Configs = append(ipam.Configs, model.IPAMEntry{
				Subnet:     c.Subnet,
				Gateway:    c.Gateway,
				IPRange:    c.IPRange,
				AuxAddress: c.AuxAddress,
			})
		}
		app.Networks[name] = model.NetworkFromComposeObject(doc.AppID, doc.AppUUID, name, nd.Driver, ipam, nd.EnableIPv6, nd.Internal, nd.Labels, nd.Options)
	}

	for name, vd := range doc.Volumes {
		app.Volumes[name] = model.VolumeFromComposeObject(doc.AppID, doc.AppUUID, name, vd.Driver, vd.DriverOpts, vd.Labels)
	}

	if doc.AppID == 0 {
		return model.App{}, fmt.Errorf("appId missing or zero")
	}
	return app, nil
}

// isTargetFileName reports whether name is one of the accepted target
// file names, used by the watcher to filter uninteresting fs events.
func isTargetFileName(name string) bool {
	for _, accepted := range acceptedFileNames {
		if strings.EqualFold(name, accepted) {
			return true
		}
	}
	return false
}
