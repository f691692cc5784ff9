package model

import (
	"fmt"
	"reflect"
)

// IPAMEntry is one subnet/gateway pair of a Network's IPAM configuration.
type IPAMEntry struct {
	Subnet     string
	Gateway    string
	IPRange    string
	AuxAddress string
}

// IPAM is a Network's IP address management configuration.
type IPAM struct {
	Driver  string
	Configs []IPAMEntry
}

// Network is identified by (AppID, Name) within an App.
type Network struct {
	AppID      int
	Name       string
	Driver     string
	IPAM       IPAM
	EnableIPv6 bool
	Internal   bool
	Labels     map[string]string
	Options    map[string]string
}

// DefaultNetwork synthesizes the "default" bridge network the app planner
// guarantees exists for every app with at least one service.
func DefaultNetwork(appID int, appUUID string) Network {
	return Network{
		AppID:  appID,
		Name:   "default",
		Driver: "bridge",
		Labels: SupervisedLabels(appUUID),
	}
}

// Validate checks that every IPAM entry carries both subnet and gateway,
// and that Name conforms to the engine naming scheme once qualified.
func (n Network) Validate() error {
	for _, c := range n.IPAM.Configs {
		if c.Subnet == "" || c.Gateway == "" {
			return fmt.Errorf("%w: network %q ipam entry missing subnet or gateway", ErrInvalidNetworkConfiguration, n.Name)
		}
	}
	if n.Name == "" {
		return fmt.Errorf("%w: empty network name", ErrInvalidNetworkName)
	}
	return nil
}

// IsEqualConfig reports whether two networks have identical configuration
// once supervisor-owned labels are stripped.
func (n Network) IsEqualConfig(other Network) bool {
	a, b := n, other
	a.Labels = StripSupervisorLabels(n.Labels)
	b.Labels = StripSupervisorLabels(other.Labels)
	return reflect.DeepEqual(a, b)
}

// FromComposeObject builds a target-state Network from a compose-like
// network definition already decoded into the given fields.
func NetworkFromComposeObject(appID int, appUUID, name string, driver string, ipam IPAM, enableIPv6, internal bool, labels, options map[string]string) Network {
	merged := SupervisedLabels(appUUID)
	for k, v := range labels {
		merged[k] = v
	}
	return Network{
		AppID:      appID,
		Name:       name,
		Driver:     driver,
		IPAM:       ipam,
		EnableIPv6: enableIPv6,
		Internal:   internal,
		Labels:     merged,
		Options:    options,
	}
}

// NetworkFromEngineObject reconstructs a current-state Network from the
// engine's "<appId>_<name>" naming scheme plus its reported configuration.
func NetworkFromEngineObject(engineName string, driver string, ipam IPAM, enableIPv6, internal bool, labels, options map[string]string) (Network, error) {
	appID, name, err := ParseEngineObjectName(engineName)
	if err != nil {
		return Network{}, err
	}
	return Network{
		AppID:      appID,
		Name:       name,
		Driver:     driver,
		IPAM:       ipam,
		EnableIPv6: enableIPv6,
		Internal:   internal,
		Labels:     labels,
		Options:    options,
	}, nil
}
