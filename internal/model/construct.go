package model

// ServiceFromComposeObject builds a target-state Service from a decoded
// compose-like service definition. appUUID and releaseID come from the
// owning App/release the compose object was resolved against.
func ServiceFromComposeObject(appID int, appUUID, serviceName string, releaseID, serviceID, imageID int, imageName string, cfg Config, dependsOn []string) Service {
	labels := SupervisedLabels(appUUID)
	labels[LabelServiceName] = serviceName
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	cfg.Labels = labels
	return Service{
		AppID:       appID,
		ServiceName: serviceName,
		ReleaseID:   releaseID,
		ServiceID:   serviceID,
		ImageID:     imageID,
		ImageName:   imageName,
		Config:      cfg,
		Status:      StatusInstalling,
		DependsOn:   dependsOn,
	}
}

// ServiceFromEngineObject reconstructs a current-state Service from engine
// container data already decoded into the given fields, using the label
// contract to recover appId/serviceId/releaseId.
func ServiceFromEngineObject(containerID string, labels map[string]string, cfg Config, status Status, dependsOn []string, appID, serviceID, releaseID int, serviceName, imageName string) Service {
	return Service{
		AppID:       appID,
		ServiceName: serviceName,
		ReleaseID:   releaseID,
		ServiceID:   serviceID,
		ImageName:   imageName,
		ContainerID: containerID,
		Config:      cfg,
		Status:      status,
		DependsOn:   dependsOn,
	}
}
