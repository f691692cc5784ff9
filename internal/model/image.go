package model

// ImageStatus is the lifecycle state of an Image.
type ImageStatus string

const (
	ImageDownloading ImageStatus = "Downloading"
	ImageDownloaded  ImageStatus = "Downloaded"
	ImageDeleting    ImageStatus = "Deleting"
)

// Image is a single image descriptor, one per (AppID, ServiceID, ReleaseID)
// in Downloaded status at most.
type Image struct {
	ImageID          int
	AppID            int
	ServiceID        int
	ServiceName      string
	ReleaseID        int
	Name             string // registry reference, e.g. "repo/app:tag"
	DockerImageID    string // content digest; set iff Status == ImageDownloaded
	Status           ImageStatus
	DownloadProgress *int // 0-100, nil when not downloading
}

// Validate checks DockerImageID is present iff the image is Downloaded.
func (img Image) Validate() error {
	hasDigest := img.DockerImageID != ""
	if (img.Status == ImageDownloaded) != hasDigest {
		return ErrImageNotFound
	}
	return nil
}
