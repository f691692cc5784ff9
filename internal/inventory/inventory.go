// Package inventory answers the two questions the app planner needs about
// image availability: is an image present locally, and is it currently
// being fetched.
package inventory

import (
	"strings"

	"github.com/cfilipov/edged/internal/model"
)

// View is a read-only adapter over a Context's image inventory.
type View struct {
	ctx model.Context
}

// New builds an inventory View over the given context.
func New(ctx model.Context) View {
	return View{ctx: ctx}
}

// IsAvailable reports whether an image matching the service's configured
// image reference is already present locally, either by exact digest match
// or by registry-name equivalence (IsSameImage).
func (v View) IsAvailable(svc model.Service) bool {
	ref := svc.Config.Image
	for _, img := range v.ctx.AvailableImages {
		if img.Status != model.ImageDownloaded {
			continue
		}
		if img.DockerImageID != "" && img.DockerImageID == ref {
			return true
		}
		if IsSameImage(img.Name, ref) {
			return true
		}
	}
	return false
}

// IsDownloading reports whether the service's image is currently being
// fetched.
func (v View) IsDownloading(svc model.Service) bool {
	return v.ctx.IsDownloading(svc.ImageID)
}

// FindAvailable returns the locally-available Image matching ref, if any.
func (v View) FindAvailable(ref string) (model.Image, bool) {
	for _, img := range v.ctx.AvailableImages {
		if img.Status != model.ImageDownloaded {
			continue
		}
		if img.DockerImageID == ref || IsSameImage(img.Name, ref) {
			return img, true
		}
	}
	return model.Image{}, false
}

// IsSameImage reports whether a and b refer to the same image once each is
// normalized: strip any registry host prefix and optional @digest suffix,
// and compare the canonical repo:tag form. Two references are considered
// the same image if their canonical forms match, or if either side's
// digest suffix appears verbatim in the other (covers a tag-form reference
// compared against a digest-pinned one referring to the same content).
func IsSameImage(a, b string) bool {
	if a == b {
		return true
	}
	canonA, digestA := canonicalize(a)
	canonB, digestB := canonicalize(b)
	if canonA == canonB {
		return true
	}
	if digestA != "" && strings.Contains(b, digestA) {
		return true
	}
	if digestB != "" && strings.Contains(a, digestB) {
		return true
	}
	return false
}

// canonicalize strips a registry/repository host prefix (anything before
// the last '/' that itself contains a '.' or ':', the conventional
// signal that a path segment is a registry host rather than a namespace)
// and separates any "@sha256:..." digest suffix, returning the bare
// "repo:tag" (or "repo" with an implied "latest" tag) plus the digest if
// present.
func canonicalize(ref string) (canonical string, digest string) {
	name := ref
	if at := strings.Index(name, "@"); at != -1 {
		digest = name[at+1:]
		name = name[:at]
	}

	if slash := strings.LastIndex(name, "/"); slash != -1 {
		head := name[:slash]
		// Only strip the head if it looks like a registry host, i.e. the
		// first path segment contains a '.' or ':' (a domain or
		// host:port), per the usual Docker reference convention.
		firstSeg := head
		if i := strings.Index(head, "/"); i != -1 {
			firstSeg = head[:i]
		}
		if strings.ContainsAny(firstSeg, ".:") {
			name = name[slash+1:]
		}
	}

	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	return name, digest
}
