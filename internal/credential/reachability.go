package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// DeviceSource looks devices up by ID. It is satisfied by *device.Registry.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// ImageLoader reads an enrolment photo by blob reference. It is satisfied by
// *blob.FileStore.
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Target is everything a provisioning fan-out needs for one credential.
type Target struct {
	Credential Credential
	Owner      *User
	Subject    Subject

	// Devices is the deduplicated set of devices the owner's access groups
	// reach, ordered by name. Empty for unassigned credentials and for
	// owners without groups.
	Devices []device.Device
}

// Resolver walks credential → owner → access groups → devices.
type Resolver struct {
	repo    Repository
	devices DeviceSource
	images  ImageLoader
}

// NewResolver creates a Resolver. images may be nil, in which case FACE
// subjects are provisioned without a photo.
func NewResolver(repo Repository, devices DeviceSource, images ImageLoader) *Resolver {
	return &Resolver{repo: repo, devices: devices, images: images}
}

// Resolve builds the provisioning target for credentialID.
//
// Returns ErrNotFound when the credential does not exist. A dangling owner
// reference is treated as unassigned.
func (r *Resolver) Resolve(ctx context.Context, credentialID string) (*Target, error) {
	cred, err := r.repo.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	target := &Target{Credential: *cred, Devices: []device.Device{}}
	if cred.UserID != nil {
		owner, err := r.repo.GetUser(ctx, *cred.UserID)
		switch {
		case err == nil:
			target.Owner = owner
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("loading owner: %w", err)
		}
	}

	target.Subject = NewSubject(cred, target.Owner)
	if cred.Type == TypeFace && cred.ImageRef != nil && r.images != nil {
		img, err := r.images.Load(ctx, *cred.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("loading face image: %w", err)
		}
		target.Subject.Image = img
	}

	if target.Owner == nil {
		return target, nil
	}

	target.Devices, err = r.ReachableDevices(ctx, target.Owner.ID)
	if err != nil {
		return nil, err
	}
	return target, nil
}

// ReachableDevices returns the union of the devices in every access group
// userID belongs to. A device reached through several groups appears once.
// Memberships pointing at deleted devices are skipped.
func (r *Resolver) ReachableDevices(ctx context.Context, userID string) ([]device.Device, error) {
	groupIDs, err := r.repo.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading access groups: %w", err)
	}

	seen := make(map[string]bool)
	devices := []device.Device{}
	for _, groupID := range groupIDs {
		deviceIDs, err := r.repo.DeviceIDsForGroup(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("loading devices of group %s: %w", groupID, err)
		}

		for _, id := range deviceIDs {
			if seen[id] {
				continue
			}
			seen[id] = true

			d, err := r.devices.GetDevice(ctx, id)
			if err != nil {
				if errors.Is(err, device.ErrDeviceNotFound) {
					continue
				}
				return nil, fmt.Errorf("loading device %s: %w", id, err)
			}
			devices = append(devices, *d)
		}
	}

	device.SortByName(devices)
	return devices, nil
}
