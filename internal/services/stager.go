package services

import (
	"context"
	"fmt"
	"time"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
)

// Stager makes a customer image's snapshot data accessible to the scanning
// account: grant, cross-account copy, and the image-copy fallback for
// privately shared images.
type Stager struct {
	store       *repos.Store
	cloud       cloud.API
	runner      Runner
	provisioner *Provisioner
}

// NewStager creates a stager that hands completed snapshot copies to the
// given provisioner.
func NewStager(store *repos.Store, cloudAPI cloud.API, runner Runner, provisioner *Provisioner) *Stager {
	return &Stager{store: store, cloud: cloudAPI, runner: runner, provisioner: provisioner}
}

// StartInspection moves an image into preparing and submits the snapshot
// staging task. It is the shared entry point for the describer, the
// reconciler and the restart sweep.
func (s *Stager) StartInspection(ctx context.Context, roleARN, amiID, region string) error {
	changed, err := s.store.Images.SetStatus(ctx, amiID, models.ImageStatusPreparing)
	if err != nil {
		return err
	}
	if !changed {
		image, err := s.store.Images.GetByEC2AMIID(ctx, amiID)
		if repos.IsNotFound(err) {
			logger.Infof("Image %s gone before inspection started, skipping", amiID)
			return nil
		}
		if err != nil {
			return err
		}
		if image.Status != models.ImageStatusPreparing {
			logger.Infof("Image %s is %s, not restarting inspection", amiID, image.Status)
			return nil
		}
	}
	s.runner.Submit(taskName("stage_snapshot", amiID), func(ctx context.Context) error {
		return s.CopySnapshot(ctx, roleARN, amiID, region, "")
	})
	return nil
}

// CopySnapshot stages the snapshot behind amiID into the scanning account.
// When amiID is itself a copy made for a privately shared image,
// referenceAMIID names the original image that all status updates and
// results attach to.
func (s *Stager) CopySnapshot(ctx context.Context, roleARN, amiID, region, referenceAMIID string) error {
	targetAMIID := amiID
	if referenceAMIID != "" {
		targetAMIID = referenceAMIID
	}

	exists, err := s.store.Images.Exists(ctx, targetAMIID)
	if err != nil {
		return err
	}
	if !exists {
		logger.Infof("Image %s gone before staging, skipping", targetAMIID)
		return nil
	}

	image, err := s.cloud.GetImage(ctx, roleARN, region, amiID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return s.markError(ctx, targetAMIID, fmt.Sprintf("image %s not visible to account", amiID))
		}
		return fmt.Errorf("failed to describe image %s: %w", amiID, err)
	}

	snapshotID, err := s.cloud.GetImageSnapshotID(ctx, roleARN, region, amiID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return s.markError(ctx, targetAMIID, fmt.Sprintf("image %s has no root snapshot", amiID))
		}
		return fmt.Errorf("failed to resolve snapshot of image %s: %w", amiID, err)
	}

	snapshot, err := s.cloud.GetSnapshot(ctx, roleARN, region, snapshotID)
	if err != nil {
		if cloud.IsNotFound(err) {
			if referenceAMIID == "" {
				return s.copyImageFirst(ctx, roleARN, amiID, region)
			}
			return s.markError(ctx, targetAMIID, fmt.Sprintf("snapshot %s inaccessible even via image copy", snapshotID))
		}
		return fmt.Errorf("failed to describe snapshot %s: %w", snapshotID, err)
	}

	if snapshot.Encrypted {
		logger.Infof("Image %s has encrypted snapshot %s, cannot inspect", targetAMIID, snapshotID)
		if err := s.store.Images.SetEncrypted(ctx, targetAMIID); err != nil {
			return err
		}
		_, err := s.store.Images.SetStatus(ctx, targetAMIID, models.ImageStatusError)
		return err
	}

	// A snapshot owned by a third party means the image was privately shared
	// with the customer. Copy the image into the customer account first.
	if referenceAMIID == "" && snapshot.OwnerID != cloud.AccountIDFromARN(roleARN) {
		return s.copyImageFirst(ctx, roleARN, amiID, region)
	}

	if err := s.cloud.AddSnapshotGrant(ctx, roleARN, region, snapshotID); err != nil {
		return fmt.Errorf("failed to grant access to snapshot %s: %w", snapshotID, err)
	}

	copyID, err := s.cloud.CopySnapshot(ctx, snapshotID, region)
	if err != nil {
		return s.resolveCopyFailure(ctx, targetAMIID, image, err)
	}

	s.runner.Submit(taskName("remove_snapshot_grant", snapshotID), func(ctx context.Context) error {
		return s.RemoveSnapshotGrant(ctx, roleARN, snapshotID, region, copyID)
	})
	s.runner.Submit(taskName("create_volume", targetAMIID), func(ctx context.Context) error {
		return s.provisioner.CreateVolume(ctx, targetAMIID, copyID)
	})
	return nil
}

// resolveCopyFailure turns a snapshot-copy refusal into a terminal status.
// Marketplace refusals, and storage refusals on public images, mean the
// image is a marketplace image we will never hold data for: mark it
// inspected with the marketplace flag. Storage refusals on private images
// are unrecoverable errors. Anything else is left to the retry policy.
func (s *Stager) resolveCopyFailure(ctx context.Context, targetAMIID string, image *cloud.Image, err error) error {
	switch cloud.Classify(err).Kind {
	case cloud.KindMarketplaceRestricted:
		return s.markMarketplace(ctx, targetAMIID)
	case cloud.KindStorageInaccessible:
		if image.Public {
			return s.markMarketplace(ctx, targetAMIID)
		}
		return s.markError(ctx, targetAMIID, "private image storage is inaccessible")
	default:
		return fmt.Errorf("failed to copy snapshot for image %s: %w", targetAMIID, err)
	}
}

// copyImageFirst falls back to copying the whole image into the customer
// account. At most one copy per original image is ever made.
func (s *Stager) copyImageFirst(ctx context.Context, roleARN, referenceAMIID, region string) error {
	existing, err := s.store.Images.GetCopyForReference(ctx, referenceAMIID)
	if err == nil {
		logger.Infof("Image copy %s already in progress for %s", existing.EC2AMIID, referenceAMIID)
		return nil
	}
	if !repos.IsNotFound(err) {
		return err
	}
	s.runner.Submit(taskName("copy_image", referenceAMIID), func(ctx context.Context) error {
		return s.CopyImage(ctx, roleARN, referenceAMIID, region)
	})
	return nil
}

// CopyImage copies a privately shared image into the customer account and
// restages against the copy, threading the original image id through so
// results attach to it.
func (s *Stager) CopyImage(ctx context.Context, roleARN, referenceAMIID, region string) error {
	exists, err := s.store.Images.Exists(ctx, referenceAMIID)
	if err != nil {
		return err
	}
	if !exists {
		logger.Infof("Image %s gone before copy, skipping", referenceAMIID)
		return nil
	}

	name := fmt.Sprintf("imagescout copy of %s", referenceAMIID)
	copyID, err := s.cloud.CopyImage(ctx, roleARN, region, referenceAMIID, name)
	if err != nil {
		if cloud.IsKind(err, cloud.KindMarketplaceRestricted) {
			return s.markMarketplace(ctx, referenceAMIID)
		}
		return fmt.Errorf("failed to copy image %s: %w", referenceAMIID, err)
	}

	err = s.store.Images.CreateCopy(ctx, &models.MachineImageCopy{
		EC2AMIID:          copyID,
		ReferenceEC2AMIID: referenceAMIID,
	})
	if err != nil {
		return err
	}

	s.runner.Submit(taskName("stage_snapshot", copyID), func(ctx context.Context) error {
		return s.CopySnapshot(ctx, roleARN, copyID, region, referenceAMIID)
	})
	return nil
}

// RemoveSnapshotGrant revokes the scanning account's temporary access to the
// customer snapshot once the copy is durable. The customer deleting their
// snapshot in the meantime is not an error.
func (s *Stager) RemoveSnapshotGrant(ctx context.Context, roleARN, customerSnapshotID, region, snapshotCopyID string) error {
	if err := s.cloud.WaitSnapshotCompleted(ctx, snapshotCopyID); err != nil {
		if !cloud.IsNotFound(err) {
			return fmt.Errorf("failed to confirm snapshot copy %s: %w", snapshotCopyID, err)
		}
		// Copy already cleaned up downstream; still drop the grant.
	}
	if err := s.cloud.RemoveSnapshotGrant(ctx, roleARN, region, customerSnapshotID); err != nil {
		if cloud.IsNotFound(err) {
			logger.Infof("Snapshot %s already deleted, grant is gone with it", customerSnapshotID)
			return nil
		}
		return fmt.Errorf("failed to remove grant on snapshot %s: %w", customerSnapshotID, err)
	}
	return nil
}

// InspectPendingImages re-submits staging for images that never progressed,
// typically after a crash or deploy. Only images older than minAge are
// touched so in-flight work is left alone.
func (s *Stager) InspectPendingImages(ctx context.Context, minAge time.Duration) error {
	images, err := s.store.Images.ListStalePending(ctx, time.Now().Add(-minAge))
	if err != nil {
		return err
	}
	for _, image := range images {
		account, err := s.store.Accounts.GetByAWSAccountID(ctx, image.OwnerAccountID)
		if err != nil {
			if repos.IsNotFound(err) {
				logger.Warnf("No account %s for stale image %s, skipping", image.OwnerAccountID, image.EC2AMIID)
				continue
			}
			return err
		}
		if !account.Enabled {
			continue
		}
		logger.Infof("Restarting inspection of stale image %s", image.EC2AMIID)
		if err := s.StartInspection(ctx, account.RoleARN, image.EC2AMIID, image.Region); err != nil {
			logger.Errorf("Failed to restart inspection of %s: %v", image.EC2AMIID, err)
		}
	}
	return nil
}

func (s *Stager) markMarketplace(ctx context.Context, amiID string) error {
	logger.Infof("Image %s is a marketplace image, skipping inspection", amiID)
	if err := s.store.Images.SetMarketplace(ctx, amiID); err != nil {
		return err
	}
	_, err := s.store.Images.SetInspected(ctx, amiID, nil)
	return err
}

func (s *Stager) markError(ctx context.Context, amiID, reason string) error {
	logger.Warnf("Image %s cannot be inspected: %s", amiID, reason)
	_, err := s.store.Images.SetStatus(ctx, amiID, models.ImageStatusError)
	return err
}
