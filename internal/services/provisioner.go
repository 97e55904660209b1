package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
)

// Provisioner turns completed snapshot copies into volumes in the scanning
// availability zone and feeds ready volumes to the work queue.
type Provisioner struct {
	cloud   cloud.API
	runner  Runner
	volumes *queue.VolumeQueue
	zone    string
}

// NewProvisioner creates a provisioner bound to one availability zone
func NewProvisioner(cloudAPI cloud.API, runner Runner, volumes *queue.VolumeQueue, zone string) *Provisioner {
	return &Provisioner{cloud: cloudAPI, runner: runner, volumes: volumes, zone: zone}
}

// CreateVolume creates a volume from the snapshot copy and schedules the two
// independent follow-ups: deleting the snapshot copy and enqueueing the
// ready volume. Each follow-up waits on provider-reported state and retries
// on its own, so a transient describe failure never loses the volume.
func (p *Provisioner) CreateVolume(ctx context.Context, amiID, snapshotCopyID string) error {
	volumeID, err := p.cloud.CreateVolume(ctx, snapshotCopyID, p.zone)
	if err != nil {
		if cloud.IsNotFound(err) {
			logger.Infof("Snapshot copy %s gone before volume creation, skipping", snapshotCopyID)
			return nil
		}
		return fmt.Errorf("failed to create volume from snapshot %s: %w", snapshotCopyID, err)
	}

	p.runner.Submit(taskName("delete_snapshot", snapshotCopyID), func(ctx context.Context) error {
		return p.DeleteSnapshot(ctx, snapshotCopyID, volumeID)
	})
	p.runner.Submit(taskName("enqueue_ready_volume", volumeID), func(ctx context.Context) error {
		return p.EnqueueReadyVolume(ctx, amiID, volumeID)
	})
	return nil
}

// DeleteSnapshot deletes the snapshot copy once its volume is ready. The
// copy having been deleted already is not an error.
func (p *Provisioner) DeleteSnapshot(ctx context.Context, snapshotCopyID, volumeID string) error {
	if err := p.cloud.WaitVolumeAvailable(ctx, volumeID); err != nil {
		if !cloud.IsNotFound(err) {
			return fmt.Errorf("failed waiting for volume %s: %w", volumeID, err)
		}
		// Volume gone means nothing will ever need the snapshot again.
	}
	if err := p.cloud.DeleteSnapshot(ctx, snapshotCopyID); err != nil {
		if cloud.IsNotFound(err) {
			logger.Infof("Snapshot copy %s already deleted", snapshotCopyID)
			return nil
		}
		return fmt.Errorf("failed to delete snapshot copy %s: %w", snapshotCopyID, err)
	}
	return nil
}

// EnqueueReadyVolume waits for the volume to become available and puts it on
// the ready-volumes work queue.
func (p *Provisioner) EnqueueReadyVolume(ctx context.Context, amiID, volumeID string) error {
	if err := p.cloud.WaitVolumeAvailable(ctx, volumeID); err != nil {
		if cloud.IsNotFound(err) {
			logger.Infof("Volume %s gone before enqueue, skipping", volumeID)
			return nil
		}
		return fmt.Errorf("failed waiting for volume %s: %w", volumeID, err)
	}
	return p.volumes.Add(ctx, []queue.VolumeMessage{{ImageID: amiID, VolumeID: volumeID}})
}
