package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/config"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
)

// Dispatcher attaches ready volumes to the single inspection host and
// launches the scan container against them.
type Dispatcher struct {
	store *repos.Store
	cloud cloud.API
	cfg   config.Scanner
}

// NewDispatcher creates a dispatcher from the scanner configuration
func NewDispatcher(store *repos.Store, cloudAPI cloud.API, cfg config.Scanner) *Dispatcher {
	return &Dispatcher{store: store, cloud: cloudAPI, cfg: cfg}
}

// RunInspection dispatches one batch of ready volumes. It is idempotent per
// batch: images already past inspection, or deleted since enqueue, drop out
// of the batch instead of failing it.
func (d *Dispatcher) RunInspection(ctx context.Context, batch []queue.VolumeMessage) error {
	surviving := make([]queue.VolumeMessage, 0, len(batch))
	for _, msg := range batch {
		changed, err := d.store.Images.SetStatus(ctx, msg.ImageID, models.ImageStatusInspecting)
		if err != nil {
			return err
		}
		if !changed {
			logger.Infof("Image %s no longer needs inspection, discarding volume %s", msg.ImageID, msg.VolumeID)
			continue
		}
		surviving = append(surviving, msg)
	}

	if len(surviving) == 0 {
		logger.Info("Nothing in batch needs inspection, scaling down")
		return d.scaleDown(ctx)
	}

	hostID, err := d.resolveHost(ctx)
	if err != nil {
		return err
	}

	command := []string{"-c", "aws"}
	if d.cfg.Debug {
		command = append(command, "--debug")
	}
	attached := 0
	for _, msg := range surviving {
		device := cloud.DeviceName(attached)
		if err := d.cloud.AttachVolume(ctx, msg.VolumeID, hostID, device); err != nil {
			if err := d.resolveAttachFailure(ctx, msg, err); err != nil {
				return err
			}
			continue
		}
		if err := d.cloud.SetVolumeAutoDelete(ctx, hostID, device); err != nil {
			return fmt.Errorf("failed to set delete-on-termination for %s: %w", device, err)
		}
		command = append(command, "-t", msg.ImageID, device)
		attached++
	}

	if attached == 0 {
		logger.Info("No volumes survived attachment, scaling down without a scan")
		return d.scaleDown(ctx)
	}

	taskARN, err := d.cloud.RegisterScanTask(ctx, cloud.ScanTask{
		Family:  d.cfg.ECSFamily,
		Image:   fmt.Sprintf("%s:%s", d.cfg.ScanImage, d.cfg.ScanImageTag),
		Command: command,
		Env: map[string]string{
			"AWS_DEFAULT_REGION":    d.cfg.Region,
			"AWS_ACCESS_KEY_ID":     d.cfg.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY": d.cfg.SecretAccessKey,
			"RESULTS_QUEUE_NAME":    d.cfg.ResultsQueue,
			"EXCHANGE_NAME":         d.cfg.ResultsExchange,
			"QUEUE_CONNECTION_URL":  d.cfg.QueueConnectionURL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register scan task: %w", err)
	}
	if err := d.cloud.RunScanTask(ctx, d.cfg.ECSCluster, taskARN); err != nil {
		return fmt.Errorf("failed to run scan task: %w", err)
	}
	logger.Infof("Scan task launched on %s for %d volumes", hostID, attached)
	return nil
}

// resolveHost returns the one running inspection host. Zero or multiple
// hosts is a cluster-management invariant violation and fails the cycle
// loudly instead of guessing.
func (d *Dispatcher) resolveHost(ctx context.Context) (string, error) {
	hosts, err := d.cloud.ListClusterHosts(ctx, d.cfg.ECSCluster)
	if err != nil {
		return "", fmt.Errorf("failed to list cluster hosts: %w", err)
	}
	if len(hosts) != 1 {
		return "", fmt.Errorf("expected exactly one inspection host in cluster %s, found %d", d.cfg.ECSCluster, len(hosts))
	}
	return hosts[0], nil
}

// resolveAttachFailure handles a failed volume attach. A marketplace or
// wrong-state refusal means the volume belongs to a marketplace image that
// is already effectively inspected; anything else is an inspection error.
// The volume is deleted either way.
func (d *Dispatcher) resolveAttachFailure(ctx context.Context, msg queue.VolumeMessage, attachErr error) error {
	switch cloud.Classify(attachErr).Kind {
	case cloud.KindMarketplaceRestricted, cloud.KindInvalidState:
		logger.Infof("Volume %s belongs to marketplace image %s: %v", msg.VolumeID, msg.ImageID, attachErr)
		if err := d.store.Images.SetMarketplace(ctx, msg.ImageID); err != nil {
			return err
		}
		if _, err := d.store.Images.SetInspected(ctx, msg.ImageID, nil); err != nil {
			return err
		}
	default:
		logger.Warnf("Failed to attach volume %s for image %s: %v", msg.VolumeID, msg.ImageID, attachErr)
		if _, err := d.store.Images.SetStatus(ctx, msg.ImageID, models.ImageStatusError); err != nil {
			return err
		}
	}
	if err := d.cloud.DeleteVolume(ctx, msg.VolumeID); err != nil && !cloud.IsNotFound(err) {
		return fmt.Errorf("failed to delete volume %s: %w", msg.VolumeID, err)
	}
	return nil
}

func (d *Dispatcher) scaleDown(ctx context.Context) error {
	if err := d.cloud.SetGroupCapacity(ctx, d.cfg.AutoScalingGroup, 0); err != nil {
		return fmt.Errorf("failed to scale down group %s: %w", d.cfg.AutoScalingGroup, err)
	}
	return nil
}
