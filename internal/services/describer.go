package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imagescout/imagescout/internal/audit"
	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
)

// Describer performs the initial discovery sweep over a customer account:
// every instance and image becomes an entity, running instances get their
// first power_on event, and new images enter the staging pipeline.
type Describer struct {
	store  *repos.Store
	cloud  cloud.API
	stager *Stager
}

// NewDescriber creates a describer that feeds new images to the stager
func NewDescriber(store *repos.Store, cloudAPI cloud.API, stager *Stager) *Describer {
	return &Describer{store: store, cloud: cloudAPI, stager: stager}
}

// imageFromDescribe builds the entity for a freshly described image.
// Windows images are saved already inspected since the scan container only
// reads Linux filesystems; classification tags are captured up front.
func imageFromDescribe(image cloud.Image, region string) *models.MachineImage {
	windows := strings.EqualFold(image.Platform, "windows")
	status := models.ImageStatusPending
	if windows {
		status = models.ImageStatusInspected
	}
	_, rhelTag := image.Tags[audit.TagRHEL]
	_, openShiftTag := image.Tags[audit.TagOpenShift]
	return &models.MachineImage{
		EC2AMIID:          image.ID,
		Status:            status,
		Name:              image.Name,
		OwnerAccountID:    image.OwnerID,
		Region:            region,
		WindowsDetected:   windows,
		RHELDetectedByTag: rhelTag,
		OpenShiftDetected: openShiftTag,
	}
}

// DescribeAccountInstances discovers everything currently in the account.
func (d *Describer) DescribeAccountInstances(ctx context.Context, account *models.CloudAccount) error {
	byRegion, err := d.cloud.DescribeAccountInstances(ctx, account.RoleARN)
	if err != nil {
		return fmt.Errorf("failed to describe account %s: %w", account.AWSAccountID, err)
	}

	now := time.Now().UTC()
	for region, instances := range byRegion {
		if err := d.describeRegion(ctx, account, region, instances, now); err != nil {
			return err
		}
	}
	return nil
}

func (d *Describer) describeRegion(ctx context.Context, account *models.CloudAccount, region string, instances []cloud.Instance, now time.Time) error {
	imageIDs := make([]string, 0, len(instances))
	seen := make(map[string]bool)
	for _, instance := range instances {
		if instance.ImageID != "" && !seen[instance.ImageID] {
			seen[instance.ImageID] = true
			imageIDs = append(imageIDs, instance.ImageID)
		}
	}

	described, err := d.cloud.DescribeImages(ctx, account.RoleARN, region, imageIDs)
	if err != nil {
		return fmt.Errorf("failed to describe images in %s: %w", region, err)
	}

	imageRowIDs := make(map[string]uint)
	for _, img := range described {
		entity := imageFromDescribe(img, region)
		created, err := d.store.Images.GetOrCreate(ctx, entity)
		if err != nil {
			return err
		}
		imageRowIDs[img.ID] = entity.ID
		if created && entity.Status == models.ImageStatusPending {
			if err := d.stager.StartInspection(ctx, account.RoleARN, img.ID, region); err != nil {
				return err
			}
		}
	}

	for _, instance := range instances {
		entity := &models.Instance{
			AccountID:     account.ID,
			EC2InstanceID: instance.ID,
			Region:        region,
		}
		if rowID, ok := imageRowIDs[instance.ImageID]; ok {
			entity.ImageID = &rowID
		}
		if _, err := d.store.Instances.GetOrCreate(ctx, entity); err != nil {
			return err
		}
		if entity.ImageID == nil {
			if rowID, ok := imageRowIDs[instance.ImageID]; ok {
				if err := d.store.Instances.SetImageID(ctx, entity.ID, rowID); err != nil {
					return err
				}
			}
		}
		if instance.State != cloud.InstanceStateRunning {
			continue
		}
		event := &models.InstanceEvent{
			InstanceID: entity.ID,
			EventType:  models.EventTypePowerOn,
			OccurredAt: now,
		}
		if instance.Type != "" {
			event.InstanceType = &instance.Type
		}
		if instance.ImageID != "" {
			event.EC2AMIID = &instance.ImageID
		}
		if instance.SubnetID != "" {
			event.SubnetID = &instance.SubnetID
		}
		if err := d.store.Instances.CreateEvent(ctx, event); err != nil {
			return err
		}
	}
	logger.Infof("Described %d instances and %d images in %s for account %s",
		len(instances), len(described), region, account.AWSAccountID)
	return nil
}
