package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/audit"
	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
)

// Reconciler consumes the audit feed: it parses activity log objects,
// back-fills missing references with grouped describe calls, and commits the
// resulting entity changes in one transaction per feed message. All provider
// calls happen before the transaction opens so a slow describe never holds a
// write transaction.
type Reconciler struct {
	store     *repos.Store
	cloud     cloud.API
	client    queue.Client
	stager    *Stager
	queueName string
	batchSize int
}

// NewReconciler creates a reconciler reading the named audit feed queue
func NewReconciler(store *repos.Store, cloudAPI cloud.API, client queue.Client, stager *Stager, queueName string, batchSize int) *Reconciler {
	return &Reconciler{
		store:     store,
		cloud:     cloudAPI,
		client:    client,
		stager:    stager,
		queueName: queueName,
		batchSize: batchSize,
	}
}

// Process runs one reconciliation cycle. Each feed message is handled and
// acknowledged independently: a failing message stays queued for redelivery
// without blocking the rest of the batch.
func (r *Reconciler) Process(ctx context.Context) error {
	messages, err := r.client.Receive(ctx, r.queueName, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to receive audit feed messages: %w", err)
	}

	for _, msg := range messages {
		if queue.IsS3TestEvent(msg.Body) {
			logger.Debug("Discarding S3 test event from audit feed")
			if err := r.client.Delete(ctx, r.queueName, msg.Receipt); err != nil {
				return fmt.Errorf("failed to delete test event: %w", err)
			}
			continue
		}
		if err := r.processMessage(ctx, msg.Body); err != nil {
			logger.Errorf("Failed to process audit feed message %s: %v", msg.ID, err)
			continue
		}
		if err := r.client.Delete(ctx, r.queueName, msg.Receipt); err != nil {
			return fmt.Errorf("failed to acknowledge audit feed message: %w", err)
		}
	}
	return nil
}

// groupKey batches describe calls: one provider call per account and region.
type groupKey struct {
	awsAccountID string
	region       string
}

// stageRequest is an image that needs the pipeline started after commit.
type stageRequest struct {
	roleARN string
	amiID   string
	region  string
}

func (r *Reconciler) processMessage(ctx context.Context, body string) error {
	refs, err := queue.ExtractObjectRefs(body)
	if err != nil {
		return err
	}

	var instanceEvents []audit.InstanceEvent
	var tagEvents []audit.TagEvent
	for _, ref := range refs {
		content, err := r.cloud.GetObject(ctx, ref.Bucket, ref.Key)
		if err != nil {
			return fmt.Errorf("failed to fetch log object %s/%s: %w", ref.Bucket, ref.Key, err)
		}
		ie, te, err := audit.ParseLog(content)
		if err != nil {
			return err
		}
		instanceEvents = append(instanceEvents, ie...)
		tagEvents = append(tagEvents, te...)
	}

	accounts, err := r.loadAccounts(ctx, instanceEvents, tagEvents)
	if err != nil {
		return err
	}
	instanceEvents = filterKnownAccounts(instanceEvents, accounts)
	tagEvents = filterTagEventsKnownAccounts(tagEvents, accounts)
	if len(instanceEvents) == 0 && len(tagEvents) == 0 {
		return nil
	}

	if err := r.backfillInstanceEvents(ctx, instanceEvents, accounts); err != nil {
		return err
	}
	newImages, placeholders, stages, err := r.resolveImages(ctx, instanceEvents, tagEvents, accounts)
	if err != nil {
		return err
	}

	// Resolution is done; no provider calls beyond this point.
	err = r.store.Transaction(ctx, func(tx *repos.Store) error {
		return r.commit(ctx, tx, instanceEvents, tagEvents, newImages, placeholders, accounts)
	})
	if err != nil {
		return err
	}

	for _, stage := range stages {
		if err := r.stager.StartInspection(ctx, stage.roleARN, stage.amiID, stage.region); err != nil {
			logger.Errorf("Failed to start inspection of %s: %v", stage.amiID, err)
		}
	}
	return nil
}

// loadAccounts maps every AWS account id seen in the events to its stored
// account. Unknown accounts simply do not appear in the result.
func (r *Reconciler) loadAccounts(ctx context.Context, instanceEvents []audit.InstanceEvent, tagEvents []audit.TagEvent) (map[string]*models.CloudAccount, error) {
	accounts := make(map[string]*models.CloudAccount)
	lookup := func(awsAccountID string) error {
		if _, done := accounts[awsAccountID]; done || awsAccountID == "" {
			return nil
		}
		account, err := r.store.Accounts.GetByAWSAccountID(ctx, awsAccountID)
		if repos.IsNotFound(err) {
			logger.Debugf("Ignoring audit events for untracked account %s", awsAccountID)
			accounts[awsAccountID] = nil
			return nil
		}
		if err != nil {
			return err
		}
		if !account.Enabled {
			accounts[awsAccountID] = nil
			return nil
		}
		accounts[awsAccountID] = account
		return nil
	}
	for _, event := range instanceEvents {
		if err := lookup(event.AccountID); err != nil {
			return nil, err
		}
	}
	for _, event := range tagEvents {
		if err := lookup(event.AccountID); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func filterKnownAccounts(events []audit.InstanceEvent, accounts map[string]*models.CloudAccount) []audit.InstanceEvent {
	kept := events[:0]
	for _, event := range events {
		if accounts[event.AccountID] != nil {
			kept = append(kept, event)
		}
	}
	return kept
}

func filterTagEventsKnownAccounts(events []audit.TagEvent, accounts map[string]*models.CloudAccount) []audit.TagEvent {
	kept := events[:0]
	for _, event := range events {
		if accounts[event.AccountID] != nil {
			kept = append(kept, event)
		}
	}
	return kept
}

// backfillInstanceEvents fills missing image ids and instance types, first
// from other events in the same batch, then from stored instances, and only
// then with one describe call per (account, region) group. An instance type
// that is still unknown afterwards stays unknown.
func (r *Reconciler) backfillInstanceEvents(ctx context.Context, events []audit.InstanceEvent, accounts map[string]*models.CloudAccount) error {
	knownAMI := make(map[string]string)
	knownType := make(map[string]string)
	for _, event := range events {
		if event.ImageID != "" {
			knownAMI[event.InstanceID] = event.ImageID
		}
		if event.InstanceType != "" {
			knownType[event.InstanceID] = event.InstanceType
		}
	}

	unresolved := make(map[groupKey][]string)
	for i := range events {
		event := &events[i]
		if event.ImageID == "" {
			event.ImageID = knownAMI[event.InstanceID]
		}
		if event.InstanceType == "" {
			event.InstanceType = knownType[event.InstanceID]
		}
		if event.ImageID != "" {
			continue
		}

		instance, err := r.store.Instances.GetByEC2InstanceID(ctx, event.InstanceID)
		if err == nil && instance.ImageID != nil {
			image, err := r.store.Images.GetByID(ctx, *instance.ImageID)
			if err != nil {
				return err
			}
			event.ImageID = image.EC2AMIID
			knownAMI[event.InstanceID] = image.EC2AMIID
			continue
		}
		if err != nil && !repos.IsNotFound(err) {
			return err
		}

		key := groupKey{event.AccountID, event.Region}
		unresolved[key] = append(unresolved[key], event.InstanceID)
	}

	for key, instanceIDs := range unresolved {
		account := accounts[key.awsAccountID]
		described, err := r.cloud.DescribeInstances(ctx, account.RoleARN, key.region, dedupe(instanceIDs))
		if err != nil {
			return fmt.Errorf("failed to describe instances in %s: %w", key.region, err)
		}
		for id, instance := range described {
			if instance.ImageID != "" {
				knownAMI[id] = instance.ImageID
			}
			if instance.Type != "" && knownType[id] == "" {
				knownType[id] = instance.Type
			}
		}
	}

	for i := range events {
		event := &events[i]
		if event.ImageID == "" {
			event.ImageID = knownAMI[event.InstanceID]
		}
		if event.InstanceType == "" {
			event.InstanceType = knownType[event.InstanceID]
		}
	}
	return nil
}

// resolveImages describes every referenced image id not yet in the store,
// grouped by (account, region). Instance events and tag events both count as
// references: a tagged image we have never seen still gets a row so the tag
// flag has somewhere to land. Ids the provider cannot describe become
// unavailable placeholders. Returns the new image entities, the placeholder
// entities, and the staging requests for after the commit.
func (r *Reconciler) resolveImages(ctx context.Context, events []audit.InstanceEvent, tagEvents []audit.TagEvent, accounts map[string]*models.CloudAccount) ([]*models.MachineImage, []*models.MachineImage, []stageRequest, error) {
	referenced := make(map[string]groupKey)
	for _, event := range events {
		if event.ImageID == "" {
			continue
		}
		if _, seen := referenced[event.ImageID]; !seen {
			referenced[event.ImageID] = groupKey{event.AccountID, event.Region}
		}
	}
	for _, event := range tagEvents {
		if _, seen := referenced[event.ImageID]; !seen {
			referenced[event.ImageID] = groupKey{event.AccountID, event.Region}
		}
	}

	unknown := make(map[groupKey][]string)
	for amiID, key := range referenced {
		exists, err := r.store.Images.Exists(ctx, amiID)
		if err != nil {
			return nil, nil, nil, err
		}
		if !exists {
			unknown[key] = append(unknown[key], amiID)
		}
	}

	var newImages []*models.MachineImage
	var placeholders []*models.MachineImage
	var stages []stageRequest
	for key, amiIDs := range unknown {
		account := accounts[key.awsAccountID]
		described, err := r.cloud.DescribeImages(ctx, account.RoleARN, key.region, amiIDs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to describe images in %s: %w", key.region, err)
		}
		found := make(map[string]bool, len(described))
		for _, img := range described {
			found[img.ID] = true
			entity := imageFromDescribe(img, key.region)
			newImages = append(newImages, entity)
			if entity.Status == models.ImageStatusPending {
				stages = append(stages, stageRequest{
					roleARN: account.RoleARN,
					amiID:   img.ID,
					region:  key.region,
				})
			}
		}
		for _, amiID := range amiIDs {
			if found[amiID] {
				continue
			}
			logger.Infof("Image %s not describable, recording as unavailable", amiID)
			placeholders = append(placeholders, &models.MachineImage{
				EC2AMIID:       amiID,
				Status:         models.ImageStatusUnavailable,
				OwnerAccountID: key.awsAccountID,
				Region:         key.region,
			})
		}
	}
	return newImages, placeholders, stages, nil
}

// tagFields maps classification tags to their image columns.
var tagFields = map[string]string{
	audit.TagRHEL:      "rhel_detected_by_tag",
	audit.TagOpenShift: "openshift_detected",
}

// commit applies everything inside one transaction: images first, then tag
// flags, then instances and their events. Events that predate their
// account's creation are dropped, which covers account delete/recreate
// races.
func (r *Reconciler) commit(ctx context.Context, tx *repos.Store, instanceEvents []audit.InstanceEvent, tagEvents []audit.TagEvent, newImages, placeholders []*models.MachineImage, accounts map[string]*models.CloudAccount) error {
	imageRowIDs := make(map[string]uint)
	for _, entity := range append(newImages, placeholders...) {
		// FirstOrCreate keeps an already-inspected row created by a racing
		// describe untouched.
		if _, err := tx.Images.GetOrCreate(ctx, entity); err != nil {
			return err
		}
		imageRowIDs[entity.EC2AMIID] = entity.ID
	}

	tagged, untagged := audit.ResolveTagStates(tagEvents)
	for tag, field := range tagFields {
		if err := tx.Images.SetTagDetection(ctx, tagged[tag], field, true); err != nil {
			return err
		}
		if err := tx.Images.SetTagDetection(ctx, untagged[tag], field, false); err != nil {
			return err
		}
	}

	for _, event := range instanceEvents {
		account := accounts[event.AccountID]
		if event.OccurredAt.Before(account.CreatedAt) {
			logger.Debugf("Dropping event for %s predating account %s", event.InstanceID, account.AWSAccountID)
			continue
		}

		instance := &models.Instance{
			AccountID:     account.ID,
			EC2InstanceID: event.InstanceID,
			Region:        event.Region,
		}
		if _, err := tx.Instances.GetOrCreate(ctx, instance); err != nil {
			return err
		}
		if instance.ImageID == nil && event.ImageID != "" {
			rowID, ok := imageRowIDs[event.ImageID]
			if !ok {
				image, err := tx.Images.GetByEC2AMIID(ctx, event.ImageID)
				if err != nil {
					return err
				}
				rowID = image.ID
				imageRowIDs[event.ImageID] = rowID
			}
			if err := tx.Instances.SetImageID(ctx, instance.ID, rowID); err != nil {
				return err
			}
		}

		record := &models.InstanceEvent{
			InstanceID: instance.ID,
			EventType:  event.EventType,
			OccurredAt: event.OccurredAt,
		}
		if event.InstanceType != "" {
			record.InstanceType = &event.InstanceType
		}
		if event.ImageID != "" {
			record.EC2AMIID = &event.ImageID
		}
		if event.SubnetID != "" {
			record.SubnetID = &event.SubnetID
		}
		if err := tx.Instances.CreateEvent(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
