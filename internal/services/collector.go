package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
)

// Collector drains inspection results off the results queue and persists
// them onto their images.
type Collector struct {
	store     *repos.Store
	client    queue.Client
	scaler    *Scaler
	queueName string
	batchSize int
}

// NewCollector creates a collector reading the named results queue
func NewCollector(store *repos.Store, client queue.Client, scaler *Scaler, queueName string, batchSize int) *Collector {
	return &Collector{
		store:     store,
		client:    client,
		scaler:    scaler,
		queueName: queueName,
		batchSize: batchSize,
	}
}

// resultsPayload is the scan container's output message.
type resultsPayload struct {
	Images map[string]json.RawMessage `json:"images"`
}

// parseResults decodes one results message body. A payload without the
// images key is malformed input, not an empty result set.
func parseResults(body string) (map[string]json.RawMessage, error) {
	var payload resultsPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse inspection results: %w", err)
	}
	if payload.Images == nil {
		return nil, fmt.Errorf("malformed inspection results: missing images key")
	}
	return payload.Images, nil
}

// DrainResults processes one batch of result messages. Messages are only
// acknowledged after their results are persisted; a failed message stays on
// the queue for redelivery and does not fail the batch. After any results
// land, the inspection cluster is scaled back down.
func (c *Collector) DrainResults(ctx context.Context) error {
	messages, err := c.client.Receive(ctx, c.queueName, c.batchSize)
	if err != nil {
		return fmt.Errorf("failed to receive inspection results: %w", err)
	}

	persisted := 0
	for _, msg := range messages {
		results, err := parseResults(msg.Body)
		if err != nil {
			logger.Errorf("Rejecting results message %s: %v", msg.ID, err)
			continue
		}
		if err := c.Persist(ctx, results); err != nil {
			logger.Errorf("Failed to persist results message %s: %v", msg.ID, err)
			continue
		}
		if err := c.client.Delete(ctx, c.queueName, msg.Receipt); err != nil {
			return fmt.Errorf("failed to acknowledge results message: %w", err)
		}
		persisted++
	}

	if persisted > 0 {
		return c.scaler.ScaleDown(ctx)
	}
	return nil
}

// Persist attaches inspection results to their images and marks them
// inspected. Results keyed by a copy's id resolve to the original image.
// Ids with no matching image are logged and skipped: results for
// since-deleted images are expected.
func (c *Collector) Persist(ctx context.Context, results map[string]json.RawMessage) error {
	for amiID, details := range results {
		targetID := amiID
		if reference, err := c.store.Images.GetCopyReference(ctx, amiID); err == nil {
			targetID = reference
		} else if !repos.IsNotFound(err) {
			return err
		}

		changed, err := c.store.Images.SetInspected(ctx, targetID, details)
		if err != nil {
			return err
		}
		if changed {
			continue
		}
		exists, err := c.store.Images.Exists(ctx, targetID)
		if err != nil {
			return err
		}
		if !exists {
			logger.Infof("Discarding results for unknown image %s", targetID)
		} else {
			logger.Infof("Image %s already inspected, keeping existing results", targetID)
		}
	}
	return nil
}
