package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imagescout/imagescout/internal/logger"
)

// VolumeMessage is the work-queue record that a volume is ready for
// inspection. Delivery is at least once; the dispatcher gates duplicate
// handling on image status.
type VolumeMessage struct {
	ImageID  string `json:"image_id"`
	VolumeID string `json:"volume_id"`
}

// VolumeQueue is the typed ready-volumes work queue between the staging
// pipeline and the inspection cluster.
type VolumeQueue struct {
	client Client
	name   string
}

// NewVolumeQueue creates a VolumeQueue on the named underlying queue.
func NewVolumeQueue(client Client, name string) *VolumeQueue {
	return &VolumeQueue{client: client, name: name}
}

// Add enqueues ready-volume messages.
func (q *VolumeQueue) Add(ctx context.Context, messages []VolumeMessage) error {
	bodies := make([]string, 0, len(messages))
	for _, msg := range messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode volume message: %w", err)
		}
		bodies = append(bodies, string(body))
	}
	return q.client.Send(ctx, q.name, bodies)
}

// Read pulls up to max ready-volume messages and takes ownership of them
// (they are deleted from the queue). Callers that cannot proceed must Add
// them back so they are never dropped. Bodies that do not decode are logged
// and discarded.
func (q *VolumeQueue) Read(ctx context.Context, max int) ([]VolumeMessage, error) {
	received, err := q.client.Receive(ctx, q.name, max)
	if err != nil {
		return nil, err
	}
	messages := make([]VolumeMessage, 0, len(received))
	for _, msg := range received {
		var decoded VolumeMessage
		if err := json.Unmarshal([]byte(msg.Body), &decoded); err != nil {
			logger.Warnf("Discarding undecodable volume message %s: %v", msg.ID, err)
			continue
		}
		if err := q.client.Delete(ctx, q.name, msg.Receipt); err != nil {
			return nil, err
		}
		messages = append(messages, decoded)
	}
	return messages, nil
}
