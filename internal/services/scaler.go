package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/logger"
	"github.com/imagescout/imagescout/internal/queue"
)

// Scaler runs the elastic compute group at zero capacity between inspection
// cycles and brings up a single host when ready volumes are waiting.
type Scaler struct {
	cloud      cloud.API
	runner     Runner
	volumes    *queue.VolumeQueue
	dispatcher *Dispatcher
	groupName  string
	batchSize  int
}

// NewScaler creates a scaler over the named group
func NewScaler(cloudAPI cloud.API, runner Runner, volumes *queue.VolumeQueue, dispatcher *Dispatcher, groupName string, batchSize int) *Scaler {
	return &Scaler{
		cloud:      cloudAPI,
		runner:     runner,
		volumes:    volumes,
		dispatcher: dispatcher,
		groupName:  groupName,
		batchSize:  batchSize,
	}
}

// shouldScaleUp is the pure scale decision over a fresh group snapshot.
// Scale-up only ever starts from a fully settled zero-capacity group; any
// other state belongs to a cycle already in flight.
func shouldScaleUp(group *cloud.GroupState) bool {
	return group.IsScaledDown()
}

// MaybeScaleUp runs one scaler cycle: if the group is fully at zero and
// ready volumes are queued, scale to one host and hand the batch to the
// dispatcher. Pulled messages are put back on the queue if the scale request
// fails, never dropped.
func (s *Scaler) MaybeScaleUp(ctx context.Context) error {
	group, err := s.cloud.DescribeScalingGroup(ctx, s.groupName)
	if err != nil {
		return fmt.Errorf("failed to describe scaling group %s: %w", s.groupName, err)
	}
	if !shouldScaleUp(group) {
		logger.Debugf("Scaling group %s not settled at zero, waiting", s.groupName)
		return nil
	}

	batch, err := s.volumes.Read(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to read ready volumes: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := s.cloud.SetGroupCapacity(ctx, s.groupName, 1); err != nil {
		if requeueErr := s.volumes.Add(ctx, batch); requeueErr != nil {
			logger.Errorf("Failed to requeue %d volume messages: %v", len(batch), requeueErr)
		}
		return fmt.Errorf("failed to scale up group %s: %w", s.groupName, err)
	}

	logger.Infof("Scaled up %s for %d ready volumes", s.groupName, len(batch))
	s.runner.Submit(taskName("run_inspection", s.groupName), func(ctx context.Context) error {
		return s.dispatcher.RunInspection(ctx, batch)
	})
	return nil
}

// ScaleDown returns the group to zero capacity.
func (s *Scaler) ScaleDown(ctx context.Context) error {
	if err := s.cloud.SetGroupCapacity(ctx, s.groupName, 0); err != nil {
		return fmt.Errorf("failed to scale down group %s: %w", s.groupName, err)
	}
	logger.Infof("Scaled down %s", s.groupName)
	return nil
}
