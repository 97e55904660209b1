package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/queue"
)

type ScalerTestSuite struct {
	ServicesTestSuite
}

func TestScaler(t *testing.T) {
	suite.Run(t, new(ScalerTestSuite))
}

func (s *ScalerTestSuite) enqueueVolume(imageID, volumeID string) {
	s.Require().NoError(s.volumes.Add(s.ctx, []queue.VolumeMessage{
		{ImageID: imageID, VolumeID: volumeID},
	}))
}

func (s *ScalerTestSuite) TestNoScaleUpWhenGroupNotAtZero() {
	s.cloud.Group = cloud.GroupState{DesiredCapacity: 1, MinSize: 1, MaxSize: 1, InstanceIDs: []string{"i-host"}}
	s.enqueueVolume("ami-1", "vol-1")

	s.Require().NoError(s.scaler.MaybeScaleUp(s.ctx))

	s.Empty(s.cloud.CapacityCalls, "must not touch capacity while the group is busy")
	s.Equal(1, s.mq.Depth(testVolumesQueue), "messages stay queued for the next cycle")
}

func (s *ScalerTestSuite) TestNoScaleUpWhileDraining() {
	// Capacity already zeroed but an instance is still terminating.
	s.cloud.Group = cloud.GroupState{InstanceIDs: []string{"i-draining"}}
	s.enqueueVolume("ami-1", "vol-1")

	s.Require().NoError(s.scaler.MaybeScaleUp(s.ctx))
	s.Empty(s.cloud.CapacityCalls)
}

func (s *ScalerTestSuite) TestEmptyQueueIsQuietExit() {
	s.Require().NoError(s.scaler.MaybeScaleUp(s.ctx))
	s.Empty(s.cloud.CapacityCalls, "never dispatches an empty batch")
	s.Empty(s.cloud.RanTasks)
}

func (s *ScalerTestSuite) TestScaleFailureRequeuesMessages() {
	s.enqueueVolume("ami-1", "vol-1")
	s.enqueueVolume("ami-2", "vol-2")
	s.cloud.FailWith("SetGroupCapacity:"+testGroup, errors.New("capacity request failed"))

	err := s.scaler.MaybeScaleUp(s.ctx)
	s.Error(err)
	s.Equal(2, s.mq.Depth(testVolumesQueue), "pulled messages must be re-delivered, never dropped")
	s.Empty(s.cloud.RanTasks)
}

func (s *ScalerTestSuite) TestScaleUpDispatchesBatch() {
	image := s.createTestImage(models.ImageStatusPreparing)
	s.enqueueVolume(image.EC2AMIID, "vol-1")
	s.cloud.ClusterHosts = []string{"i-host"}

	s.Require().NoError(s.scaler.MaybeScaleUp(s.ctx))

	s.Require().NotEmpty(s.cloud.CapacityCalls)
	s.Equal(int64(1), s.cloud.CapacityCalls[0])
	s.Len(s.cloud.RanTasks, 1)
	s.Equal(models.ImageStatusInspecting, s.imageStatus(image.EC2AMIID))
	s.Equal(0, s.mq.Depth(testVolumesQueue))
}

func (s *ScalerTestSuite) TestScaleDown() {
	s.Require().NoError(s.scaler.ScaleDown(s.ctx))
	s.Equal([]int64{0}, s.cloud.CapacityCalls)
}
