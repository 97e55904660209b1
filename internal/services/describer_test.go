package services

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
)

type DescriberTestSuite struct {
	ServicesTestSuite
}

func TestDescriber(t *testing.T) {
	suite.Run(t, new(DescriberTestSuite))
}

func (s *DescriberTestSuite) TestInitialDiscovery() {
	account := s.createTestAccount()
	s.addCloudImage("ami-run", "snap-run", "", false)
	s.cloud.AccountInstances[testRoleARN] = map[string][]cloud.Instance{
		testRegion: {
			{ID: "i-running", ImageID: "ami-run", Type: "t3.micro", State: cloud.InstanceStateRunning},
			{ID: "i-stopped", ImageID: "ami-run", Type: "t3.micro", State: "stopped"},
		},
	}

	s.Require().NoError(s.describer.DescribeAccountInstances(s.ctx, account))

	// One image entity, already staging.
	s.Equal(models.ImageStatusPreparing, s.imageStatus("ami-run"))

	// Both instances exist; only the running one has a power_on event.
	running, err := s.store.Instances.GetByEC2InstanceID(s.ctx, "i-running")
	s.Require().NoError(err)
	events, err := s.store.Instances.ListEvents(s.ctx, running.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EventTypePowerOn, events[0].EventType)

	stopped, err := s.store.Instances.GetByEC2InstanceID(s.ctx, "i-stopped")
	s.Require().NoError(err)
	events, err = s.store.Instances.ListEvents(s.ctx, stopped.ID)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *DescriberTestSuite) TestWindowsImageSkipsInspection() {
	account := s.createTestAccount()
	s.cloud.Images["ami-win"] = cloud.Image{
		ID:       "ami-win",
		OwnerID:  testAWSAccountID,
		Platform: "windows",
	}
	s.cloud.AccountInstances[testRoleARN] = map[string][]cloud.Instance{
		testRegion: {{ID: "i-win", ImageID: "ami-win", State: cloud.InstanceStateRunning}},
	}

	s.Require().NoError(s.describer.DescribeAccountInstances(s.ctx, account))

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, "ami-win")
	s.Require().NoError(err)
	s.Equal(models.ImageStatusInspected, found.Status)
	s.True(found.WindowsDetected)
	s.Empty(s.cloud.SnapshotCopies, "windows images are never staged")
}

func (s *DescriberTestSuite) TestTagDetectionAtDescribe() {
	account := s.createTestAccount()
	s.addCloudImage("ami-tagged", "snap-tagged", "", false)
	tagged := s.cloud.Images["ami-tagged"]
	tagged.Tags = map[string]string{"imagescout-rhel-present": "", "imagescout-ocp-present": ""}
	s.cloud.Images["ami-tagged"] = tagged
	s.cloud.AccountInstances[testRoleARN] = map[string][]cloud.Instance{
		testRegion: {{ID: "i-tagged", ImageID: "ami-tagged", State: cloud.InstanceStateRunning}},
	}

	s.Require().NoError(s.describer.DescribeAccountInstances(s.ctx, account))

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, "ami-tagged")
	s.Require().NoError(err)
	s.True(found.RHELDetectedByTag)
	s.True(found.OpenShiftDetected)
}

func (s *DescriberTestSuite) TestRediscoveryDoesNotRestage() {
	account := s.createTestAccount()
	s.addCloudImage("ami-known", "snap-known", "", false)
	s.cloud.AccountInstances[testRoleARN] = map[string][]cloud.Instance{
		testRegion: {{ID: "i-known", ImageID: "ami-known", State: cloud.InstanceStateRunning}},
	}

	s.Require().NoError(s.describer.DescribeAccountInstances(s.ctx, account))
	copies := len(s.cloud.SnapshotCopies)

	s.Require().NoError(s.describer.DescribeAccountInstances(s.ctx, account))
	s.Len(s.cloud.SnapshotCopies, copies, "an already-known image is not staged again")
}
