package repos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/imagescout/imagescout/internal/db/models"
)

type InstanceRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestInstanceRepository(t *testing.T) {
	suite.Run(t, new(InstanceRepositoryTestSuite))
}

func (s *InstanceRepositoryTestSuite) TestCreate() {
	account := s.createTestAccount()
	instance := s.createTestInstance(account.ID)
	s.NotZero(instance.ID)

	// Missing account id should fail validation.
	err := s.store.Instances.Create(s.ctx, &models.Instance{EC2InstanceID: "i-invalid"})
	s.Error(err)
	s.Contains(err.Error(), "account id")
}

func (s *InstanceRepositoryTestSuite) TestGetOrCreate() {
	account := s.createTestAccount()
	instance := &models.Instance{
		AccountID:     account.ID,
		EC2InstanceID: "i-stable",
		Region:        "us-east-1",
	}
	created, err := s.store.Instances.GetOrCreate(s.ctx, instance)
	s.NoError(err)
	s.True(created)

	again := &models.Instance{
		AccountID:     account.ID,
		EC2InstanceID: "i-stable",
		Region:        "eu-west-1",
	}
	created, err = s.store.Instances.GetOrCreate(s.ctx, again)
	s.NoError(err)
	s.False(created)
	s.Equal(instance.ID, again.ID)
}

func (s *InstanceRepositoryTestSuite) TestSetImageID() {
	account := s.createTestAccount()
	instance := s.createTestInstance(account.ID)
	image := s.createTestImage(models.ImageStatusPending)

	s.NoError(s.store.Instances.SetImageID(s.ctx, instance.ID, image.ID))

	found, err := s.store.Instances.GetByEC2InstanceID(s.ctx, instance.EC2InstanceID)
	s.NoError(err)
	s.Require().NotNil(found.ImageID)
	s.Equal(image.ID, *found.ImageID)
}

func (s *InstanceRepositoryTestSuite) TestCreateEventDeduplicates() {
	account := s.createTestAccount()
	instance := s.createTestInstance(account.ID)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	first := s.eventAt(instance.ID, models.EventTypePowerOn, at)

	duplicate := &models.InstanceEvent{
		InstanceID: instance.ID,
		EventType:  models.EventTypePowerOn,
		OccurredAt: at,
	}
	s.NoError(s.store.Instances.CreateEvent(s.ctx, duplicate))
	s.Equal(first.ID, duplicate.ID)

	events, err := s.store.Instances.ListEvents(s.ctx, instance.ID)
	s.NoError(err)
	s.Len(events, 1)
}

func (s *InstanceRepositoryTestSuite) TestListEventsOrdered() {
	account := s.createTestAccount()
	instance := s.createTestInstance(account.ID)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Insert out of order.
	s.eventAt(instance.ID, models.EventTypePowerOff, at.Add(time.Hour))
	s.eventAt(instance.ID, models.EventTypePowerOn, at)

	events, err := s.store.Instances.ListEvents(s.ctx, instance.ID)
	s.NoError(err)
	s.Require().Len(events, 2)
	s.Equal(models.EventTypePowerOn, events[0].EventType)
	s.Equal(models.EventTypePowerOff, events[1].EventType)

	latest, err := s.store.Instances.LatestEventTime(s.ctx, instance.ID)
	s.NoError(err)
	s.True(latest.Equal(at.Add(time.Hour)))
}

func (s *InstanceRepositoryTestSuite) TestLatestEventTimeEmpty() {
	account := s.createTestAccount()
	instance := s.createTestInstance(account.ID)

	latest, err := s.store.Instances.LatestEventTime(s.ctx, instance.ID)
	s.NoError(err)
	s.True(latest.IsZero())
}
