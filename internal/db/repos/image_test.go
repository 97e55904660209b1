package repos

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/imagescout/imagescout/internal/db/models"
)

type ImageRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestImageRepository(t *testing.T) {
	suite.Run(t, new(ImageRepositoryTestSuite))
}

func (s *ImageRepositoryTestSuite) TestGetOrCreate() {
	image := &models.MachineImage{EC2AMIID: "ami-first", Region: "us-east-1"}
	created, err := s.store.Images.GetOrCreate(s.ctx, image)
	s.NoError(err)
	s.True(created)
	s.Equal(models.ImageStatusPending, image.Status)

	again := &models.MachineImage{EC2AMIID: "ami-first", Region: "eu-west-1"}
	created, err = s.store.Images.GetOrCreate(s.ctx, again)
	s.NoError(err)
	s.False(created)
	s.Equal(image.ID, again.ID)
	s.Equal("us-east-1", again.Region)
}

func (s *ImageRepositoryTestSuite) TestSetStatusForward() {
	image := s.createTestImage(models.ImageStatusPending)

	changed, err := s.store.Images.SetStatus(s.ctx, image.EC2AMIID, models.ImageStatusPreparing)
	s.NoError(err)
	s.True(changed)

	changed, err = s.store.Images.SetStatus(s.ctx, image.EC2AMIID, models.ImageStatusInspecting)
	s.NoError(err)
	s.True(changed)

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.NoError(err)
	s.Equal(models.ImageStatusInspecting, found.Status)
}

func (s *ImageRepositoryTestSuite) TestSetStatusRejectsRegression() {
	image := s.createTestImage(models.ImageStatusInspected)

	for _, next := range []models.ImageStatus{
		models.ImageStatusPending,
		models.ImageStatusPreparing,
		models.ImageStatusInspecting,
		models.ImageStatusError,
		models.ImageStatusUnavailable,
	} {
		changed, err := s.store.Images.SetStatus(s.ctx, image.EC2AMIID, next)
		s.NoError(err)
		s.False(changed, "inspected image must not move to %s", next)
	}

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.NoError(err)
	s.Equal(models.ImageStatusInspected, found.Status)
}

func (s *ImageRepositoryTestSuite) TestSetStatusDuplicateRequest() {
	image := s.createTestImage(models.ImageStatusPending)

	changed, err := s.store.Images.SetStatus(s.ctx, image.EC2AMIID, models.ImageStatusPreparing)
	s.NoError(err)
	s.True(changed)

	// A redelivered request finds the work already done.
	changed, err = s.store.Images.SetStatus(s.ctx, image.EC2AMIID, models.ImageStatusPreparing)
	s.NoError(err)
	s.False(changed)
}

func (s *ImageRepositoryTestSuite) TestSetStatusUnavailableOnlyFromPending() {
	pending := s.createTestImage(models.ImageStatusPending)
	changed, err := s.store.Images.SetStatus(s.ctx, pending.EC2AMIID, models.ImageStatusUnavailable)
	s.NoError(err)
	s.True(changed)

	preparing := s.createTestImage(models.ImageStatusPreparing)
	changed, err = s.store.Images.SetStatus(s.ctx, preparing.EC2AMIID, models.ImageStatusUnavailable)
	s.NoError(err)
	s.False(changed)
}

func (s *ImageRepositoryTestSuite) TestSetInspected() {
	image := s.createTestImage(models.ImageStatusInspecting)
	results := json.RawMessage(`{"rhel_found": true}`)

	changed, err := s.store.Images.SetInspected(s.ctx, image.EC2AMIID, results)
	s.NoError(err)
	s.True(changed)

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.NoError(err)
	s.Equal(models.ImageStatusInspected, found.Status)
	s.JSONEq(string(results), string(found.Inspection))

	// A later write must not clobber the stored results.
	changed, err = s.store.Images.SetInspected(s.ctx, image.EC2AMIID, json.RawMessage(`{"rhel_found": false}`))
	s.NoError(err)
	s.False(changed)

	found, err = s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.NoError(err)
	s.JSONEq(string(results), string(found.Inspection))
}

func (s *ImageRepositoryTestSuite) TestListByStatus() {
	s.createTestImage(models.ImageStatusPending)
	preparing := s.createTestImage(models.ImageStatusPreparing)
	s.createTestImage(models.ImageStatusInspected)

	images, err := s.store.Images.ListByStatus(s.ctx, models.ImageStatusPreparing)
	s.NoError(err)
	s.Len(images, 1)
	s.Equal(preparing.EC2AMIID, images[0].EC2AMIID)
}

func (s *ImageRepositoryTestSuite) TestSetTagDetection() {
	a := s.createTestImage(models.ImageStatusPending)
	b := s.createTestImage(models.ImageStatusPending)

	err := s.store.Images.SetTagDetection(s.ctx, []string{a.EC2AMIID}, "rhel_detected_by_tag", true)
	s.NoError(err)

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, a.EC2AMIID)
	s.NoError(err)
	s.True(found.RHELDetectedByTag)

	found, err = s.store.Images.GetByEC2AMIID(s.ctx, b.EC2AMIID)
	s.NoError(err)
	s.False(found.RHELDetectedByTag)

	err = s.store.Images.SetTagDetection(s.ctx, []string{b.EC2AMIID}, "openshift_detected", true)
	s.NoError(err)

	found, err = s.store.Images.GetByEC2AMIID(s.ctx, b.EC2AMIID)
	s.NoError(err)
	s.True(found.OpenShiftDetected)

	// Empty id list is a no-op, not an error.
	s.NoError(s.store.Images.SetTagDetection(s.ctx, nil, "rhel_detected_by_tag", true))
}

func (s *ImageRepositoryTestSuite) TestCopyReference() {
	err := s.store.Images.CreateCopy(s.ctx, &models.MachineImageCopy{
		EC2AMIID:          "ami-copy",
		ReferenceEC2AMIID: "ami-original",
	})
	s.NoError(err)

	reference, err := s.store.Images.GetCopyReference(s.ctx, "ami-copy")
	s.NoError(err)
	s.Equal("ami-original", reference)

	_, err = s.store.Images.GetCopyReference(s.ctx, "ami-unknown")
	s.Error(err)
	s.True(IsNotFound(err))

	copy, err := s.store.Images.GetCopyForReference(s.ctx, "ami-original")
	s.NoError(err)
	s.Equal("ami-copy", copy.EC2AMIID)
}

func (s *ImageRepositoryTestSuite) TestExists() {
	image := s.createTestImage(models.ImageStatusPending)

	exists, err := s.store.Images.Exists(s.ctx, image.EC2AMIID)
	s.NoError(err)
	s.True(exists)

	exists, err = s.store.Images.Exists(s.ctx, "ami-unknown")
	s.NoError(err)
	s.False(exists)
}
