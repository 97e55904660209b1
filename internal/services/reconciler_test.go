package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
)

type ReconcilerTestSuite struct {
	ServicesTestSuite
}

func TestReconciler(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}

// feedLog stores a log object in the mock object store and queues the S3
// notification pointing at it.
func (s *ReconcilerTestSuite) feedLog(records ...string) {
	key := fmt.Sprintf("logs/%04d.json", s.nextSeq())
	body := fmt.Sprintf(`{"Records": [%s]}`, joinRecords(records))
	s.cloud.Objects["audit-bucket/"+key] = []byte(body)
	notification := fmt.Sprintf(
		`{"Records": [{"s3": {"bucket": {"name": "audit-bucket"}, "object": {"key": "%s"}}}]}`, key)
	s.Require().NoError(s.mq.Send(s.ctx, testAuditQueue, []string{notification}))
}

func joinRecords(records []string) string {
	out := ""
	for i, r := range records {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

func stopRecord(instanceID string, at time.Time) string {
	return fmt.Sprintf(`{
		"eventSource": "ec2.amazonaws.com",
		"eventName": "StopInstances",
		"eventTime": %q,
		"awsRegion": %q,
		"userIdentity": {"accountId": %q},
		"requestParameters": {"instancesSet": {"items": [{"instanceId": %q}]}}
	}`, at.Format(time.RFC3339), testRegion, testAWSAccountID, instanceID)
}

func runRecord(instanceID, imageID, instanceType string, at time.Time) string {
	return fmt.Sprintf(`{
		"eventSource": "ec2.amazonaws.com",
		"eventName": "RunInstances",
		"eventTime": %q,
		"awsRegion": %q,
		"userIdentity": {"accountId": %q},
		"responseElements": {"instancesSet": {"items": [
			{"instanceId": %q, "imageId": %q, "instanceType": %q}
		]}}
	}`, at.Format(time.RFC3339), testRegion, testAWSAccountID, instanceID, imageID, instanceType)
}

func tagRecord(eventName, imageID, tag string, at time.Time) string {
	return fmt.Sprintf(`{
		"eventSource": "ec2.amazonaws.com",
		"eventName": %q,
		"eventTime": %q,
		"awsRegion": %q,
		"userIdentity": {"accountId": %q},
		"requestParameters": {
			"resourcesSet": {"items": [{"resourceId": %q}]},
			"tagSet": {"items": [{"key": %q, "value": ""}]}
		}
	}`, eventName, at.Format(time.RFC3339), testRegion, testAWSAccountID, imageID, tag)
}

func (s *ReconcilerTestSuite) TestStopEventBackfillsAndStages() {
	s.createTestAccount()
	// The instance and its image live only in the provider so far.
	s.cloud.AccountInstances[testRoleARN] = map[string][]cloud.Instance{
		testRegion: {{ID: "i-mystery", ImageID: "ami-new", Type: "t3.large", State: cloud.InstanceStateRunning}},
	}
	s.addCloudImage("ami-new", "snap-new", "", false)

	before := s.cloud.DescribeCalls
	s.feedLog(stopRecord("i-mystery", time.Now().UTC().Add(time.Minute)))
	s.Require().NoError(s.reconciler.Process(s.ctx))

	// One instance describe plus one image describe, both grouped.
	s.Equal(before+2, s.cloud.DescribeCalls)

	// The image was created and immediately entered the pipeline.
	s.Equal(models.ImageStatusPreparing, s.imageStatus("ami-new"))
	s.NotEmpty(s.cloud.SnapshotCopies)

	// The instance exists, points at the image, and has the stop event with
	// its back-filled details.
	instance, err := s.store.Instances.GetByEC2InstanceID(s.ctx, "i-mystery")
	s.Require().NoError(err)
	s.Require().NotNil(instance.ImageID)
	events, err := s.store.Instances.ListEvents(s.ctx, instance.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EventTypePowerOff, events[0].EventType)
	s.Require().NotNil(events[0].EC2AMIID)
	s.Equal("ami-new", *events[0].EC2AMIID)
	s.Require().NotNil(events[0].InstanceType)
	s.Equal("t3.large", *events[0].InstanceType)

	s.Equal(0, s.mq.Depth(testAuditQueue), "processed message is acknowledged")
}

func (s *ReconcilerTestSuite) TestBatchResolutionAvoidsDescribe() {
	s.createTestAccount()
	s.addCloudImage("ami-batch", "snap-batch", "", false)
	at := time.Now().UTC().Add(time.Minute)

	before := s.cloud.DescribeCalls
	s.feedLog(
		runRecord("i-batch", "ami-batch", "t3.micro", at),
		stopRecord("i-batch", at.Add(time.Hour)),
	)
	s.Require().NoError(s.reconciler.Process(s.ctx))

	// The stop event resolved from the run event in the same batch; only the
	// unknown image needed one describe call.
	s.Equal(before+1, s.cloud.DescribeCalls)

	instance, err := s.store.Instances.GetByEC2InstanceID(s.ctx, "i-batch")
	s.Require().NoError(err)
	events, err := s.store.Instances.ListEvents(s.ctx, instance.ID)
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *ReconcilerTestSuite) TestUndescribableImageBecomesUnavailable() {
	s.createTestAccount()
	at := time.Now().UTC().Add(time.Minute)

	s.feedLog(runRecord("i-ghost", "ami-ghost", "t3.micro", at))
	s.Require().NoError(s.reconciler.Process(s.ctx))

	s.Equal(models.ImageStatusUnavailable, s.imageStatus("ami-ghost"))
	s.Empty(s.cloud.SnapshotCopies, "unavailable images are never staged")
}

func (s *ReconcilerTestSuite) TestEventsPredatingAccountAreDropped() {
	s.createTestAccount()
	s.addCloudImage("ami-old", "snap-old", "", false)

	s.feedLog(runRecord("i-old", "ami-old", "t3.micro", time.Now().UTC().Add(-24*time.Hour)))
	s.Require().NoError(s.reconciler.Process(s.ctx))

	_, err := s.store.Instances.GetByEC2InstanceID(s.ctx, "i-old")
	s.Error(err, "no instance entity for a dropped event")
	s.Equal(0, s.mq.Depth(testAuditQueue))
}

func (s *ReconcilerTestSuite) TestUntrackedAccountIsIgnored() {
	// No account entity at all; events must be discarded quietly.
	at := time.Now().UTC()
	s.feedLog(runRecord("i-stranger", "ami-stranger", "t3.micro", at))

	s.Require().NoError(s.reconciler.Process(s.ctx))

	s.Equal(0, s.cloud.DescribeCalls)
	s.Equal(0, s.mq.Depth(testAuditQueue))
}

func (s *ReconcilerTestSuite) TestTagLastWriteWinsTwoEvents() {
	s.createTestAccount()
	image := s.createTestImage(models.ImageStatusInspected)
	at := time.Now().UTC().Add(time.Minute)

	s.feedLog(
		tagRecord("CreateTags", image.EC2AMIID, "imagescout-rhel-present", at),
		tagRecord("DeleteTags", image.EC2AMIID, "imagescout-rhel-present", at.Add(time.Minute)),
	)
	s.Require().NoError(s.reconciler.Process(s.ctx))

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.Require().NoError(err)
	s.False(found.RHELDetectedByTag)
}

func (s *ReconcilerTestSuite) TestTagLastWriteWinsThreeEvents() {
	s.createTestAccount()
	image := s.createTestImage(models.ImageStatusInspected)
	at := time.Now().UTC().Add(time.Minute)

	s.feedLog(
		tagRecord("CreateTags", image.EC2AMIID, "imagescout-ocp-present", at),
		tagRecord("DeleteTags", image.EC2AMIID, "imagescout-ocp-present", at.Add(time.Minute)),
		tagRecord("CreateTags", image.EC2AMIID, "imagescout-ocp-present", at.Add(2*time.Minute)),
	)
	s.Require().NoError(s.reconciler.Process(s.ctx))

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, image.EC2AMIID)
	s.Require().NoError(err)
	s.True(found.OpenShiftDetected)
}

func (s *ReconcilerTestSuite) TestTagEventCreatesUnknownImage() {
	s.createTestAccount()
	s.addCloudImage("ami-tagonly", "snap-tagonly", "", false)
	at := time.Now().UTC().Add(time.Minute)

	before := s.cloud.DescribeCalls
	s.feedLog(tagRecord("CreateTags", "ami-tagonly", "imagescout-rhel-present", at))
	s.Require().NoError(s.reconciler.Process(s.ctx))

	// A tagged image we have never seen is described, created and staged
	// like any other reference, with the tag flag landing on the new row.
	s.Equal(before+1, s.cloud.DescribeCalls)
	found, err := s.store.Images.GetByEC2AMIID(s.ctx, "ami-tagonly")
	s.Require().NoError(err)
	s.True(found.RHELDetectedByTag)
	s.Equal(models.ImageStatusPreparing, found.Status)
	s.Equal(0, s.mq.Depth(testAuditQueue))
}

func (s *ReconcilerTestSuite) TestTagEventOnUndescribableImage() {
	s.createTestAccount()
	at := time.Now().UTC().Add(time.Minute)

	s.feedLog(tagRecord("CreateTags", "ami-phantom", "imagescout-ocp-present", at))
	s.Require().NoError(s.reconciler.Process(s.ctx))

	found, err := s.store.Images.GetByEC2AMIID(s.ctx, "ami-phantom")
	s.Require().NoError(err)
	s.Equal(models.ImageStatusUnavailable, found.Status)
	s.True(found.OpenShiftDetected)
	s.Empty(s.cloud.SnapshotCopies)
}

func (s *ReconcilerTestSuite) TestS3TestEventIsDiscarded() {
	s.Require().NoError(s.mq.Send(s.ctx, testAuditQueue, []string{
		`{"Service": "Amazon S3", "Event": "s3:TestEvent"}`,
	}))

	s.Require().NoError(s.reconciler.Process(s.ctx))
	s.Equal(0, s.mq.Depth(testAuditQueue))
}

func (s *ReconcilerTestSuite) TestFailedMessageStaysQueued() {
	s.createTestAccount()
	notification := `{"Records": [{"s3": {"bucket": {"name": "audit-bucket"}, "object": {"key": "missing.json"}}}]}`
	s.Require().NoError(s.mq.Send(s.ctx, testAuditQueue, []string{notification}))

	s.Require().NoError(s.reconciler.Process(s.ctx))
	s.Equal(1, s.mq.Depth(testAuditQueue), "unprocessable message is left for redelivery")
}
