package services

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/config"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/queue"
)

const (
	testRoleARN      = "arn:aws:iam::123456789012:role/imagescout"
	testAWSAccountID = "123456789012"
	testRegion       = "us-east-1"
	testZone         = "us-east-1a"
	testGroup        = "imagescout-asg"
	testCluster      = "imagescout-cluster"
	testResultsQueue = "imagescout-results"
	testAuditQueue   = "imagescout-audit"
	testVolumesQueue = "imagescout-ready-volumes"
)

// ServicesTestSuite wires the pipeline over an in-memory database, the mock
// cloud and the mock queue client, with a synchronous runner so chained
// tasks finish before assertions run.
type ServicesTestSuite struct {
	suite.Suite
	ctx   context.Context
	db    *gorm.DB
	store *repos.Store
	cloud *cloud.Mock
	mq    *queue.MockClient

	volumes     *queue.VolumeQueue
	stager      *Stager
	provisioner *Provisioner
	scaler      *Scaler
	dispatcher  *Dispatcher
	collector   *Collector
	reconciler  *Reconciler
	describer   *Describer
	accounts    *Accounts
	definitions *Definitions

	seq int
}

func (s *ServicesTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")
	err = db.AutoMigrate(
		&models.CloudAccount{},
		&models.MachineImage{},
		&models.MachineImageCopy{},
		&models.Instance{},
		&models.InstanceEvent{},
		&models.InstanceTypeDefinition{},
	)
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.ctx = context.Background()
	s.db = db
	s.store = repos.NewStore(db)
	s.cloud = cloud.NewMock()
	s.mq = queue.NewMockClient()
	s.seq = 0

	runner := NewSyncRunner()
	scanner := config.Scanner{
		AvailabilityZone: testZone,
		AutoScalingGroup: testGroup,
		ECSCluster:       testCluster,
		ECSFamily:        "imagescout-inspect",
		ScanImage:        "imagescout/inspector",
		ScanImageTag:     "latest",
		ResultsQueue:     testResultsQueue,
		ResultsExchange:  "inspections",
		Region:           testRegion,
	}

	s.volumes = queue.NewVolumeQueue(s.mq, testVolumesQueue)
	s.dispatcher = NewDispatcher(s.store, s.cloud, scanner)
	s.scaler = NewScaler(s.cloud, runner, s.volumes, s.dispatcher, testGroup, 10)
	s.provisioner = NewProvisioner(s.cloud, runner, s.volumes, testZone)
	s.stager = NewStager(s.store, s.cloud, runner, s.provisioner)
	s.collector = NewCollector(s.store, s.mq, s.scaler, testResultsQueue, 10)
	s.reconciler = NewReconciler(s.store, s.cloud, s.mq, s.stager, testAuditQueue, 10)
	s.describer = NewDescriber(s.store, s.cloud, s.stager)
	s.accounts = NewAccounts(s.store, s.cloud, runner, s.describer)
	s.definitions = NewDefinitions(s.store, s.cloud)
}

func (s *ServicesTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *ServicesTestSuite) nextSeq() int {
	s.seq++
	return s.seq
}

// createTestAccount stores the canonical customer account.
func (s *ServicesTestSuite) createTestAccount() *models.CloudAccount {
	account := &models.CloudAccount{
		AWSAccountID: testAWSAccountID,
		RoleARN:      testRoleARN,
		Name:         "test-account",
		Enabled:      true,
	}
	s.Require().NoError(s.store.Accounts.Create(s.ctx, account))
	return account
}

// createTestImage stores an image entity in the given status.
func (s *ServicesTestSuite) createTestImage(status models.ImageStatus) *models.MachineImage {
	image := &models.MachineImage{
		EC2AMIID:       fmt.Sprintf("ami-%08d", s.nextSeq()),
		Status:         status,
		OwnerAccountID: testAWSAccountID,
		Region:         testRegion,
	}
	s.Require().NoError(s.store.Images.Create(s.ctx, image))
	return image
}

// addCloudImage installs an image with a root snapshot in the mock cloud.
// The snapshot is owned by the canonical customer account unless ownerID
// says otherwise.
func (s *ServicesTestSuite) addCloudImage(amiID, snapshotID, snapshotOwnerID string, encrypted bool) {
	if snapshotOwnerID == "" {
		snapshotOwnerID = testAWSAccountID
	}
	s.cloud.Images[amiID] = cloud.Image{
		ID:      amiID,
		Name:    amiID + "-name",
		OwnerID: testAWSAccountID,
	}
	s.cloud.ImageSnapshots[amiID] = snapshotID
	s.cloud.Snapshots[snapshotID] = &cloud.Snapshot{
		ID:        snapshotID,
		OwnerID:   snapshotOwnerID,
		State:     cloud.SnapshotStateCompleted,
		Encrypted: encrypted,
	}
}

func (s *ServicesTestSuite) imageStatus(amiID string) models.ImageStatus {
	image, err := s.store.Images.GetByEC2AMIID(s.ctx, amiID)
	s.Require().NoError(err)
	return image.Status
}
