package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/imagescout/imagescout/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db    *gorm.DB
	ctx   context.Context
	store *Store
	seq   int
}

func (s *DBRepositoryTestSuite) SetupTest() {
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

	s.db = db
	s.store = NewStore(db)
	s.ctx = context.Background()
	s.seq = 0
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *DBRepositoryTestSuite) createTestAccount() *models.CloudAccount {
	n := s.nextSeq()
	account := &models.CloudAccount{
		AWSAccountID: fmt.Sprintf("%012d", n),
		RoleARN:      fmt.Sprintf("arn:aws:iam::%012d:role/inspection", n),
		Name:         fmt.Sprintf("test-account-%d", n),
		Enabled:      true,
	}
	s.Require().NoError(s.store.Accounts.Create(s.ctx, account))
	return account
}

func (s *DBRepositoryTestSuite) createTestImage(status models.ImageStatus) *models.MachineImage {
	n := s.nextSeq()
	image := &models.MachineImage{
		EC2AMIID:       fmt.Sprintf("ami-%08d", n),
		Status:         status,
		OwnerAccountID: "123456789012",
		Region:         "us-east-1",
	}
	s.Require().NoError(s.store.Images.Create(s.ctx, image))
	return image
}

func (s *DBRepositoryTestSuite) createTestInstance(accountID uint) *models.Instance {
	n := s.nextSeq()
	instance := &models.Instance{
		AccountID:     accountID,
		EC2InstanceID: fmt.Sprintf("i-%08d", n),
		Region:        "us-east-1",
	}
	s.Require().NoError(s.store.Instances.Create(s.ctx, instance))
	return instance
}

func (s *DBRepositoryTestSuite) eventAt(instanceID uint, eventType models.EventType, at time.Time) *models.InstanceEvent {
	event := &models.InstanceEvent{
		InstanceID: instanceID,
		EventType:  eventType,
		OccurredAt: at,
	}
	s.Require().NoError(s.store.Instances.CreateEvent(s.ctx, event))
	return event
}
