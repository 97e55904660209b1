package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
)

// Accounts handles cloud-account lifecycle: registration, permission
// verification and the irreversible disable on credential failure.
type Accounts struct {
	store     *repos.Store
	cloud     cloud.API
	runner    Runner
	describer *Describer
}

// NewAccounts creates the account service
func NewAccounts(store *repos.Store, cloudAPI cloud.API, runner Runner, describer *Describer) *Accounts {
	return &Accounts{store: store, cloud: cloudAPI, runner: runner, describer: describer}
}

// Register verifies the role, stores the account and submits the initial
// discovery sweep.
func (a *Accounts) Register(ctx context.Context, awsAccountID, roleARN, name string) (*models.CloudAccount, error) {
	if err := a.cloud.VerifyPermissions(ctx, roleARN); err != nil {
		return nil, fmt.Errorf("account %s failed permission verification: %w", awsAccountID, err)
	}
	account := &models.CloudAccount{
		AWSAccountID: awsAccountID,
		RoleARN:      roleARN,
		Name:         name,
		Enabled:      true,
	}
	if err := a.store.Accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	a.runner.Submit(taskName("describe_account", awsAccountID), func(ctx context.Context) error {
		return a.describer.DescribeAccountInstances(ctx, account)
	})
	return account, nil
}

// VerifyPermissions re-checks that an account's role is still usable and
// disables the account when it is not. Disabling is one-way: in-flight
// tasks will see the flag on their next existence check and exit quietly.
func (a *Accounts) VerifyPermissions(ctx context.Context, accountID uint) error {
	account, err := a.store.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if repos.IsNotFound(err) {
			logger.Infof("Account %d gone before verification, skipping", accountID)
			return nil
		}
		return err
	}
	if !account.Enabled {
		return nil
	}

	err = a.cloud.VerifyPermissions(ctx, account.RoleARN)
	if err == nil {
		return nil
	}
	if !cloud.IsKind(err, cloud.KindPermission) {
		return fmt.Errorf("failed to verify account %s: %w", account.AWSAccountID, err)
	}

	logger.Warnf("Disabling account %s: %v", account.AWSAccountID, err)
	return a.store.Accounts.SetEnabled(ctx, account.ID, false)
}

// VerifyAll re-verifies every enabled account.
func (a *Accounts) VerifyAll(ctx context.Context) error {
	accounts, err := a.store.Accounts.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := a.VerifyPermissions(ctx, account.ID); err != nil {
			logger.Errorf("Verification of account %s failed: %v", account.AWSAccountID, err)
		}
	}
	return nil
}
