package services

import (
	"context"
	"fmt"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/db/models"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/logger"
)

// Definitions maintains the instance-type catalog from the provider's
// pricing API. The catalog is append-only: once a type is stored its memory
// and vcpu numbers never change from under historical events.
type Definitions struct {
	store *repos.Store
	cloud cloud.API
}

// NewDefinitions creates the catalog service
func NewDefinitions(store *repos.Store, cloudAPI cloud.API) *Definitions {
	return &Definitions{store: store, cloud: cloudAPI}
}

// Refresh pulls the current catalog and stores any types not yet known.
func (d *Definitions) Refresh(ctx context.Context) error {
	catalog, err := d.cloud.InstanceTypeDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch instance type catalog: %w", err)
	}

	added := 0
	for name, def := range catalog {
		created, err := d.store.Definitions.Save(ctx, &models.InstanceTypeDefinition{
			InstanceType: name,
			Memory:       def.Memory,
			VCPU:         def.VCPU,
		})
		if err != nil {
			return err
		}
		if created {
			added++
		}
	}
	logger.Infof("Instance type catalog refreshed: %d fetched, %d new", len(catalog), added)
	return nil
}
