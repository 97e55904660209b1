package services

import (
	"context"
	"sync"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/config"
	"github.com/imagescout/imagescout/internal/db/repos"
	"github.com/imagescout/imagescout/internal/queue"
)

// Pipeline wires the inspection services over one store, one cloud client
// and one queue client.
type Pipeline struct {
	Pool        *WorkerPool
	Stager      *Stager
	Provisioner *Provisioner
	Scaler      *Scaler
	Dispatcher  *Dispatcher
	Collector   *Collector
	Reconciler  *Reconciler
	Describer   *Describer
	Accounts    *Accounts
	Definitions *Definitions

	cfg *config.Config
}

// NewPipeline constructs and wires all pipeline services.
func NewPipeline(cfg *config.Config, store *repos.Store, cloudAPI cloud.API, client queue.Client) *Pipeline {
	pool := NewWorkerPool(4*cfg.Worker.PoolSize, cfg.Worker.MaxTaskAttempts)
	volumes := queue.NewVolumeQueue(client, cfg.ReadyVolumesQueueName())

	dispatcher := NewDispatcher(store, cloudAPI, cfg.Scanner)
	scaler := NewScaler(cloudAPI, pool, volumes, dispatcher, cfg.Scanner.AutoScalingGroup, cfg.Queues.VolumeBatchSize)
	provisioner := NewProvisioner(cloudAPI, pool, volumes, cfg.Scanner.AvailabilityZone)
	stager := NewStager(store, cloudAPI, pool, provisioner)
	collector := NewCollector(store, client, scaler, cfg.Scanner.ResultsQueue, cfg.Queues.ResultsBatchSize)
	reconciler := NewReconciler(store, cloudAPI, client, stager, cfg.Queues.AuditFeed, cfg.Queues.VolumeBatchSize)
	describer := NewDescriber(store, cloudAPI, stager)
	// Registration is an operator action; its initial discovery sweep runs
	// inline so the command only returns once the account is fully onboarded.
	accounts := NewAccounts(store, cloudAPI, NewSyncRunner(), describer)
	definitions := NewDefinitions(store, cloudAPI)

	return &Pipeline{
		Pool:        pool,
		Stager:      stager,
		Provisioner: provisioner,
		Scaler:      scaler,
		Dispatcher:  dispatcher,
		Collector:   collector,
		Reconciler:  reconciler,
		Describer:   describer,
		Accounts:    accounts,
		Definitions: definitions,
		cfg:         cfg,
	}
}

// Run starts the worker pool and the periodic loops, and blocks until ctx is
// canceled and everything has drained.
func (p *Pipeline) Run(ctx context.Context) {
	p.Pool.Start(ctx, p.cfg.Worker.PoolSize)

	var wg sync.WaitGroup
	wg.Add(4)
	go RunPeriodic(ctx, &wg, "scale_up", p.cfg.Worker.ScaleInterval, p.Scaler.MaybeScaleUp)
	go RunPeriodic(ctx, &wg, "audit_feed", p.cfg.Worker.AuditInterval, p.Reconciler.Process)
	go RunPeriodic(ctx, &wg, "drain_results", p.cfg.Worker.AuditInterval, p.Collector.DrainResults)
	go RunPeriodic(ctx, &wg, "restart_stale", p.cfg.Worker.RestartMinAge, func(ctx context.Context) error {
		return p.Stager.InspectPendingImages(ctx, p.cfg.Worker.RestartMinAge)
	})

	<-ctx.Done()
	wg.Wait()
	p.Pool.Stop()
}
