package application

import (
	"context"
	"errors"
	"log"
	"sync"

	"utilibill/internal/fault"
	"utilibill/internal/observability/metrics"
)

// BatchResult summarizes one batch billing run.
type BatchResult struct {
	Invoiced int
	Skipped  int
	Failed   int
	Overdue  int
}

// BatchRunner bills many customers concurrently. Per-customer
// serialization lives in the billing service; the runner only bounds
// parallelism.
type BatchRunner struct {
	svc     *BillingService
	logger  *log.Logger
	workers int
}

// NewBatchRunner constructs a runner.
func NewBatchRunner(svc *BillingService, workers int, logger *log.Logger) (*BatchRunner, error) {
	if svc == nil {
		return nil, errors.New("batch runner: nil billing service")
	}
	if workers <= 0 {
		workers = 1
	}
	return &BatchRunner{svc: svc, logger: logger, workers: workers}, nil
}

// Run bills every customer in the config over its billing period.
// "Nothing to bill" is a skip, not a failure; retry policy belongs to
// the caller, so failed customers are only counted and logged.
func (r *BatchRunner) Run(ctx context.Context, cfg BatchConfig) (BatchResult, error) {
	if err := cfg.Validate(); err != nil {
		return BatchResult{}, err
	}

	jobs := make(chan string)
	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for customerID := range jobs {
				r.billOne(ctx, cfg, customerID, &mu, &result)
			}
		}()
	}

	for _, customerID := range cfg.Customers {
		jobs <- customerID
	}
	close(jobs)
	wg.Wait()

	return result, nil
}

func (r *BatchRunner) billOne(ctx context.Context, cfg BatchConfig, customerID string, mu *sync.Mutex, result *BatchResult) {
	inv, err := r.svc.GenerateInvoice(ctx, customerID, cfg.PeriodStart, cfg.PeriodEnd)

	var moved int
	if cfg.MarkOverdue {
		var oerr error
		moved, oerr = r.svc.MarkOverdue(ctx, customerID)
		if oerr != nil && r.logger != nil {
			r.logger.Printf("batch: overdue sweep for %s failed: %v", customerID, oerr)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	result.Overdue += moved
	switch {
	case err == nil:
		result.Invoiced++
		metrics.ObserveBatchCustomer(metrics.ResultSuccess)
		if r.logger != nil {
			r.logger.Printf("batch: invoiced customer %s invoice %s total %s", customerID, inv.Number, inv.Total)
		}
	case fault.IsKind(err, fault.KindNothingToBill):
		result.Skipped++
		metrics.ObserveBatchCustomer(metrics.ResultSuccess)
	default:
		result.Failed++
		metrics.ObserveBatchCustomer(metrics.ResultError)
		if r.logger != nil {
			r.logger.Printf("batch: customer %s failed: %v", customerID, err)
		}
	}
}
