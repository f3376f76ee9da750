package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/exp/slog"
)

// Processor фоновый обработчик очереди: забирает готовые элементы и применяет их к сущностям.
type Processor struct {
	queue QueueRepository
	exec  *executor
	cfg   Config
	log   *slog.Logger
}

// NewProcessor создает обработчик очереди
func NewProcessor(queue QueueRepository, appliers Appliers, locker Locker, cfg Config, log *slog.Logger) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		queue: queue,
		exec:  &executor{appliers: appliers, locker: locker, timeout: cfg.ApplyTimeout},
		cfg:   cfg,
		log:   log.With("component", "sync_processor"),
	}
}

// Run запускает воркеры и блокируется до отмены контекста.
func (p *Processor) Run(ctx context.Context) {
	p.log.Info("queue processor started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)

	var wg stdsync.WaitGroup
	wg.Add(p.cfg.Workers + 1)
	for i := 0; i < p.cfg.Workers; i++ {
		go func(worker int) {
			defer wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}
	go func() {
		defer wg.Done()
		p.leaseLoop(ctx)
	}()

	wg.Wait()
	p.log.Info("queue processor stopped")
}

func (p *Processor) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				ok, err := p.ProcessNext(ctx, ClaimFilter{})
				if errors.Is(err, ErrEntityBusy) {
					p.log.Debug("queue is contended, waiting for next tick", "worker", worker)
					break
				}
				if err != nil {
					if ctx.Err() == nil {
						p.log.Error("failed to process queue item", "worker", worker, "error", err)
					}
					break
				}
				if !ok || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

func (p *Processor) leaseLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.LeaseTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RecoverStale(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("failed to recover stale processing items", "error", err)
			}
		}
	}
}

// RecoverStale возвращает в pending элементы, которые слишком долго находятся в processing.
func (p *Processor) RecoverStale(ctx context.Context) (int, error) {
	n, err := p.queue.ReleaseStale(ctx, p.cfg.now().Add(-p.cfg.LeaseTimeout))
	if err != nil {
		return 0, fmt.Errorf("release stale: %w", err)
	}
	if n > 0 {
		p.log.Warn("released stale processing items", "count", n)
	}
	return n, nil
}

// Drain синхронно обрабатывает все готовые элементы магазина.
func (p *Processor) Drain(ctx context.Context, shopID int64) (int, error) {
	filter := ClaimFilter{ShopID: &shopID}
	processed := 0
	for busy := 0; ; {
		ok, err := p.ProcessNext(ctx, filter)
		if errors.Is(err, ErrEntityBusy) && busy < maxClaimRetries {
			busy++
			continue
		}
		if err != nil {
			return processed, err
		}
		busy = 0
		if !ok {
			return processed, nil
		}
		processed++
	}
}

// maxClaimRetries сколько раз подряд повторяется захват, проигранный другому обработчику.
const maxClaimRetries = 5

// ProcessNext забирает и обрабатывает один элемент. Возвращает false, если готовых элементов нет.
func (p *Processor) ProcessNext(ctx context.Context, filter ClaimFilter) (bool, error) {
	item, err := p.claim(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}
	if item == nil {
		return false, nil
	}
	return true, p.process(ctx, item)
}

// claim повторяет захват, пока другой обработчик перехватывает выбранную сущность:
// следующая попытка уже видит ее в processing и берет другой элемент.
func (p *Processor) claim(ctx context.Context, filter ClaimFilter) (*QueueItem, error) {
	for attempt := 1; ; attempt++ {
		item, err := p.queue.ClaimNext(ctx, filter, p.cfg.now())
		if !errors.Is(err, ErrEntityBusy) || attempt == maxClaimRetries {
			return item, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (p *Processor) process(ctx context.Context, item *QueueItem) error {
	log := p.log.With(
		"shop_id", item.ShopID,
		"item_id", item.ID,
		"entity_type", item.EntityType,
		"entity_id", item.EntityID,
		"action", item.Action,
		"attempt", item.Attempts,
	)

	_, applyErr := p.exec.apply(ctx, item, item.ForceApply)
	now := p.cfg.now()

	var conflict *ConflictError
	switch {
	case applyErr == nil:
		if err := p.queue.Complete(ctx, item.ID, now); err != nil {
			return fmt.Errorf("complete %s: %w", item.ID, err)
		}
		log.Debug("queue item applied")

	case errors.As(applyErr, &conflict):
		if err := p.queue.MarkConflict(ctx, item.ID, conflict.Snapshot, conflict.Reason); err != nil {
			return fmt.Errorf("mark conflict %s: %w", item.ID, err)
		}
		log.Info("conflict detected at apply", "reason", conflict.Reason)

	case IsPermanent(applyErr):
		if err := p.queue.Fail(ctx, item.ID, applyErr.Error(), now); err != nil {
			return fmt.Errorf("fail %s: %w", item.ID, err)
		}
		log.Warn("queue item failed permanently", "error", applyErr)

	case item.Attempts >= p.cfg.MaxAttempts:
		if err := p.queue.Fail(ctx, item.ID, applyErr.Error(), now); err != nil {
			return fmt.Errorf("fail %s: %w", item.ID, err)
		}
		log.Warn("queue item failed after max attempts", "max_attempts", p.cfg.MaxAttempts, "error", applyErr)

	default:
		delay := Backoff(item.Attempts, p.cfg.BackoffBase, p.cfg.BackoffMax)
		if err := p.queue.Retry(ctx, item.ID, applyErr.Error(), now.Add(delay)); err != nil {
			return fmt.Errorf("retry %s: %w", item.ID, err)
		}
		log.Info("queue item scheduled for retry", "delay", delay, "error", applyErr)
	}
	return nil
}
