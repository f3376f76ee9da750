package client

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

const pushBatchSize = 100

// SyncService обменивается изменениями outbox и кэша устройства с сервером.
type SyncService struct {
	api       syncAPI
	storage   *SQLiteStorage
	log       *slog.Logger
	deviceID  string
	pullLimit int
	now       func() time.Time

	mu        gosync.Mutex
	isSyncing bool
}

// syncAPI операции сервера, нужные для обмена.
type syncAPI interface {
	Push(ctx context.Context, req sync.PushRequest) (*sync.PushResult, error)
	Pull(ctx context.Context, req PullRequest) (*sync.PullResult, error)
}

// PushReport итог отправки outbox.
type PushReport struct {
	Sent       int
	Enqueued   int
	Duplicates int
	Conflicts  int
	Rejected   []*OutboxChange
}

// PullReport итог получения серверных изменений.
type PullReport struct {
	Pages      int
	Entities   int
	Checkpoint time.Time
	// Partial pull по части типов: контрольная точка устройства не сдвигается.
	Partial bool
}

// SyncResult результат полного цикла push + pull.
type SyncResult struct {
	Push      *PushReport
	Pull      *PullReport
	StartTime time.Time
	Duration  time.Duration
}

func NewSyncService(api syncAPI, storage *SQLiteStorage, deviceID string, pullLimit int, log *slog.Logger) *SyncService {
	return &SyncService{
		api:       api,
		storage:   storage,
		log:       log.With("component", "sync_client"),
		deviceID:  deviceID,
		pullLimit: pullLimit,
		now:       time.Now,
	}
}

// Push отправляет outbox пакетами в порядке записи и сохраняет исход каждого изменения.
func (s *SyncService) Push(ctx context.Context) (*PushReport, error) {
	report := &PushReport{}

	checkpoint, err := s.storage.Checkpoint(ctx)
	if err != nil {
		return report, err
	}

	for {
		batch, err := s.storage.PendingChanges(ctx, pushBatchSize)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			return report, nil
		}

		req := sync.PushRequest{
			DeviceID:          s.deviceID,
			LastSyncTimestamp: checkpoint,
			Changes:           make([]sync.Change, len(batch)),
		}
		for i, c := range batch {
			req.Changes[i] = c.Change()
		}

		result, err := s.api.Push(ctx, req)
		if err != nil {
			return report, fmt.Errorf("push: %w", err)
		}
		if len(result.Results) != len(batch) {
			return report, fmt.Errorf("push: server returned %d results for %d changes", len(result.Results), len(batch))
		}

		sentAt := s.now()
		for _, res := range result.Results {
			if res.Index < 0 || res.Index >= len(batch) {
				return report, fmt.Errorf("push: result index %d out of range", res.Index)
			}
			change := batch[res.Index]
			if err := s.storage.MarkSent(ctx, change.ID, res, sentAt); err != nil {
				return report, err
			}

			report.Sent++
			switch res.Outcome {
			case sync.OutcomeEnqueued:
				report.Enqueued++
			case sync.OutcomeDuplicate:
				report.Duplicates++
			case sync.OutcomeConflict:
				report.Conflicts++
			case sync.OutcomeRejected:
				change.State = OutboxRejected
				change.Outcome = res.Outcome
				change.Error = resultError(res)
				report.Rejected = append(report.Rejected, change)
			}
		}

		s.log.Info("outbox batch pushed",
			"changes", len(batch),
			"enqueued", result.Enqueued,
			"duplicates", result.Duplicates,
			"conflicts", result.Conflicts,
			"rejected", result.Rejected,
		)
	}
}

// Pull забирает страницы ленты, пока сервер сообщает has_more, и сдвигает контрольную точку
// после каждой сохраненной страницы. Pull с фильтром по типам читает от общей контрольной
// точки, но не сохраняет ее: иначе изменения остальных типов выпали бы из следующего pull.
func (s *SyncService) Pull(ctx context.Context, types []sync.EntityType) (*PullReport, error) {
	report := &PullReport{Partial: len(types) > 0}

	cursor, err := s.storage.Checkpoint(ctx)
	if err != nil {
		return report, err
	}
	if cursor != nil {
		report.Checkpoint = *cursor
	}

	for {
		page, err := s.api.Pull(ctx, PullRequest{
			DeviceID:          s.deviceID,
			LastSyncTimestamp: cursor,
			EntityTypes:       types,
			Limit:             s.pullLimit,
		})
		if err != nil {
			return report, fmt.Errorf("pull: %w", err)
		}

		if err := s.storage.SaveEntities(ctx, page.Data); err != nil {
			return report, err
		}
		if !report.Partial && !page.Timestamp.IsZero() {
			if err := s.storage.SetCheckpoint(ctx, page.Timestamp); err != nil {
				return report, err
			}
		}

		report.Pages++
		report.Entities += len(page.Data)
		report.Checkpoint = page.Timestamp

		if !page.HasMore {
			s.log.Info("pull finished",
				"pages", report.Pages,
				"entities", report.Entities,
				"checkpoint", report.Checkpoint,
				"partial", report.Partial,
			)
			return report, nil
		}
		if cursor != nil && !page.Timestamp.After(*cursor) {
			return report, fmt.Errorf("pull: checkpoint did not advance past %s", cursor.Format(time.RFC3339Nano))
		}

		next := page.Timestamp
		cursor = &next
	}
}

// Sync выполняет push, затем pull.
func (s *SyncService) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		return nil, fmt.Errorf("sync is already running")
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.mu.Unlock()
	}()

	result := &SyncResult{StartTime: s.now()}

	var err error
	result.Push, err = s.Push(ctx)
	if err != nil {
		return result, err
	}
	result.Pull, err = s.Pull(ctx, nil)
	if err != nil {
		return result, err
	}

	result.Duration = s.now().Sub(result.StartTime)
	return result, nil
}
