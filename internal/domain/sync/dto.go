package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Change одно изменение, записанное устройством офлайн.
//
// entity_type и action принимаются строками: неизвестное значение отклоняет
// только это изменение, а не весь пакет.
type Change struct {
	EntityType      string          `json:"entity_type" doc:"Тип сущности" example:"product"`
	EntityID        string          `json:"entity_id" doc:"Идентификатор сущности" example:"p-100"`
	Action          string          `json:"action" doc:"create, update или delete" example:"update"`
	Data            json.RawMessage `json:"data,omitempty" doc:"Полезная нагрузка (JSON-объект)"`
	ClientTimestamp *time.Time      `json:"client_timestamp,omitempty" doc:"Время изменения на устройстве (обязательно)"`
	Priority        *int            `json:"priority,omitempty" doc:"Приоритет 1..10, по умолчанию 5"`
	BaseRevision    *int64          `json:"base_revision,omitempty" doc:"Ревизия сущности, от которой построено изменение"`
}

// PushRequest пакет изменений устройства.
type PushRequest struct {
	ShopID            int64      `json:"-"`
	UserID            int64      `json:"-"`
	DeviceID          string     `json:"device_id" minLength:"1" doc:"Идентификатор устройства"`
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp,omitempty" doc:"Контрольная точка последнего pull устройства"`
	Changes           []Change   `json:"changes" doc:"Изменения в порядке записи"`
}

// Outcome результат обработки одного изменения при push.
type Outcome string

const (
	OutcomeEnqueued  Outcome = "enqueued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
	OutcomeRejected  Outcome = "rejected"
)

// ChangeResult результат по одному изменению.
type ChangeResult struct {
	Index      int          `json:"index"`
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Outcome    Outcome      `json:"outcome"`
	ItemID     *uuid.UUID   `json:"item_id,omitempty"`
	Status     Status       `json:"status,omitempty"`
	Resolution *Resolution  `json:"resolution,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	Warning    string       `json:"warning,omitempty"`
}

// PushResult итог обработки пакета.
type PushResult struct {
	Results    []ChangeResult `json:"results"`
	Enqueued   int            `json:"enqueued"`
	Duplicates int            `json:"duplicates"`
	Conflicts  int            `json:"conflicts"`
	Rejected   int            `json:"rejected"`
}

func (r *PushResult) add(res ChangeResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeEnqueued:
		r.Enqueued++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeRejected:
		r.Rejected++
	}
}

// PullRequest запрос ленты изменений.
type PullRequest struct {
	ShopID            int64
	UserID            int64
	DeviceID          string
	LastSyncTimestamp time.Time
	EntityTypes       []EntityType
	Limit             int
}

// PulledEntity серверное изменение, отдаваемое устройству.
type PulledEntity struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	Revision   int64           `json:"revision"`
	Deleted    bool            `json:"deleted"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PullResult страница ленты изменений.
type PullResult struct {
	Data      []PulledEntity `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	HasMore   bool           `json:"has_more"`
}

// ResolveRequest решение оператора по конфликту.
type ResolveRequest struct {
	ShopID     int64
	UserID     int64
	ItemID     uuid.UUID
	Resolution Resolution
	Data       json.RawMessage
}

// StatusResult сводка состояния синхронизации магазина.
type StatusResult struct {
	Pending    int        `json:"pending" doc:"Изменения, ожидающие применения (включая выполняющиеся)"`
	Conflicts  int        `json:"conflicts"`
	Failed     int        `json:"failed"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty" doc:"Время последнего успешно примененного изменения"`
	HasIssues  bool       `json:"has_issues"`
}
