package sync

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// EntityType тип бизнес-сущности, изменения которой проходят через очередь.
type EntityType string

const (
	EntityProduct       EntityType = "product"
	EntitySale          EntityType = "sale"
	EntityCustomer      EntityType = "customer"
	EntityPayment       EntityType = "payment"
	EntityStockMovement EntityType = "stock_movement"
	EntityCredit        EntityType = "credit"
)

// EntityTypes все известные типы сущностей в стабильном порядке.
var EntityTypes = []EntityType{
	EntityProduct,
	EntitySale,
	EntityCustomer,
	EntityPayment,
	EntityStockMovement,
	EntityCredit,
}

// ParseEntityType приводит строку к EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

func (t EntityType) Validate() error {
	switch t {
	case EntityProduct, EntitySale, EntityCustomer, EntityPayment, EntityStockMovement, EntityCredit:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEntityType, string(t))
}

func (t EntityType) String() string {
	return string(t)
}

func (EntityType) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Enum:        enumValues(EntityTypes),
		Description: "Тип бизнес-сущности",
		Examples:    []any{string(EntityProduct)},
	}
}

// Action операция над сущностью.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, string(a))
}

func (a Action) String() string {
	return string(a)
}

// NeedsData сообщает, требует ли операция полезную нагрузку.
func (a Action) NeedsData() bool {
	return a == ActionCreate || a == ActionUpdate
}

func (Action) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Enum:        enumValues(Actions),
		Description: "Операция над сущностью",
		Examples:    []any{string(ActionUpdate)},
	}
}

// Status состояние элемента очереди.
//
//	pending -> processing -> {completed, failed, conflict}
//	processing -> pending (повтор с задержкой)
//	conflict -> {completed, failed} (только через разрешение конфликта)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflict   Status = "conflict"
)

var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusConflict}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusConflict:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
}

func (s Status) String() string {
	return string(s)
}

// Terminal сообщает, является ли состояние конечным.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (Status) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Enum:        enumValues(Statuses),
		Description: "Состояние элемента очереди синхронизации",
		Examples:    []any{string(StatusPending)},
	}
}

// Resolution способ разрешения конфликта.
type Resolution string

const (
	ResolutionClientWins Resolution = "client_wins"
	ResolutionServerWins Resolution = "server_wins"
	ResolutionMerge      Resolution = "merge"
	ResolutionManual     Resolution = "manual"
)

var Resolutions = []Resolution{ResolutionClientWins, ResolutionServerWins, ResolutionMerge, ResolutionManual}

func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if err := r.Validate(); err != nil {
		return "", err
	}
	return r, nil
}

func (r Resolution) Validate() error {
	switch r {
	case ResolutionClientWins, ResolutionServerWins, ResolutionMerge, ResolutionManual:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownResolution, string(r))
}

func (r Resolution) String() string {
	return string(r)
}

// Reapplies сообщает, требует ли разрешение повторного применения данных к сущности.
func (r Resolution) Reapplies() bool {
	return r == ResolutionClientWins || r == ResolutionMerge
}

func (Resolution) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Enum:        enumValues(Resolutions),
		Description: "Способ разрешения конфликта",
		Examples:    []any{string(ResolutionServerWins)},
	}
}

func enumValues[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
