package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-push",
		Method:        http.MethodPost,
		Path:          "/sync/push",
		Summary:       "Отправить изменения устройства",
		Description:   "Ставит пакет офлайн-изменений в очередь. Каждое изменение обрабатывается независимо: результат по нему в results.",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusOK,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) pullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pull",
		Method:      http.MethodPost,
		Path:        "/sync/pull",
		Summary:     "Получить серверные изменения",
		Description: "Возвращает сущности, измененные после last_sync_timestamp. Следующий запрос делается с timestamp из ответа, пока has_more=true.",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statusOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/sync/status",
		Summary:     "Сводка по очереди магазина",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pendingOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pending",
		Method:      http.MethodGet,
		Path:        "/sync/pending",
		Summary:     "Изменения, ожидающие применения",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) conflictsOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-conflicts",
		Method:      http.MethodGet,
		Path:        "/sync/conflicts",
		Summary:     "Неразрешенные конфликты",
		Tags:        []string{"sync", "conflicts"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) resolveOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/sync/conflicts/{id}/resolve",
		Summary:     "Разрешить конфликт",
		Description: "server_wins и manual закрывают конфликт без изменения сущности, client_wins применяет исходное изменение, merge применяет переданные data.",
		Tags:        []string{"sync", "conflicts"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) historyOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-history",
		Method:      http.MethodGet,
		Path:        "/sync/history",
		Summary:     "Журнал изменений магазина",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) devicesOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-devices",
		Method:      http.MethodGet,
		Path:        "/sync/devices",
		Summary:     "Устройства магазина",
		Description: "Возвращает устройства магазина со временем последних push и pull",
		Tags:        []string{"sync", "devices"},
		Middlewares: h.middleware,
	}
}
