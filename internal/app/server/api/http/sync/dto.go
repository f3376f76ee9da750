package sync

import (
	"encoding/json"
	"time"

	"possync/internal/domain/sync"
)

type pushInput struct {
	Body sync.PushRequest
}

type pushOutput struct {
	Body *sync.PushResult
}

type pullInput struct {
	Body pullRequest
}

type pullRequest struct {
	DeviceID          string            `json:"device_id,omitempty" doc:"Идентификатор устройства"`
	LastSyncTimestamp *time.Time        `json:"last_sync_timestamp,omitempty" doc:"Контрольная точка; пусто означает с самого начала"`
	EntityTypes       []sync.EntityType `json:"entity_types,omitempty" doc:"Ограничить типами сущностей"`
	Limit             int               `json:"limit,omitempty" minimum:"0" doc:"Размер страницы, 0 означает значение по умолчанию"`
}

type pullOutput struct {
	Body *sync.PullResult
}

type statusOutput struct {
	Body *sync.StatusResult
}

type pendingInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"500" doc:"Сколько элементов вернуть"`
}

type pageInput struct {
	Limit  int `query:"limit" minimum:"0" maximum:"500" doc:"Сколько элементов вернуть"`
	Offset int `query:"offset" minimum:"0" doc:"Сколько элементов пропустить"`
}

type historyInput struct {
	Status string `query:"status" enum:"pending,processing,completed,failed,conflict" doc:"Фильтр по статусу"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" doc:"Сколько элементов вернуть"`
	Offset int    `query:"offset" minimum:"0" doc:"Сколько элементов пропустить"`
}

type itemsOutput struct {
	Body itemsResponse
}

type itemsResponse struct {
	Items []*sync.QueueItem `json:"items"`
	Count int               `json:"count"`
}

type resolveInput struct {
	ID   string `path:"id" format:"uuid" doc:"ID элемента очереди"`
	Body resolveRequest
}

type resolveRequest struct {
	Resolution sync.Resolution `json:"resolution"`
	Data       json.RawMessage `json:"data,omitempty" doc:"Итоговые данные для merge"`
}

type itemOutput struct {
	Body *sync.QueueItem
}

type devicesOutput struct {
	Body devicesResponse
}

type devicesResponse struct {
	Devices []*sync.Device `json:"devices"`
}

func newItemsOutput(items []*sync.QueueItem) *itemsOutput {
	if items == nil {
		items = []*sync.QueueItem{}
	}
	return &itemsOutput{Body: itemsResponse{Items: items, Count: len(items)}}
}
