package api

import "time"

// Mutation представляет одну офлайн-мутацию в запросе синхронизации
type Mutation struct {
	CreatedAt     time.Time      `json:"created_at"`
	Payload       map[string]any `json:"payload,omitempty"`
	ID            string         `json:"id"`                        // UUID мутации, генерируется клиентом
	EntityType    string         `json:"entity_type"`               // целевая коллекция (course, lesson, progress, ...)
	EntityID      string         `json:"entity_id"`                 // идентификатор строки
	Operation     string         `json:"operation"`                 // create, update, delete
	BaseSyncToken string         `json:"base_sync_token,omitempty"` // sync_token, который видел клиент (нет для create)
	ClientVersion int64          `json:"client_version"`            // монотонный счётчик outbox на устройстве
}

// SyncRequest представляет пакет мутаций от клиента
type SyncRequest struct {
	ClientWatermark time.Time  `json:"client_watermark"`
	BatchID         string     `json:"batch_id" validate:"required,uuid"`
	Mutations       []Mutation `json:"mutations" validate:"required,min=1"`
}

// SyncOutcome результат применения одной мутации
type SyncOutcome struct {
	ServerState  map[string]any `json:"server_state,omitempty"`   // текущее состояние сущности (result = conflict)
	MutationID   string         `json:"mutation_id"`              // id мутации из запроса
	Result       string         `json:"result"`                   // applied, conflict, rejected, server_error
	NewSyncToken string         `json:"new_sync_token,omitempty"` // новый токен (result = applied)
	ErrorDetail  string         `json:"error_detail,omitempty"`   // причина (rejected, server_error)
}

// SyncResponse представляет ответ сервера на пакет мутаций.
// Outcomes имеет ту же длину и порядок, что и Mutations в запросе.
type SyncResponse struct {
	ServerTime time.Time     `json:"server_time"`
	BatchID    string        `json:"batch_id"`
	Outcomes   []SyncOutcome `json:"outcomes"`
}

// SyncStatusResponse сводка по последней синхронизации вызывающего пользователя
type SyncStatusResponse struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	ServerTime time.Time  `json:"server_time"`
	BatchID    string     `json:"batch_id,omitempty"`
	Applied    int        `json:"applied"`
	Conflicts  int        `json:"conflicts"`
	Rejected   int        `json:"rejected"`
}
