package models

import "time"

// Entity представляет строку авторитетного хранилища.
// Поля сущности хранятся как JSON-объект, sync_token регенерируется при каждой записи.
type Entity struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Fields    map[string]any `json:"fields"`
	Type      EntityType     `json:"entity_type"`
	ID        string         `json:"id"`
	SyncToken string         `json:"sync_token"`
	Deleted   bool           `json:"deleted"`
}

// State возвращает состояние сущности в виде, пригодном для отправки клиенту
// в server_state: поля строки плюс id, sync_token и updated_at.
func (e *Entity) State() map[string]any {
	state := cloneFields(e.Fields)
	if state == nil {
		state = make(map[string]any, 4)
	}
	state["id"] = e.ID
	state["sync_token"] = e.SyncToken
	state["updated_at"] = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if e.Deleted {
		state["deleted"] = true
	}
	return state
}

// Merge накладывает поля patch на текущие поля сущности
func (e *Entity) Merge(patch map[string]any) map[string]any {
	merged := cloneFields(e.Fields)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
