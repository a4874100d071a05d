package models

import "time"

// EntityType определяет целевую коллекцию мутации
type EntityType string

// Поддерживаемые типы сущностей
const (
	EntityUser              EntityType = "user"
	EntityCourse            EntityType = "course"
	EntityLesson            EntityType = "lesson"
	EntityProgress          EntityType = "progress"
	EntityAssessment        EntityType = "assessment"
	EntityAssessmentAttempt EntityType = "assessment_attempt"
	EntityBadge             EntityType = "badge"
	EntityBadgeAward        EntityType = "badge_award"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	_, ok := entitySchemas[t]
	return ok
}

// Operation тип изменения
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is create, update or delete.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// MutationStatus жизненный цикл мутации на клиенте
type MutationStatus string

const (
	StatusPending    MutationStatus = "pending"
	StatusInFlight   MutationStatus = "in_flight"
	StatusAcked      MutationStatus = "acked"
	StatusConflicted MutationStatus = "conflicted"
	StatusFailed     MutationStatus = "failed"
)

// Mutation представляет атомарную единицу офлайн-работы.
// CreatedAt носит справочный характер и никогда не используется для разрешения конфликтов.
// NextAttemptAt, ServerState, Status, LastResult, LastError и Attempts живут только в outbox клиента
// и не передаются на сервер.
type Mutation struct {
	CreatedAt     time.Time      `json:"created_at"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	Payload       map[string]any `json:"payload,omitempty"`
	ServerState   map[string]any `json:"server_state,omitempty"`
	ID            string         `json:"id" validate:"required,uuid"`
	EntityType    EntityType     `json:"entity_type" validate:"required"`
	EntityID      string         `json:"entity_id" validate:"required,max=128"`
	Operation     Operation      `json:"operation" validate:"required,oneof=create update delete"`
	BaseSyncToken string         `json:"base_sync_token,omitempty" validate:"max=100"`
	Status        MutationStatus `json:"status"`
	LastResult    Result         `json:"last_result,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	ClientVersion int64          `json:"client_version"`
	Attempts      int            `json:"attempts"`
}

// EntityKey возвращает ключ сущности, по которому упорядочиваются мутации
func (m *Mutation) EntityKey() EntityKey {
	return EntityKey{Type: m.EntityType, ID: m.EntityID}
}

// Clone создает глубокую копию мутации (payload копируется поверхностно по значениям)
func (m *Mutation) Clone() *Mutation {
	c := *m
	c.Payload = cloneFields(m.Payload)
	c.ServerState = cloneFields(m.ServerState)
	return &c
}

// EntityKey identifies one row of the authoritative store.
type EntityKey struct {
	Type EntityType
	ID   string
}

// String implements fmt.Stringer.
func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Result итог обработки мутации сервером
type Result string

const (
	ResultApplied     Result = "applied"
	ResultConflict    Result = "conflict"
	ResultRejected    Result = "rejected"
	ResultServerError Result = "server_error"
)

// Outcome представляет результат применения одной мутации
type Outcome struct {
	ServerState  map[string]any `json:"server_state,omitempty"`
	MutationID   string         `json:"mutation_id"`
	Result       Result         `json:"result"`
	NewSyncToken string         `json:"new_sync_token,omitempty"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
}

// Batch пакет мутаций, отправляемый одним запросом
type Batch struct {
	ClientWatermark time.Time
	ID              string
	Mutations       []*Mutation
}

func cloneFields(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
