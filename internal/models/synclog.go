package models

import "time"

// SyncLogEntry запись журнала идемпотентности.
// Хранит итог обработки мутации, чтобы повторная доставка с тем же id вернула тот же результат.
type SyncLogEntry struct {
	CreatedAt  time.Time
	Outcome    Outcome
	MutationID string
	BatchID    string
	UserID     string
	EntityType EntityType
	EntityID   string
	Operation  Operation
}

// SyncStatus сводка по последнему пакету пользователя, оставившему записи в журнале.
// Повторная доставка уже записанных мутаций новых записей не создает.
type SyncStatus struct {
	LastSyncAt *time.Time
	BatchID    string
	Applied    int
	Conflicts  int
	Rejected   int
}
