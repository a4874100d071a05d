package models

import "github.com/iudanet/learnsync/pkg/api"

// ToAPI переводит мутацию в wire-формат; локальные поля outbox не передаются
func (m *Mutation) ToAPI() api.Mutation {
	return api.Mutation{
		CreatedAt:     m.CreatedAt,
		Payload:       m.Payload,
		ID:            m.ID,
		EntityType:    string(m.EntityType),
		EntityID:      m.EntityID,
		Operation:     string(m.Operation),
		BaseSyncToken: m.BaseSyncToken,
		ClientVersion: m.ClientVersion,
	}
}

// MutationFromAPI переводит wire-мутацию в модель
func MutationFromAPI(m api.Mutation) *Mutation {
	return &Mutation{
		CreatedAt:     m.CreatedAt,
		Payload:       m.Payload,
		ID:            m.ID,
		EntityType:    EntityType(m.EntityType),
		EntityID:      m.EntityID,
		Operation:     Operation(m.Operation),
		BaseSyncToken: m.BaseSyncToken,
		ClientVersion: m.ClientVersion,
	}
}

// ToAPI переводит результат в wire-формат
func (o Outcome) ToAPI() api.SyncOutcome {
	return api.SyncOutcome{
		ServerState:  o.ServerState,
		MutationID:   o.MutationID,
		Result:       string(o.Result),
		NewSyncToken: o.NewSyncToken,
		ErrorDetail:  o.ErrorDetail,
	}
}

// OutcomeFromAPI переводит wire-результат в модель
func OutcomeFromAPI(o api.SyncOutcome) Outcome {
	return Outcome{
		ServerState:  o.ServerState,
		MutationID:   o.MutationID,
		Result:       Result(o.Result),
		NewSyncToken: o.NewSyncToken,
		ErrorDetail:  o.ErrorDetail,
	}
}
