package handlers

import (
	"context"

	"github.com/iudanet/learnsync/internal/models"
)

// contextKey тип для ключей контекста
type contextKey string

// CallerKey ключ для хранения аутентифицированного вызывающего в контексте
const CallerKey contextKey = "caller"

// WithCaller кладет вызывающего в контекст запроса
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// CallerFrom извлекает вызывающего из контекста запроса
func CallerFrom(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(models.Caller)
	return caller, ok && caller.ID != ""
}
