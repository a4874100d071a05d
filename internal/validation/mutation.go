package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iudanet/learnsync/internal/models"
)

var validate = newValidator()

// newValidator создает validator, который называет поля по их json-именам
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct проверяет struct-теги validate (используется для конвертов запросов)
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return describe(err)
	}
	return nil
}

// ValidateMutation проверяет структурную корректность мутации.
// Возвращает *models.SyncError вида KindValidation; не имеет побочных эффектов.
func ValidateMutation(m *models.Mutation) error {
	if m == nil {
		return models.Validationf("mutation is nil")
	}

	if err := validate.Struct(m); err != nil {
		return models.Validationf("%s", describe(err))
	}

	if !m.EntityType.Valid() {
		return models.Validationf("unknown entity_type %q", m.EntityType)
	}

	switch m.Operation {
	case models.OpCreate:
		if m.BaseSyncToken != "" {
			return models.Validationf("base_sync_token must be absent for create")
		}
		if missing := missingRequired(m); len(missing) > 0 {
			return models.Validationf("create payload is missing required fields: %s", strings.Join(missing, ", "))
		}
	case models.OpUpdate:
		if m.BaseSyncToken == "" {
			return models.Validationf("base_sync_token is required for update")
		}
		if len(m.Payload) == 0 {
			return models.Validationf("update payload must not be empty")
		}
		if nulled := nulledRequired(m); len(nulled) > 0 {
			return models.Validationf("update payload cannot clear required fields: %s", strings.Join(nulled, ", "))
		}
	case models.OpDelete:
		if m.BaseSyncToken == "" {
			return models.Validationf("base_sync_token is required for delete")
		}
		if len(m.Payload) != 0 {
			return models.Validationf("delete payload must be empty")
		}
	}

	// Проверяем поля payload в детерминированном порядке, чтобы сообщение не зависело от обхода map
	fields := make([]string, 0, len(m.Payload))
	for field := range m.Payload {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !models.FieldAllowed(m.EntityType, field) {
			return models.Validationf("field %q is not allowed for %s", field, m.EntityType)
		}
	}

	return nil
}

func missingRequired(m *models.Mutation) []string {
	var missing []string
	for _, field := range models.RequiredFields(m.EntityType) {
		v, ok := m.Payload[field]
		if !ok || v == nil {
			missing = append(missing, field)
		}
	}
	return missing
}

// nulledRequired обязательные поля, которым update присваивает null
func nulledRequired(m *models.Mutation) []string {
	var nulled []string
	for _, field := range models.RequiredFields(m.EntityType) {
		if v, ok := m.Payload[field]; ok && v == nil {
			nulled = append(nulled, field)
		}
	}
	return nulled
}

// describe превращает ошибки validator в короткое читаемое сообщение
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed on %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
