package engine

import (
	"fmt"

	"github.com/iudanet/learnsync/internal/models"
)

// selfOwnedFields поля user, которые владелец профиля менять не может
var selfOwnedFields = []string{"role", "is_active"}

// authorize проверяет, может ли caller выполнить мутацию.
// current может быть nil, если сущности еще нет.
func authorize(caller models.Caller, m *models.Mutation, current *models.Entity) error {
	switch m.EntityType {
	case models.EntityCourse, models.EntityLesson, models.EntityAssessment, models.EntityBadge:
		if caller.Role != models.RoleTeacher && caller.Role != models.RoleAdmin {
			return forbidden("%s writes require teacher or admin role", m.EntityType)
		}

	case models.EntityUser:
		if caller.Role == models.RoleAdmin {
			return nil
		}
		if m.EntityID != caller.ID {
			return forbidden("user %s may only be changed by its owner", m.EntityID)
		}
		for _, field := range selfOwnedFields {
			if _, ok := m.Payload[field]; ok {
				return forbidden("field %q may only be changed by admin", field)
			}
		}

	case models.EntityProgress, models.EntityAssessmentAttempt, models.EntityBadgeAward:
		if caller.Role != models.RoleStudent {
			return nil
		}
		if owner, ok := m.Payload["user_id"]; ok && owner != caller.ID {
			return forbidden("students may only write their own %s", m.EntityType)
		}
		if current != nil {
			if owner, ok := current.Fields["user_id"]; ok && owner != caller.ID {
				return forbidden("students may only write their own %s", m.EntityType)
			}
		}
	}

	return nil
}

func forbidden(format string, args ...any) error {
	return models.NewError(models.KindForbidden, fmt.Sprintf(format, args...), nil)
}
