package models

import "sort"

// entitySchemas описывает поля, допустимые в payload для каждого типа сущности.
// Значение true означает, что поле обязательно при create.
var entitySchemas = map[EntityType]map[string]bool{
	EntityUser: {
		"username":           true,
		"first_name":         true,
		"last_name":          true,
		"email":              false,
		"phone_number":       false,
		"date_of_birth":      false,
		"gender":             false,
		"role":               false,
		"preferred_language": false,
		"location":           false,
		"camp_name":          false,
		"is_active":          false,
	},
	EntityCourse: {
		"title":                true,
		"description":          false,
		"category":             false,
		"difficulty_level":     false,
		"estimated_duration":   false,
		"thumbnail_url":        false,
		"is_offline_available": false,
		"created_by":           false,
		"is_published":         false,
	},
	EntityLesson: {
		"course_id":     true,
		"title":         true,
		"order_index":   true,
		"description":   false,
		"content_type":  false,
		"content_data":  false,
		"duration":      false,
		"is_mandatory":  false,
		"prerequisites": false,
	},
	EntityProgress: {
		"user_id":             true,
		"lesson_id":           true,
		"course_id":           false,
		"status":              false,
		"progress_percentage": false,
		"time_spent":          false,
		"last_accessed_at":    false,
		"completed_at":        false,
	},
	EntityAssessment: {
		"lesson_id":     true,
		"title":         true,
		"questions":     true,
		"description":   false,
		"passing_score": false,
		"max_attempts":  false,
		"time_limit":    false,
	},
	EntityAssessmentAttempt: {
		"user_id":        true,
		"assessment_id":  true,
		"answers":        true,
		"score":          false,
		"passed":         false,
		"time_taken":     false,
		"attempt_number": false,
	},
	EntityBadge: {
		"name":        true,
		"description": false,
		"icon_url":    false,
		"criteria":    false,
		"points":      false,
		"rarity":      false,
	},
	EntityBadgeAward: {
		"user_id":   true,
		"badge_id":  true,
		"earned_at": false,
	},
}

// reservedFields управляются хранилищем и не могут приходить в payload
var reservedFields = map[string]struct{}{
	"id":         {},
	"sync_token": {},
	"created_at": {},
	"updated_at": {},
	"deleted":    {},
}

// EntityTypes returns all known entity types in lexical order.
func EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(entitySchemas))
	for t := range entitySchemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// FieldAllowed reports whether field may appear in a payload for entity type t.
func FieldAllowed(t EntityType, field string) bool {
	if _, reserved := reservedFields[field]; reserved {
		return false
	}
	fields, ok := entitySchemas[t]
	if !ok {
		return false
	}
	_, ok = fields[field]
	return ok
}

// RequiredFields returns the fields a create payload for t must carry, sorted.
func RequiredFields(t EntityType) []string {
	var required []string
	for field, req := range entitySchemas[t] {
		if req {
			required = append(required, field)
		}
	}
	sort.Strings(required)
	return required
}
