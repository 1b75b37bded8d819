// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package collector

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance returns the shared validator, creating it on first use.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRequest validates the collect payload and translates failures into
// field-level messages suitable for the error response.
func validateRequest(req *CollectEventRequest) []string {
	err := validatorInstance().Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldMessage(fe))
	}
	return details
}

// fieldMessage renders one validation failure as "field: reason" using the
// JSON field name.
func fieldMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "uuid":
		return fmt.Sprintf("%s: must be a valid UUID", field)
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s: must be an RFC3339 timestamp", field)
	default:
		return fmt.Sprintf("%s: failed %s validation", field, fe.Tag())
	}
}

// jsonFieldName maps struct field names to their wire names.
func jsonFieldName(structField string) string {
	switch structField {
	case "EventID":
		return "event_id"
	case "EventName":
		return "event_name"
	case "EventType":
		return "event_type"
	case "Properties":
		return "properties"
	case "Timestamp":
		return "timestamp"
	default:
		return strings.ToLower(structField)
	}
}
