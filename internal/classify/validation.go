package classify

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// KindObjectID marks a field that failed to cast to a document reference.
	KindObjectID = "objectid"

	// TagObjectID is the validator tag registered by RegisterObjectID.
	TagObjectID = "objectid"
)

// FieldError is a single failing field of a validation error.
type FieldError struct {
	Field   string
	Kind    string
	Message string
}

// ValidationError is a ready-made FieldErrorer for callers that validate by hand.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Message != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Kind))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) FieldErrors() []FieldError {
	return e.Fields
}

// RegisterObjectID adds the objectid tag to v. Failures of that tag classify as ID casting errors.
func RegisterObjectID(v *validator.Validate) error {
	return v.RegisterValidation(TagObjectID, func(fl validator.FieldLevel) bool {
		return primitive.IsValidObjectID(fl.Field().String())
	})
}

// JSONFieldName is a validator tag name func reporting fields by their json
// name, so records read "ownerId" rather than "OwnerID".
func JSONFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}
