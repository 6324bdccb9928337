// Package classify maps arbitrary error values onto the three record categories
// understood by the collector: duplicate key, validation field and generic.
package classify

import (
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/metrics"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const (
	DuplicateKeyName = "MongoDuplicateKeyError"
	ValidationName   = "ValidationError"
)

// Namer lets an error choose the name reported as error_type.
type Namer interface {
	Name() string
}

// StackTracer exposes a captured stack trace.
type StackTracer interface {
	Stack() string
}

type Classifier struct {
	logger  *zerolog.Logger
	metrics *metrics.MetricsCollector
}

// NewClassifier returns a classifier logging to logger. m may be nil.
func NewClassifier(logger *zerolog.Logger, m *metrics.MetricsCollector) *Classifier {
	if logger == nil {
		logger = &log.Logger
	}
	return &Classifier{logger: logger, metrics: m}
}

// Classify returns the records err should produce. A duplicate key error whose
// value cannot be extracted, or a validation error without ID casting failures,
// yields none.
func (c *Classifier) Classify(err error) (out []model.ClassifiedError) {
	if err == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Interface("panic", r).Msg("Error classification panicked, reporting as generic")
			out = []model.ClassifiedError{{
				Category: model.CategoryGeneric,
				Name:     model.DefaultErrorType,
				Message:  fmt.Sprint(r),
			}}
		}
	}()

	shape := Describe(err)
	defer func() {
		if c.metrics != nil {
			for _, ce := range out {
				c.metrics.IncClassified(ce.Category.String())
			}
		}
	}()

	switch shape.Kind {
	case ShapeDuplicateKey:
		return c.duplicateKey(err, shape)
	case ShapeValidation:
		return c.validation(err, shape)
	default:
		return []model.ClassifiedError{{
			Category: model.CategoryGeneric,
			Name:     NameOf(err),
			Message:  err.Error(),
			Stack:    StackOf(err),
		}}
	}
}

func (c *Classifier) duplicateKey(err error, shape Shape) []model.ClassifiedError {
	value := shape.Value
	if shape.Match != nil {
		var ok bool
		if value, ok = shape.Match(shape.Text); !ok {
			c.logger.Warn().
				Str("message", shape.Text).
				Msg("Duplicate key value not found in error message, record dropped")
			return nil
		}
	} else if value == "" {
		return nil
	}
	return []model.ClassifiedError{{
		Category: model.CategoryDuplicateKey,
		Name:     DuplicateKeyName,
		Message:  value + " Already exists in DB",
		Stack:    StackOf(err),
	}}
}

func (c *Classifier) validation(err error, shape Shape) []model.ClassifiedError {
	var out []model.ClassifiedError
	stack := StackOf(err)
	for _, f := range shape.Fields {
		if f.Kind != KindObjectID {
			c.logger.Info().
				Str("field", f.Field).
				Str("kind", f.Kind).
				Str("error", f.Message).
				Msg("Validation error not forwarded")
			continue
		}
		out = append(out, model.ClassifiedError{
			Category: model.CategoryValidationField,
			Name:     ValidationName,
			Message:  fmt.Sprintf("Invalid %s ID provided!", f.Field),
			Stack:    stack,
		})
	}
	return out
}

// NameOf reports the Name of err if it has one, else the name of its exported
// type outside the standard library, else the default error type.
func NameOf(err error) string {
	if err == nil {
		return model.DefaultErrorType
	}
	var n Namer
	if errors.As(err, &n) {
		if name := n.Name(); name != "" {
			return name
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !exportedName(t) {
		return model.DefaultErrorType
	}
	return t.String()
}

// exportedName is false for unnamed, unexported and standard library types,
// whose names mean nothing to a reader of the record.
func exportedName(t reflect.Type) bool {
	name := t.Name()
	if name == "" || !token.IsExported(name) {
		return false
	}
	first, _, _ := strings.Cut(t.PkgPath(), "/")
	return strings.Contains(first, ".")
}

// StackOf returns the first stack trace found in the chain of err.
func StackOf(err error) string {
	var st StackTracer
	if errors.As(err, &st) {
		return st.Stack()
	}
	return ""
}
