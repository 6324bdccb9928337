package classify

import (
	"errors"
	"strings"

	"github.com/couchbase/gocb/v2"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgconn"
	"github.com/sijms/go-ora/v2/network"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	DuplicateKeyCode = 11000

	pgUniqueViolation   = "23505"
	oraUniqueConstraint = 1
)

// ShapeKind tags the variant returned by Describe.
type ShapeKind int

const (
	ShapeGeneric ShapeKind = iota
	ShapeDuplicateKey
	ShapeValidation
)

// Shape is what Describe learned about an error before any field extraction.
// Only the fields that belong to Kind are set.
type Shape struct {
	Kind ShapeKind

	// DuplicateKey: text the conflicting value is extracted from, or the value itself.
	Text  string
	Value string
	Match func(string) (string, bool)

	// Validation
	Fields []FieldError
}

// CodedError is the storage-layer duplicate key capability: a numeric code plus key pattern.
type CodedError interface {
	error
	ErrorCode() int
	KeyPattern() map[string]any
}

// FieldErrorer exposes per-field validation failures.
type FieldErrorer interface {
	error
	FieldErrors() []FieldError
}

// Describe inspects err and settles its variant. It never extracts record fields.
func Describe(err error) Shape {
	if err == nil {
		return Shape{Kind: ShapeGeneric}
	}
	if s, ok := describeDuplicateKey(err); ok {
		return s
	}
	if fields, ok := describeValidation(err); ok {
		return Shape{Kind: ShapeValidation, Fields: fields}
	}
	return Shape{Kind: ShapeGeneric}
}

func describeDuplicateKey(err error) (Shape, bool) {
	var coded CodedError
	if errors.As(err, &coded) && coded.ErrorCode() == DuplicateKeyCode && coded.KeyPattern() != nil {
		return Shape{Kind: ShapeDuplicateKey, Text: coded.Error(), Match: matchQuoted}, true
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, w := range we.WriteErrors {
			if w.Code == DuplicateKeyCode && hasKeyPattern(w.Raw) {
				return Shape{Kind: ShapeDuplicateKey, Text: w.Message, Match: matchQuoted}, true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, w := range bwe.WriteErrors {
			if w.Code == DuplicateKeyCode && hasKeyPattern(w.Raw) {
				return Shape{Kind: ShapeDuplicateKey, Text: w.Message, Match: matchQuoted}, true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == DuplicateKeyCode && hasKeyPattern(ce.Raw) {
		return Shape{Kind: ShapeDuplicateKey, Text: ce.Message, Match: matchQuoted}, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return Shape{Kind: ShapeDuplicateKey, Text: pgErr.Detail, Match: matchPgDetail}, true
	}

	var kvErr *gocb.KeyValueError
	if errors.Is(err, gocb.ErrDocumentExists) && errors.As(err, &kvErr) && kvErr.DocumentID != "" {
		return Shape{Kind: ShapeDuplicateKey, Value: kvErr.DocumentID}, true
	}

	var oraErr *network.OracleError
	if errors.As(err, &oraErr) && oraErr.ErrCode == oraUniqueConstraint {
		return Shape{Kind: ShapeDuplicateKey, Text: oraErr.ErrMsg, Match: matchOraConstraint}, true
	}

	return Shape{}, false
}

func hasKeyPattern(raw bson.Raw) bool {
	if len(raw) == 0 {
		return false
	}
	_, err := raw.LookupErr("keyPattern")
	return err == nil
}

func describeValidation(err error) ([]FieldError, bool) {
	var fe FieldErrorer
	if errors.As(err, &fe) {
		return fe.FieldErrors(), true
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make([]FieldError, 0, len(ve))
		for _, f := range ve {
			fields = append(fields, FieldError{
				Field:   f.Field(),
				Kind:    validatorKind(f.Tag()),
				Message: f.Error(),
			})
		}
		return fields, true
	}
	return nil, false
}

func validatorKind(tag string) string {
	switch strings.ToLower(tag) {
	case TagObjectID, "mongodb":
		return KindObjectID
	default:
		return tag
	}
}
