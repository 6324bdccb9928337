package model

const (
	DefaultErrorType    = "Error"
	DefaultErrorMessage = "Unknown error"
)

// Category is the classification outcome for an error value.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryDuplicateKey
	CategoryValidationField
)

func (c Category) String() string {
	switch c {
	case CategoryDuplicateKey:
		return "duplicate_key"
	case CategoryValidationField:
		return "validation_field"
	default:
		return "generic"
	}
}

// ClassifiedError is produced per error instance and consumed by the record builder.
type ClassifiedError struct {
	Category Category
	Name     string
	Message  string
	Stack    string
}

type ErrorMeta struct {
	Trace string `json:"meta"`
}

// ErrorRecord is the body posted to the errors endpoint.
type ErrorRecord struct {
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	Meta         ErrorMeta `json:"meta"`
}
