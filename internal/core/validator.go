package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"mayroga/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the API's custom tags:
//
//	nickname  trimmed, 1..64 runes, no control characters
//	lang      empty, "es" or "en" (any case)
//
// Field names in errors use the json tag so clients see the wire name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("nickname", validateNickname)
	_ = v.RegisterValidation("lang", validateLang)

	return &Validator{validate: v, logger: logger}
}

func validateNickname(fl validator.FieldLevel) bool {
	_, problem := types.CheckNickname(fl.Field().String())
	return problem == ""
}

func validateLang(fl validator.FieldLevel) bool {
	switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
	case "", "es", "en":
		return true
	}
	return false
}

// ValidateStruct runs the struct rules on s. Failures come back as a single
// *types.AppError whose code reflects the first failing rule and whose
// details list every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		v.logger.Error("validator called with non-struct", "type", fmt.Sprintf("%T", s))
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidField, "request validation failed", err)
	}

	list := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		list = append(list, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fieldMessage(fe),
		})
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		fieldMessage(first),
		err,
		map[string]any{"validation_errors": list},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_without", "required_unless":
		return types.ErrCodeValidationMissingField
	case "nickname":
		return types.ErrCodeValidationInvalidNickname
	default:
		return types.ErrCodeValidationInvalidField
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_unless":
		return fe.Field() + " is required"
	case "nickname":
		return fe.Field() + " must be 1 to 64 printable characters"
	case "lang":
		return fe.Field() + " must be es or en"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
