package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/go-playground/validator/v10"

	"github.com/goliatone/go-fitsync/core"
)

// RequestValidator adapts go-playground/validator to echo.Validator and
// reports failures as go-errors validation errors.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &RequestValidator{validate: v}
}

func (v *RequestValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return core.WrapError(core.KindInvalidRequest, err, "httpapi: request validation failed")
	}
	fields := make([]goerrors.FieldError, 0, len(invalid))
	for _, fieldErr := range invalid {
		fields = append(fields, goerrors.FieldError{
			Field:   fieldErr.Field(),
			Message: validationMessage(fieldErr),
		})
	}
	return goerrors.NewValidation("httpapi: request validation failed", fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorInvalidRequest).
		WithSeverity(goerrors.SeverityError)
}

func validationMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fieldErr.Field() + " is required"
	case "oneof":
		return fieldErr.Field() + " must be one of: " + fieldErr.Param()
	default:
		return fieldErr.Field() + " failed " + fieldErr.Tag() + " validation"
	}
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
