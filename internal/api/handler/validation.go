package handler

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names rather than Go ones.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateStruct returns the first tag violation as an INVALID_VALUE error.
func validateStruct(payload any) error {
	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.ErrInvalidRequest.Wrap(err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return domain.ErrInvalidRequest.WithMessage("'%s' is required", fe.Field())
	case "len":
		return domain.ErrInvalidRequest.WithMessage("'%s' must be %s characters", fe.Field(), fe.Param())
	case "numeric":
		return domain.ErrInvalidRequest.WithMessage("'%s' must contain only digits", fe.Field())
	default:
		return domain.ErrInvalidRequest.WithMessage("'%s' is invalid", fe.Field())
	}
}
