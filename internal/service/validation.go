package service

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"payments-portal/internal/errors"
)

// maxAmount keeps amounts inside NUMERIC(18,2).
var maxAmount = decimal.New(1, 16)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names so clients can map errors to inputs.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return d.IsPositive() && d.Equal(d.Truncate(2)) && d.LessThan(maxAmount)
	})

	return v
}

// validateStruct runs the struct's tags and returns every violated field,
// or nil when the value is valid.
func validateStruct(obj any) *errors.AppError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewAppError(errors.ValidationFailed, "invalid request data").WithDetails(err.Error())
	}

	fields := make([]errors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errors.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Tag:     fe.Tag(),
		})
	}
	return errors.NewValidationError(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "alphanum":
		return "Only letters and digits are allowed"
	case "numeric":
		return "Only digits are allowed"
	case "iso4217":
		return "Must be an ISO 4217 currency code"
	case "bic":
		return "Must be a valid SWIFT/BIC code"
	case "amount":
		return "Must be a positive amount with at most two decimal places"
	default:
		return "Invalid value"
	}
}
