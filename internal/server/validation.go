package server

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/paydesk/internal/money"
)

var registerValidatorsOnce sync.Once

// registerValidators adds the money and currency tags to gin's validator.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("money", validateMoney)
		_ = v.RegisterValidation("currency", validateCurrency)
	})
}

func validateMoney(fl validator.FieldLevel) bool {
	_, err := money.ParseAmount(fl.Field().String())
	return err == nil
}

func validateCurrency(fl validator.FieldLevel) bool {
	_, err := money.NormalizeCurrency(fl.Field().String())
	return err == nil
}

// bindError turns a gin binding failure into field level validation errors.
func bindError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range ve {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    codeForTag(fe.Tag()),
			Message: messageForTag(fe.Tag(), fe.Param()),
		})
	}
	return out
}

func codeForTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "money":
		return "invalid_amount"
	case "currency":
		return "invalid_currency"
	default:
		return "invalid_value"
	}
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "field is required"
	case "money":
		return "amount must be a positive decimal with at most two fraction digits"
	case "currency":
		return "currency must be a three letter ISO code"
	case "max":
		return "must be at most " + param + " characters"
	case "email":
		return "must be a valid email address"
	default:
		return "invalid value"
	}
}
