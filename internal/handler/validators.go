package handler

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"rental/internal/domain"
)

// RegisterValidators adds the domain validation tags to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("claimtype", validateClaimType); err != nil {
		return err
	}
	return v.RegisterValidation("eventkind", validateEventKind)
}

func validateClaimType(fl validator.FieldLevel) bool {
	field := fl.Field()
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return domain.ClaimType(field.Int()).IsValid()
	}
	return false
}

func validateEventKind(fl validator.FieldLevel) bool {
	return domain.EventKind(fl.Field().String()).IsValid()
}
