package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every error returned from Required and Format.
var ErrInvalid = errors.New("invalid payload")

// Payload structs carry two tag sets: `validate:"required"` for presence and
// `format:"..."` for the shape checks above. They run as separate passes because the
// callables bind the caller identity in between.
var (
	presence = newValidator("validate")
	format   = newFormatValidator()
)

// Required reports the first field tagged `validate:"required"` that is empty.
func Required(payload any) error {
	return run(presence, payload)
}

// Format reports the first field whose `format` tag rejects its value.
func Format(payload any) error {
	return run(format, payload)
}

func run(v *validator.Validate, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: %s failed %s", ErrInvalid, fieldErrs[0].Field(), fieldErrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalid, err)
}

func newValidator(tag string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName(tag)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func newFormatValidator() *validator.Validate {
	v := newValidator("format")
	rules := map[string]func(string) bool{
		"account_email": IsValidEmail,
		"uid":           IsValidUID,
		"role":          IsValidRole,
		"phone":         IsValidPhone,
		"cpf":           IsValidCPF,
		"cnpj":          IsValidCNPJ,
	}
	for tag, fn := range rules {
		fn := fn
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return fn(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("validate: register %s: %v", tag, err))
		}
	}
	return v
}
