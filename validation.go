package authcore

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
)

// inputValidator checks registration and login input before any storage
// access. Tag names match RegisterRequest.
type inputValidator struct {
	validate *validator.Validate
	cfg      RegistrationConfig
}

func newInputValidator(cfg RegistrationConfig) *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.ToLower(f.Name)
	})
	_ = v.RegisterValidation("email_strict", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return passwordAcceptable(fl.Field().String(), cfg)
	})
	return &inputValidator{validate: v, cfg: cfg}
}

// passwordAcceptable enforces length bounds in characters plus at least one
// letter and one digit. Other characters are allowed.
func passwordAcceptable(p string, cfg RegistrationConfig) bool {
	n := utf8.RuneCountInString(p)
	if n < cfg.MinPasswordLength || n > cfg.MaxPasswordLength {
		return false
	}
	var letter, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// Struct validates req and reports the first failing field.
func (v *inputValidator) Struct(req any) error {
	return v.translate(v.validate.Struct(req))
}

// Email validates a single login identifier.
func (v *inputValidator) Email(email string) error {
	if err := v.validate.Var(email, "required,max=254,email_strict"); err != nil {
		return invalidField("email", "invalid format")
	}
	return nil
}

func (v *inputValidator) translate(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidField("request", "invalid")
	}
	fe := fieldErrs[0]
	return invalidField(fe.Field(), v.reason(fe.Tag()))
}

func (v *inputValidator) reason(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "max":
		return "too long"
	case "email_strict":
		return "invalid format"
	case "username":
		return "must be 3 to 32 letters, digits, '_', '.' or '-'"
	case "password":
		return fmt.Sprintf("must be %d to %d characters with at least one letter and one digit",
			v.cfg.MinPasswordLength, v.cfg.MaxPasswordLength)
	default:
		return "invalid"
	}
}
