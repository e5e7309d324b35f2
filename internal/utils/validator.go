// internal/utils/validator.go
package utils

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var slotKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}$`)

func init() {
	validate = validator.New()
	for tag, fn := range map[string]validator.Func{
		"verification_code": validateVerificationCode,
		"slot_key":          validateSlotKey,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// Codes are accepted in any case, with or without the separator, as long as
// they normalize to the full code length.
func validateVerificationCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if code == "" {
		return true
	}
	normalized := strings.ReplaceAll(NormalizeVerificationCode(code), "-", "")
	if len(normalized) != VerificationCodeLength {
		return false
	}
	for _, r := range normalized {
		if !strings.ContainsRune(verificationCodeCharset, r) {
			return false
		}
	}
	return true
}

func validateSlotKey(fl validator.FieldLevel) bool {
	return slotKeyPattern.MatchString(fl.Field().String())
}

// ValidationError describes one failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		out = append(out, ValidationError{
			Field:   strings.ToLower(e.Field()),
			Tag:     e.Tag(),
			Message: getValidationMessage(e),
		})
	}
	return out
}

var fixedValidationMessages = map[string]string{
	"verification_code": "Verification code must be 10 characters, for example ABCDE-12345",
	"slot_key":          "Slot must be one of the offered slot keys",
}

func getValidationMessage(e validator.FieldError) string {
	if msg, ok := fixedValidationMessages[e.Tag()]; ok {
		return msg
	}
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min", "gte", "gt":
		return e.Field() + " must be at least " + e.Param()
	case "max", "lte":
		return e.Field() + " must be at most " + e.Param()
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	}
	return e.Field() + " is invalid"
}
