package util

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 15
)

var validate = validator.New()

var phoneReplacer = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips formatting characters and a leading '+' from a phone number.
func NormalizePhone(raw string) string {
	phone := phoneReplacer.Replace(strings.TrimSpace(raw))
	return strings.TrimPrefix(phone, "+")
}

// ValidatePhone checks a normalized phone number: digits only, E.164 length bounds.
func ValidatePhone(phone string) error {
	return validate.Var(phone, "required,numeric,min=7,max=15")
}

// ValidateStruct runs `validate` tags on a request body.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// FirstInvalidField returns the JSON-facing field name of the first failed rule.
func FirstInvalidField(err error) (field string, tag string, ok bool) {
	errs, isValidation := err.(validator.ValidationErrors)
	if !isValidation || len(errs) == 0 {
		return "", "", false
	}
	return lowerFirst(errs[0].Field()), errs[0].Tag(), true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
