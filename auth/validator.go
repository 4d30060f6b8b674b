package auth

import (
	"unicode"

	"chatwire/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SignupRequest carries the credentials of a new account. Handles are
// lowercase alphanumeric plus underscore, 3 to 32 runes.
type SignupRequest struct {
	Handle   string `validate:"required,min=3,max=32"`
	Password string `validate:"required,min=12,max=72"`
}

func ValidateSignup(req SignupRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}

	if !isHandleValid(req.Handle) {
		return errors.ErrInvalidHandle
	}

	if !isPasswordComplex(req.Password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func isHandleValid(s string) bool {
	for _, r := range s {
		switch {
		case unicode.IsLower(r), unicode.IsDigit(r), r == '_':
		default:
			return false
		}
	}
	return true
}

func isPasswordComplex(s string) bool {
	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
