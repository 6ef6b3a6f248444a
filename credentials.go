package authgate

import (
	"regexp"
	"strings"
)

// MinPasswordLength applies to registration only; login accepts any
// non-empty password so old accounts keep working.
const MinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	PasswordRepeat string `json:"passwordRepeat"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// Validate checks the registration fields and returns the core input
func (r *RegisterRequest) Validate() (RegisterInput, error) {
	email := strings.TrimSpace(r.Email)
	name := strings.TrimSpace(r.Name)
	if !emailRegex.MatchString(email) {
		return RegisterInput{}, NewFieldError("email", "invalid email format")
	}
	if name == "" {
		return RegisterInput{}, NewFieldError("name", "name is required")
	}
	if len(r.Password) < MinPasswordLength {
		return RegisterInput{}, NewFieldError("password", "password must be at least 6 characters")
	}
	if r.PasswordRepeat != "" && r.PasswordRepeat != r.Password {
		return RegisterInput{}, NewFieldError("passwordRepeat", "passwords do not match")
	}
	return RegisterInput{Email: email, Name: name, Password: r.Password}, nil
}

// Validate checks the login fields and returns the core input
func (r *LoginRequest) Validate() (LoginInput, error) {
	email := strings.TrimSpace(r.Email)
	if !emailRegex.MatchString(email) {
		return LoginInput{}, NewFieldError("email", "invalid email format")
	}
	if r.Password == "" {
		return LoginInput{}, NewFieldError("password", "password is required")
	}
	return LoginInput{Email: email, Password: r.Password, Code: strings.TrimSpace(r.Code)}, nil
}
