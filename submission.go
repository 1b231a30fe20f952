package referral

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MinPhoneDigits is area code plus subscriber number.
const MinPhoneDigits = 11

// Submission is the raw referral form. Field order is the order in which
// missing fields are reported.
type Submission struct {
	FirstName          string `json:"first-name" validate:"filled"`
	LastName           string `json:"last-name" validate:"filled"`
	Email              string `json:"email" validate:"filled"`
	Whatsapp           string `json:"whatsapp" validate:"filled"`
	HeardAbout         string `json:"heard-about" validate:"filled"`
	ClientFirstName    string `json:"client-first-name" validate:"filled"`
	ClientLastName     string `json:"client-last-name" validate:"filled"`
	ClientEmail        string `json:"client-email" validate:"filled"`
	ClientWhatsapp     string `json:"client-whatsapp" validate:"filled"`
	ServiceType        string `json:"service-type" validate:"filled"`
	ProjectDescription string `json:"project-description" validate:"filled"`
}

// SubmissionKeys lists the wire keys of a Submission in declaration order.
var SubmissionKeys = []string{
	"first-name",
	"last-name",
	"email",
	"whatsapp",
	"heard-about",
	"client-first-name",
	"client-last-name",
	"client-email",
	"client-whatsapp",
	"service-type",
	"project-description",
}

// Set assigns value to the field carrying the given wire key. Unknown keys
// are ignored and reported as false.
func (s *Submission) Set(key, value string) bool {
	field, ok := s.fields()[key]
	if !ok {
		return false
	}
	*field = value
	return true
}

func (s *Submission) fields() map[string]*string {
	return map[string]*string{
		"first-name":          &s.FirstName,
		"last-name":           &s.LastName,
		"email":               &s.Email,
		"whatsapp":            &s.Whatsapp,
		"heard-about":         &s.HeardAbout,
		"client-first-name":   &s.ClientFirstName,
		"client-last-name":    &s.ClientLastName,
		"client-email":        &s.ClientEmail,
		"client-whatsapp":     &s.ClientWhatsapp,
		"service-type":        &s.ServiceType,
		"project-description": &s.ProjectDescription,
	}
}

// Validator checks submissions. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	// "0" counts as not filled in, like an empty form value.
	v.RegisterValidation("filled", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value != "" && value != "0"
	})
	return &Validator{validate: v}
}

// Prepare validates the submission and returns the normalized referrer and
// client. Presence of every field is checked first, then referrer email,
// client email, referrer phone and client phone. Only the first failure is
// reported.
func (v *Validator) Prepare(s Submission) (Referrer, Client, error) {
	if err := v.validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return Referrer{}, Client{}, &ValidationError{
				Field: field,
				Msg:   fmt.Sprintf("field %s is required", field),
			}
		}
		return Referrer{}, Client{}, err
	}

	referrer := Referrer{
		Name:   FullName(s.FirstName, s.LastName),
		Email:  SanitizeEmail(s.Email),
		Phone:  DigitsOnly(s.Whatsapp),
		Source: EscapeText(s.HeardAbout),
	}
	client := Client{
		Name:        FullName(s.ClientFirstName, s.ClientLastName),
		Email:       SanitizeEmail(s.ClientEmail),
		Phone:       DigitsOnly(s.ClientWhatsapp),
		ServiceType: EscapeText(s.ServiceType),
		Description: EscapeText(s.ProjectDescription),
	}

	switch {
	case !v.IsEmail(referrer.Email):
		return referrer, client, &ValidationError{Field: "email", Msg: "referrer email is invalid"}
	case !v.IsEmail(client.Email):
		return referrer, client, &ValidationError{Field: "client-email", Msg: "client email is invalid"}
	case len(referrer.Phone) < MinPhoneDigits:
		return referrer, client, &ValidationError{Field: "whatsapp", Msg: "referrer whatsapp must include area code and full number"}
	case len(client.Phone) < MinPhoneDigits:
		return referrer, client, &ValidationError{Field: "client-whatsapp", Msg: "client whatsapp must include area code and full number"}
	}

	return referrer, client, nil
}

// IsEmail reports whether s is a well-formed address.
func (v *Validator) IsEmail(s string) bool {
	return s != "" && v.validate.Var(s, "email") == nil
}

var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#039;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeText neutralizes markup in free text. Quotes are written as &quot;
// and &#039;, the form already stored by earlier versions of the form.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

func FullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

// SanitizeEmail drops every character that cannot appear in an address.
func SanitizeEmail(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (isASCIIAlnum(r) || strings.ContainsRune("!#$%&'*+-=?^_`{|}~@.[]", r)) {
			return r
		}
		return -1
	}, s)
}

// DigitsOnly strips everything but 0-9.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
