// Package forms implements declarative validation for user-submitted
// forms. Rules accumulate field-level error messages; a form with any
// error blocks the write and is re-rendered with the messages.
package forms

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

type Errors map[string][]string

func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Get returns the first error message for the field, or "".
func (e Errors) Get(field string) string {
	if len(e[field]) == 0 {
		return ""
	}
	return e[field][0]
}

type Form struct {
	url.Values
	Errors Errors
}

func New(data url.Values) *Form {
	return &Form{
		Values: data,
		Errors: Errors{},
	}
}

// Required adds an error for every listed field that is empty or blank.
func (f *Form) Required(fields ...string) {
	for _, field := range fields {
		if strings.TrimSpace(f.Get(field)) == "" {
			f.Errors.Add(field, "This field is required.")
		}
	}
}

// Length enforces rune-count bounds on a field. A max of 0 means no
// upper bound. Empty fields are skipped so Length composes with
// Required instead of doubling up its message.
func (f *Form) Length(field string, min, max int) {
	value := f.Get(field)
	if value == "" {
		return
	}
	n := utf8.RuneCountInString(value)
	if n < min {
		f.Errors.Add(field, fmt.Sprintf("Field must be at least %d characters long.", min))
	}
	if max > 0 && n > max {
		f.Errors.Add(field, fmt.Sprintf("Field cannot be longer than %d characters.", max))
	}
}

// MatchesEmail checks the field parses as an email address.
func (f *Form) MatchesEmail(field string) {
	value := f.Get(field)
	if value == "" {
		return
	}
	if addr, err := mail.ParseAddress(value); err != nil || addr.Address != value {
		f.Errors.Add(field, "Invalid email address.")
	}
}

// EqualTo checks the field equals another field.
func (f *Form) EqualTo(field, other string) {
	if f.Get(field) != f.Get(other) {
		f.Errors.Add(field, "Fields do not match.")
	}
}

// Unique runs a lookup against stored data and adds message when the
// value is already taken. Used for the username/email checks at
// registration; the storage-level unique index remains the source of
// truth for correctness under concurrent submissions.
func (f *Form) Unique(field, message string, taken func(value string) bool) {
	value := f.Get(field)
	if value == "" {
		return
	}
	if taken(value) {
		f.Errors.Add(field, message)
	}
}

func (f *Form) Valid() bool {
	return len(f.Errors) == 0
}
