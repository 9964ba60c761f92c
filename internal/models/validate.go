package models

import (
	"errors"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/idgen"
)

// Input limits.
const (
	MaxTitleLength  = 255
	MaxContentBytes = 1 << 20
	MaxQueryLength  = 1000
)

var (
	notBlank = validation.By(func(v interface{}) error {
		s, _ := v.(string)
		if strings.TrimSpace(s) == "" {
			return errors.New("must not be blank")
		}
		return nil
	})
	validUTF8 = validation.By(func(v interface{}) error {
		s, _ := v.(string)
		if !utf8.ValidString(s) {
			return errors.New("must be valid UTF-8")
		}
		return nil
	})
	wellFormedID = validation.By(func(v interface{}) error {
		s, _ := v.(string)
		if !idgen.Valid(s) {
			return errors.New("must be a 26-character ULID")
		}
		return nil
	})
)

// ValidateTitle checks a memo title: 1–255 characters, not whitespace only.
func ValidateTitle(title string) error {
	return check("title", title,
		validation.Required.Error("is required"),
		validUTF8,
		validation.RuneLength(1, MaxTitleLength),
		notBlank,
	)
}

// ValidateContent checks memo content: valid UTF-8, at most 1 MiB. Empty is allowed.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return apperr.Validation("content", "must be at most 1048576 bytes")
	}
	return check("content", content, validUTF8)
}

// ValidateID checks a memo identifier.
func ValidateID(id string) error {
	return check("id", id, validation.Required.Error("is required"), wellFormedID)
}

// ValidateQuery checks a search expression: 1–1000 characters, not blank.
func ValidateQuery(q string) error {
	return check("query", q,
		validation.Required.Error("must not be empty"),
		validUTF8,
		validation.RuneLength(1, MaxQueryLength),
		notBlank,
	)
}

func check(field, value string, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return apperr.Validation(field, err.Error())
	}
	return nil
}
