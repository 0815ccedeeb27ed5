package chain

import (
	"fmt"
	"unicode/utf8"
)

func checkText(field, value string, max int, required bool) error {
	if required && value == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if len(value) > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%d bytes exceeds limit of %d", len(value), max)}
	}
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Reason: "not valid UTF-8"}
	}
	return nil
}

func (l Limits) checkPost(title, content string) error {
	if err := checkText("title", title, l.MaxTitle, true); err != nil {
		return err
	}
	return checkText("content", content, l.MaxContent, true)
}

func (l Limits) checkProfile(name, avatar string) error {
	if err := checkText("name", name, l.MaxName, true); err != nil {
		return err
	}
	return checkText("avatar", avatar, l.MaxAvatar, false)
}
