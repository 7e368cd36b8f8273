// Package thread turns raw export records into the canonical message
// sequence consumed by extraction and import.
package thread

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/chatreader/internal/chat"
)

// RawMessage is one record of the canonical input array. Pointer fields
// distinguish a missing key from a zero value.
type RawMessage struct {
	ID        *string `json:"id" validate:"required"`
	Text      *string `json:"text" validate:"required"`
	Timestamp *int64  `json:"timestamp" validate:"required"`
	Role      string  `json:"role,omitempty"`
}

// MalformedInputError reports a raw record that lacks a required field.
type MalformedInputError struct {
	Index int
	ID    string
	Field string
}

func (e *MalformedInputError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed record %d (id %q): missing %s", e.Index, e.ID, e.Field)
	}
	return fmt.Sprintf("malformed record %d: missing %s", e.Index, e.Field)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON key names so errors match the input file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Thread converts raw records into messages one to one, preserving order.
// The first record missing id, text or timestamp aborts with a
// *MalformedInputError and no messages.
func Thread(raws []RawMessage) ([]chat.Message, error) {
	msgs := make([]chat.Message, 0, len(raws))
	for i := range raws {
		r := &raws[i]
		if err := validate.Struct(r); err != nil {
			return nil, malformed(i, r, err)
		}
		msgs = append(msgs, chat.Message{
			ID:        *r.ID,
			Role:      r.Role,
			Text:      *r.Text,
			Timestamp: *r.Timestamp,
		})
	}
	return msgs, nil
}

func malformed(i int, r *RawMessage, err error) error {
	me := &MalformedInputError{Index: i}
	if r.ID != nil {
		me.ID = *r.ID
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		me.Field = verrs[0].Field()
	} else {
		me.Field = err.Error()
	}
	return me
}
