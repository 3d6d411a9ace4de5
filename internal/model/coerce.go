package model

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"relorm/internal/ormerr"
)

var errInvalidJSON = errors.New("invalid JSON document")

// Validator coerces a raw value into the Go representation of a field.
type Validator interface {
	Validate(f *Field, raw any) (any, error)
}

// DefaultValidator coerces values with spf13/cast, enforcing nullability and
// string length.
type DefaultValidator struct{}

// Validate implements Validator.
func (DefaultValidator) Validate(f *Field, raw any) (any, error) {
	model := ""
	if f.owner != nil {
		model = f.owner.Name
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		if f.Nullable || f.Autoincrement {
			return nil, nil
		}
		return nil, ormerr.Validation(model, f.Name, "value is required")
	}

	var (
		value any
		err   error
	)
	switch f.Type {
	case TypeInteger, TypeBigInteger:
		value, err = cast.ToInt64E(raw)
	case TypeString, TypeText:
		var s string
		s, err = cast.ToStringE(raw)
		if err == nil && f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, ormerr.Validation(model, f.Name, "length %d exceeds max length %d", utf8.RuneCountInString(s), f.MaxLength)
		}
		value = s
	case TypeBoolean:
		value, err = cast.ToBoolE(raw)
	case TypeFloat:
		value, err = cast.ToFloat64E(raw)
	case TypeDecimal:
		value, err = cast.ToStringE(raw)
	case TypeDate, TypeDateTime:
		value, err = cast.ToTimeE(raw)
	case TypeTime:
		value, err = coerceTimeOfDay(raw)
	case TypeJSON:
		value, err = coerceJSON(raw)
	case TypeUUID:
		value, err = coerceUUID(raw)
	default:
		value = raw
	}
	if err != nil {
		return nil, ormerr.Validation(model, f.Name, "cannot use %T as %s: %v", raw, f.Type, err)
	}
	return value, nil
}

func coerceTimeOfDay(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		if _, err := time.Parse(time.TimeOnly, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	t, err := cast.ToTimeE(raw)
	if err != nil {
		return nil, err
	}
	return t.Format(time.TimeOnly), nil
}

func coerceJSON(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return nil, errInvalidJSON
		}
		return json.RawMessage(v), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errInvalidJSON
		}
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func coerceUUID(raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		// BINARY(16) columns come back as raw bytes in RFC order.
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return nil, err
	}
	return uuid.Parse(s)
}
