package protocol

import (
	"encoding/json"
	"reflect"
)

// Format is a mapping from property id to a typed value, used for char,
// block, and list formats alike. Values are kept as raw JSON so that a
// server (or an older client) that doesn't understand a given property id
// still round-trips it untouched, satisfying the "unknown properties must
// be preserved" requirement without a hand-rolled TLV codec.
type Format map[uint16]json.RawMessage

// Clone returns a deep copy so that mutating the copy never affects a
// Symbol or TextBlock's stored format out from under a concurrent reader.
func (f Format) Clone() Format {
	if f == nil {
		return nil
	}
	out := make(Format, len(f))
	for k, v := range f {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Equal reports whether two formats carry the same properties with the
// same values, regardless of the byte-level JSON representation chosen by
// the caller that set them (e.g. "1" vs "1.0" unmarshal equal). A value
// that is not valid JSON never compares equal.
func (f Format) Equal(other Format) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok {
			return false
		}
		var a, b interface{}
		if err := json.Unmarshal(v, &a); err != nil {
			return false
		}
		if err := json.Unmarshal(ov, &b); err != nil {
			return false
		}
		if !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}

func set(f Format, id uint16, v interface{}) Format {
	if f == nil {
		f = Format{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// Only called with primitive Go values below; marshal cannot fail.
		panic(err)
	}
	f[id] = raw
	return f
}

// SetBool sets a boolean property, returning the (possibly newly
// allocated) Format for chaining.
func (f Format) SetBool(id uint16, v bool) Format { return set(f, id, v) }

// SetInt sets an integer property.
func (f Format) SetInt(id uint16, v int64) Format { return set(f, id, v) }

// SetFloat sets a floating point property.
func (f Format) SetFloat(id uint16, v float64) Format { return set(f, id, v) }

// SetString sets a string property.
func (f Format) SetString(id uint16, v string) Format { return set(f, id, v) }

// GetBool returns the boolean value of a property and whether it was set.
func (f Format) GetBool(id uint16) (bool, bool) {
	raw, ok := f[id]
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// GetInt returns the integer value of a property and whether it was set.
func (f Format) GetInt(id uint16) (int64, bool) {
	raw, ok := f[id]
	if !ok {
		return 0, false
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// GetFloat returns the float value of a property and whether it was set.
func (f Format) GetFloat(id uint16) (float64, bool) {
	raw, ok := f[id]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// GetString returns the string value of a property and whether it was set.
func (f Format) GetString(id uint16) (string, bool) {
	raw, ok := f[id]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// CharFormat, BlockFormat and ListFormat are all the same underlying
// encoding; distinct names document intent at call sites the way the
// source's QTextCharFormat/QTextBlockFormat/QTextListFormat distinguished
// these by type.
type (
	CharFormat  = Format
	BlockFormat = Format
	ListFormat  = Format
)
