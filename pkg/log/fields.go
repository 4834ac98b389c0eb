package log

import "time"

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Str constructs a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int constructs an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 constructs an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool constructs a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration constructs a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err constructs an error field under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags the emitting component.
func Component(name string) Field { return Field{Key: "component", Value: name} }
