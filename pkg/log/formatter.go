package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TextFormatter renders entries as "ts LEVEL message key=value ...".
type TextFormatter struct {
	// TimestampFormat overrides the default RFC3339 timestamp layout.
	TimestampFormat string
}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = time.RFC3339
	}
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format(layout))
	buf.WriteByte(' ')
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	if entry.Error != nil {
		fmt.Fprintf(&buf, " error=%q", entry.Error.Error())
	}

	// stable field ordering for readable output
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, entry.Fields[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	m := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		m[k] = v
	}
	m["ts"] = entry.Timestamp.Format(time.RFC3339Nano)
	m["level"] = entry.Level.String()
	m["msg"] = entry.Message
	if entry.Error != nil {
		m["error"] = entry.Error.Error()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
