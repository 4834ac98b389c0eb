package queuesvc

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/zizaeric/workbox/internal/queuestore"
)

// celFilter wraps a compiled CEL program used by entry listings. When
// disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("url", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("age_ms", cel.IntType),
		cel.Variable("body_bytes", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against an entry. When disabled,
// returns true.
func (f celFilter) Eval(e *queuestore.Entry) bool {
	if !f.enabled {
		return true
	}
	now := time.Now().UnixMilli()
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	var url, method string
	var bodyBytes int
	if e.Request != nil {
		url = e.Request.URL
		method = e.Request.Method
		bodyBytes = len(e.Request.Body)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":         e.ID,
		"queue":      e.QueueName,
		"url":        url,
		"method":     method,
		"ts_ms":      e.TimestampMs,
		"age_ms":     now - e.TimestampMs,
		"body_bytes": int64(bodyBytes),
		"metadata":   metadata,
		"now_ms":     now,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
