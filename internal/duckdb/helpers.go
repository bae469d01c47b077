package duckdb

import (
	"fmt"
	"strings"
	"time"
)

// InterpolateQuery substitutes args into the placeholders of query so the
// statement can be logged and pasted into the duckdb shell. It is for
// logging only; never execute the result.
func InterpolateQuery(query string, args []any) string {
	var sb strings.Builder
	sb.Grow(len(query))

	next := 0
	inQuote := false
	space := false
	for _, r := range query {
		if !inQuote && (r == ' ' || r == '\n' || r == '\t') {
			space = true
			continue
		}
		if space {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
		}
		switch {
		case r == '\'':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == '?' && !inQuote && next < len(args):
			sb.WriteString(literal(args[next]))
			next++
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func literal(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	case time.Time:
		// Round(0) strips the monotonic reading.
		return "'" + v.Round(0).Format(time.RFC3339Nano) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
	}
}

// IsTransactionConflict reports whether err is a DuckDB write-write conflict
// that is worth retrying.
func IsTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on") ||
		strings.Contains(msg, "TransactionContext Error") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "Could not set lock on file")
}
