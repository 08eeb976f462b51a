package push

import (
	"math"
	"strconv"
	"strings"

	"haulsync/driver-client/pkg/models"
)

var loadIDKeys = []string{"load_id", "loadId", "load", "id"}

// DecodeLoadID pulls a load identifier out of a push payload: the first
// candidate key holding a non-empty string or a number wins, numbers are
// coerced to their string form.
func DecodeLoadID(payload map[string]any) (string, bool) {
	if payload == nil {
		return "", false
	}
	for _, key := range loadIDKeys {
		if id, ok := coerceID(payload[key]); ok {
			return id, true
		}
	}
	return "", false
}

// DecodeStatement decodes a statements-feed payload. Only payloads whose
// type field equals "statement" are accepted; the identifier and week
// range are each optional and decode to empty strings when absent.
func DecodeStatement(payload map[string]any) (models.StatementIntent, bool) {
	if payload == nil {
		return models.StatementIntent{}, false
	}
	if kind, _ := payload["type"].(string); kind != "statement" {
		return models.StatementIntent{}, false
	}

	intent := models.StatementIntent{}
	for _, key := range []string{"statement_id", "statementId", "id"} {
		if id, ok := coerceID(payload[key]); ok {
			intent.StatementID = id
			break
		}
	}
	for _, key := range []string{"week_range", "weekRange"} {
		if week, ok := payload[key].(string); ok && week != "" {
			intent.WeekRange = week
			break
		}
	}
	return intent, true
}

func coerceID(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed, true
		}
	case float64:
		if !math.IsNaN(value) {
			return strconv.FormatFloat(value, 'f', -1, 64), true
		}
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	}
	return "", false
}
