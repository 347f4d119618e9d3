package tsdb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is one line-protocol record destined for the store.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Timestamp   time.Time
}

// Encode renders the point as a single line-protocol line:
// measurement,tags fields timestamp. Tags are sorted for a deterministic
// tag set, which the store's deduplication depends on.
func (p Point) Encode() (string, error) {
	if p.Measurement == "" {
		return "", fmt.Errorf("point has no measurement")
	}
	if len(p.Fields) == 0 {
		return "", fmt.Errorf("point has no fields")
	}

	var b strings.Builder
	b.WriteString(escapeMeasurement(p.Measurement))

	tagKeys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		v := p.Tags[k]
		if v == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(v))
	}

	b.WriteByte(' ')

	fieldKeys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	for i, k := range fieldKeys {
		val, err := formatFieldValue(p.Fields[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(val)
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Timestamp.UnixNano(), 10))

	return b.String(), nil
}

func formatFieldValue(v any) (string, error) {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), nil
	case int:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int64:
		return strconv.FormatInt(val, 10) + "i", nil
	case bool:
		return strconv.FormatBool(val), nil
	case string:
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(val) + `"`, nil
	default:
		return "", fmt.Errorf("unsupported field type %T", v)
	}
}

func escapeMeasurement(s string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `).Replace(s)
}

func escapeTag(s string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`).Replace(s)
}
