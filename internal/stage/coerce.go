package stage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// asString coerces a raw payload value to a trimmed string. Returns ""
// for nil, matching the spec's "missing essentials are silently dropped"
// rule for the caller to check against.
func asString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// asFloat coerces a raw payload value to a float64, reporting whether the
// conversion succeeded.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asInt coerces a raw payload value to an int64 via round-to-nearest, the
// "integerised via float round" rule for easting/northing (§4.5) and for
// integer keys like usrn/uprn/toid.
func asInt(v any) (int64, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// round6 quantises a coordinate to 6 decimal places (§4.5).
func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
