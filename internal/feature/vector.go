// Package feature builds the flat per-candidate feature vector that rules,
// normalizers, scorers and the risk model read from.
package feature

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Reserved keys always present on an extracted vector.
const (
	KeyActionID     = "action_id"
	KeyActionName   = "action_name"
	KeyRiskAppetite = "risk_appetite"
)

// #region vector
// Vector is a flat map of feature name to scalar value (number, bool or string).
type Vector map[string]any

// Extract merges request input data and candidate properties (candidate wins
// on collision) and stamps the reserved identity and appetite fields.
// No coercion happens here; absent keys stay absent.
func Extract(input, properties map[string]any, actionID, actionName, riskAppetite string) Vector {
	v := make(Vector, len(input)+len(properties)+3)
	for k, val := range input {
		v[k] = val
	}
	for k, val := range properties {
		v[k] = val
	}
	v[KeyActionID] = actionID
	v[KeyActionName] = actionName
	v[KeyRiskAppetite] = riskAppetite
	return v
}

// Number returns the named feature as float64 when it is numeric.
func (v Vector) Number(key string) (float64, bool) {
	val, ok := v[key]
	if !ok {
		return 0, false
	}
	return Number(val)
}

// String returns the named feature when it is a string.
func (v Vector) String(key string) (string, bool) {
	s, ok := v[key].(string)
	return s, ok
}

// #endregion vector

// #region scalar-helpers
// Number widens any Go numeric kind, json.Number, or numeric string to float64.
// Booleans are not numbers.
func Number(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// IsScalar reports whether val is a type the vector can carry.
func IsScalar(val any) bool {
	switch val.(type) {
	case bool, string, json.Number:
		return true
	}
	_, ok := Number(val)
	return ok
}

// #endregion scalar-helpers
