package risk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// #region level
// Level is an ordered risk classification. The zero value is Unknown and
// never compares as acceptable against any ceiling.
type Level int

const (
	Unknown Level = iota
	Low
	Medium
	High
	Critical
)

var levelNames = map[Level]string{
	Low:      "LOW",
	Medium:   "MEDIUM",
	High:     "HIGH",
	Critical: "CRITICAL",
}

// Parse maps a case-insensitive name to a Level. Unrecognized names return
// Unknown and ok=false.
func Parse(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low, true
	case "MEDIUM":
		return Medium, true
	case "HIGH":
		return High, true
	case "CRITICAL":
		return Critical, true
	}
	return Unknown, false
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether l is one of the four ordered levels.
func (l Level) Valid() bool {
	return l >= Low && l <= Critical
}

// AtMost reports whether l is within ceiling. Either side being Unknown is a rejection.
func (l Level) AtMost(ceiling Level) bool {
	if !l.Valid() || !ceiling.Valid() {
		return false
	}
	return l <= ceiling
}

// #endregion level

// #region encoding
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("risk level: %w", err)
	}
	*l, _ = Parse(s)
	return nil
}

// UnmarshalYAML accepts a scalar level name; unrecognized names decode to Unknown.
func (l *Level) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("risk level: %w", err)
	}
	*l, _ = Parse(s)
	return nil
}

// #endregion encoding
