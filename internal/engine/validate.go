package engine

import (
	"strings"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// Quality flag prefixes.
const (
	FlagNull        = "null:"
	FlagEmpty       = "empty:"
	FlagUnsupported = "unsupported:"
	FlagDegraded    = "degraded:"
)

// #region validate
// Validate runs the ingest stage on a raw input map. Flagged keys are dropped
// from NormalizedData, so validating NormalizedData again yields no flags.
func Validate(raw map[string]any) ValidationResult {
	flags, normalized := inspect(raw, "")
	valid := true
	for _, f := range flags {
		if strings.HasPrefix(f, FlagUnsupported) {
			valid = false
			break
		}
	}
	return ValidationResult{
		Valid:          valid,
		QualityFlags:   flags,
		NormalizedData: normalized,
	}
}

// inspect flags each key in sorted order. prefix namespaces candidate keys.
func inspect(raw map[string]any, prefix string) ([]string, map[string]any) {
	flags := []string{}
	normalized := make(map[string]any, len(raw))
	for _, key := range sortedKeys(raw) {
		val := raw[key]
		name := prefix + key
		switch t := val.(type) {
		case nil:
			flags = append(flags, FlagNull+name)
		case string:
			if strings.TrimSpace(t) == "" {
				flags = append(flags, FlagEmpty+name)
				continue
			}
			normalized[key] = t
		case bool:
			normalized[key] = t
		default:
			n, ok := feature.Number(val)
			if !ok {
				flags = append(flags, FlagUnsupported+name)
				continue
			}
			normalized[key] = n
		}
	}
	return flags, normalized
}

// requestFlags collects ingest flags over the input data and every candidate's properties.
func requestFlags(req Request) []string {
	flags, _ := inspect(req.InputData, "")
	for _, c := range req.ActionSpace {
		cf, _ := inspect(c.Properties, c.ID+".")
		flags = append(flags, cf...)
	}
	return flags
}

// #endregion validate
