package common

import (
	"sort"
	"strings"
	"time"
)

// ValidateRFC3339NanoUTC validates that a timestamp is RFC3339Nano with the Z suffix
func ValidateRFC3339NanoUTC(ts string, fieldName string, issues *[]ValidationIssue) {
	if ts == "" {
		*issues = append(*issues, Issuef(LevelError, fieldName, "timestamp cannot be empty"))
		return
	}
	if !strings.HasSuffix(ts, "Z") {
		*issues = append(*issues, Issuef(LevelError, fieldName, "not RFC3339Nano UTC Z"))
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		*issues = append(*issues, Issuef(LevelError, fieldName, "invalid RFC3339Nano format: %v", err))
	}
}

// ValidateRequiredKeys reports every key of required missing from data
func ValidateRequiredKeys(data map[string]interface{}, required []string, issues *[]ValidationIssue) {
	for _, key := range required {
		if _, exists := data[key]; !exists {
			*issues = append(*issues, Issuef(LevelError, key, "missing required key: %s", key))
		}
	}
}

// ValidateEnumValue validates that value is a string within allowed
func ValidateEnumValue(value interface{}, fieldName string, allowed map[string]bool, issues *[]ValidationIssue) {
	s, ok := value.(string)
	if !ok {
		*issues = append(*issues, Issuef(LevelError, fieldName, "must be a string"))
		return
	}
	if allowed[s] {
		return
	}
	names := make([]string, 0, len(allowed))
	for k := range allowed {
		names = append(names, k)
	}
	sort.Strings(names)
	*issues = append(*issues, Issuef(LevelError, fieldName, "invalid value: %s (must be one of: %s)", s, strings.Join(names, "|")))
}
