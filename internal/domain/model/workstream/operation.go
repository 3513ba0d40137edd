package workstream

import (
	"fmt"
	"strings"
)

// OperationKind is the finite set of things a task can ask a tool to do.
// Every kind must have a tool profile; this is checked at startup.
type OperationKind string

const (
	OpEdit   OperationKind = "edit"
	OpTest   OperationKind = "test"
	OpLint   OperationKind = "lint"
	OpFormat OperationKind = "format"
)

// AllOperationKinds lists every operation kind in a fixed order
var AllOperationKinds = []OperationKind{OpEdit, OpTest, OpLint, OpFormat}

// String returns the string representation of the kind
func (k OperationKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the known operation kinds
func (k OperationKind) IsValid() bool {
	switch k {
	case OpEdit, OpTest, OpLint, OpFormat:
		return true
	default:
		return false
	}
}

// ParseOperationKind converts configuration text into an OperationKind
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown operation kind %q (allowed: %v)", s, AllOperationKinds)
	}
	return k, nil
}

// OperationTable maps gap categories to operation kinds
type OperationTable struct {
	ByCategory map[string]OperationKind
	Default    OperationKind
}

// NewOperationTable validates a raw category table
func NewOperationTable(raw map[string]string, def string) (OperationTable, error) {
	t := OperationTable{ByCategory: make(map[string]OperationKind, len(raw))}
	d, err := ParseOperationKind(def)
	if err != nil {
		return t, fmt.Errorf("default operation: %w", err)
	}
	t.Default = d
	for category, kind := range raw {
		k, err := ParseOperationKind(kind)
		if err != nil {
			return t, fmt.Errorf("category %q: %w", category, err)
		}
		t.ByCategory[strings.ToLower(strings.TrimSpace(category))] = k
	}
	return t, nil
}

// Resolve returns the operation kind for a category
func (t OperationTable) Resolve(category string) OperationKind {
	if k, ok := t.ByCategory[category]; ok {
		return k
	}
	if t.Default == "" {
		return OpEdit
	}
	return t.Default
}
