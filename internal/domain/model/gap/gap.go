// Package gap models discovered repository issues and their lifecycle.
package gap

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// IDPrefix is prepended to the content hash to form a gap id
const IDPrefix = "GAP-"

// Finding is a raw record delivered by the discovery engine
type Finding struct {
	Category    string   `json:"category" yaml:"category"`
	Files       []string `json:"files" yaml:"files"`
	Description string   `json:"description" yaml:"description"`
	PatternID   string   `json:"pattern_id,omitempty" yaml:"pattern_id,omitempty"`
}

// Record is a normalized, tracked gap
type Record struct {
	ID          string    `json:"gap_id"`
	Category    string    `json:"category"`
	FileScope   []string  `json:"file_scope"`
	Description string    `json:"description"`
	PatternID   string    `json:"pattern_id,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrEmptyCategory  = errors.New("category is empty")
	ErrEmptyFileScope = errors.New("file scope is empty")
)

// NormalizeCategory folds a category to its canonical form
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(c)))
}

// NormalizeDescription applies NFKC and collapses whitespace runs
func NormalizeDescription(d string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(d)), " ")
}

// NormalizeScope cleans, deduplicates and sorts repository-relative paths.
// Absolute paths and paths escaping the repository root are rejected.
func NormalizeScope(files []string) ([]string, error) {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(strings.ReplaceAll(f, "\\", "/"))
		if f == "" {
			continue
		}
		if path.IsAbs(f) || (len(f) > 1 && f[1] == ':') {
			return nil, fmt.Errorf("path %q is absolute", f)
		}
		clean := path.Clean(f)
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, fmt.Errorf("path %q escapes the repository root", f)
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return nil, ErrEmptyFileScope
	}
	sort.Strings(out)
	return out, nil
}

// ComputeID derives the stable gap id from normalized content.
// Inputs must already be normalized.
func ComputeID(category string, scope []string, description string) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(scope, "\n")))
	h.Write([]byte{0})
	h.Write([]byte(description))
	return IDPrefix + hex.EncodeToString(h.Sum(nil))[:16]
}

// ScopeKey identifies findings that cover exactly the same files in the same category
func ScopeKey(category string, scope []string) string {
	return category + "\x00" + strings.Join(scope, "\x00")
}

// Clone returns a copy with its own file scope slice
func (r *Record) Clone() *Record {
	c := *r
	c.FileScope = append([]string(nil), r.FileScope...)
	return &c
}

// Covers reports whether path is inside the gap's file scope
func (r *Record) Covers(p string) bool {
	i := sort.SearchStrings(r.FileScope, p)
	return i < len(r.FileScope) && r.FileScope[i] == p
}
