// Package interpolation expands path and URL templates containing named
// tokens (":class", ":id", ":style", ...) into concrete strings. Expansion is
// recursive so a resolver may itself return a templated fragment, bounded by
// a fixed depth so cyclic definitions fail instead of looping.
package interpolation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxDepth bounds recursive re-expansion of resolver output.
const maxDepth = 10

// Attachment is the narrow view of an attachment that token resolvers need.
// The attachment package satisfies it; keeping the interface here avoids a
// dependency cycle.
type Attachment interface {
	Name() string
	RecordID() string
	RecordClass() string
	OriginalFilename() string
	UpdatedAt() time.Time
	DefaultStyle() string
}

// Resolver produces the replacement text for one token. Resolvers must be
// pure functions of their inputs so paths can be computed deterministically
// before any write happens.
type Resolver func(att Attachment, style string) string

// InfiniteInterpolationError reports a template whose expansion never reached
// a fixed point within the depth bound.
type InfiniteInterpolationError struct {
	Template string
}

func (e *InfiniteInterpolationError) Error() string {
	return fmt.Sprintf("caught infinite interpolation of template %q", e.Template)
}

// Interpolator holds a token registry. Register during setup; Expand is safe
// for concurrent use once registration is done.
type Interpolator struct {
	tokens map[string]Resolver
	names  []string // registered names, longest first
}

// New returns an Interpolator with the default token set registered.
func New() *Interpolator {
	in := &Interpolator{tokens: make(map[string]Resolver)}
	in.Register("class", func(att Attachment, _ string) string {
		return pluralize(underscore(att.RecordClass()))
	})
	in.Register("attachment", func(att Attachment, _ string) string {
		return pluralize(strings.ToLower(att.Name()))
	})
	in.Register("id", func(att Attachment, _ string) string {
		return att.RecordID()
	})
	in.Register("id_partition", func(att Attachment, _ string) string {
		return idPartition(att.RecordID())
	})
	in.Register("style", func(att Attachment, style string) string {
		if style == "" {
			return att.DefaultStyle()
		}
		return style
	})
	in.Register("basename", func(att Attachment, _ string) string {
		name := att.OriginalFilename()
		return strings.TrimSuffix(name, filepath.Ext(name))
	})
	in.Register("extension", func(att Attachment, _ string) string {
		return strings.TrimPrefix(filepath.Ext(att.OriginalFilename()), ".")
	})
	in.Register("filename", func(att Attachment, _ string) string {
		return att.OriginalFilename()
	})
	in.Register("timestamp", func(att Attachment, _ string) string {
		return att.UpdatedAt().UTC().Format("20060102150405")
	})
	in.Register("updated_at", func(att Attachment, _ string) string {
		return strconv.FormatInt(att.UpdatedAt().Unix(), 10)
	})
	return in
}

// Register adds or replaces a token. Not safe to call concurrently with
// Expand; registration belongs to application setup.
func (in *Interpolator) Register(token string, fn Resolver) {
	if _, ok := in.tokens[token]; !ok {
		in.names = append(in.names, token)
		// Longest-first replacement keeps ":id" from eating ":id_partition".
		sort.Slice(in.names, func(i, j int) bool { return len(in.names[i]) > len(in.names[j]) })
	}
	in.tokens[token] = fn
}

// Expand replaces every registered token in template and re-expands the
// result until it is token-free. Exceeding the depth bound returns an
// InfiniteInterpolationError.
func (in *Interpolator) Expand(template string, att Attachment, style string) (string, error) {
	s := template
	for i := 0; i < maxDepth; i++ {
		if !in.hasToken(s) {
			return s, nil
		}
		s = in.expandOnce(s, att, style)
	}
	if in.hasToken(s) {
		return "", &InfiniteInterpolationError{Template: template}
	}
	return s, nil
}

func (in *Interpolator) expandOnce(s string, att Attachment, style string) string {
	for _, name := range in.names {
		marker := ":" + name
		if !strings.Contains(s, marker) {
			continue
		}
		s = strings.ReplaceAll(s, marker, in.tokens[name](att, style))
	}
	return s
}

func (in *Interpolator) hasToken(s string) bool {
	for _, name := range in.names {
		if strings.Contains(s, ":"+name) {
			return true
		}
	}
	return false
}

// idPartition spreads records across directories: numeric ids become three
// zero-padded triplets ("000/012/345"), other ids contribute their first
// three 3-character groups.
func idPartition(id string) string {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		padded := fmt.Sprintf("%09d", n)
		return padded[0:3] + "/" + padded[3:6] + "/" + padded[6:9]
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, id)
	for len(clean) < 9 {
		clean += "0"
	}
	return clean[0:3] + "/" + clean[3:6] + "/" + clean[6:9]
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func underscore(s string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(s, "${1}_${2}"))
}

func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(s[len(s)-2]):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "z"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	default:
		return s + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
