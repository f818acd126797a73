package store

import (
	"fmt"
	"strings"
)

// Path addresses a location in the store: a whole record ("clients/C1") or a
// value nested inside it ("clients/C1/properties/P1").
type Path struct {
	Collection string
	ID         string

	// Attr is the attribute path inside the record. Empty addresses the record itself.
	Attr []string
}

// RecordPath returns the path of a whole record.
func RecordPath(collection, id string) Path {
	return Path{Collection: collection, ID: id}
}

// ParsePath parses a slash separated path.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	for _, part := range parts {
		if part == "" {
			return Path{}, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, s)
		}
	}
	p := Path{Collection: parts[0], ID: parts[1]}
	if len(parts) > 2 {
		p.Attr = parts[2:]
	}
	return p, nil
}

// Child returns the path of a value nested below p.
func (p Path) Child(names ...string) Path {
	attr := make([]string, 0, len(p.Attr)+len(names))
	attr = append(attr, p.Attr...)
	attr = append(attr, names...)
	return Path{Collection: p.Collection, ID: p.ID, Attr: attr}
}

// IsRecord reports whether p addresses a whole record.
func (p Path) IsRecord() bool {
	return len(p.Attr) == 0
}

// Validate checks that every segment of p is non-empty and free of separators.
func (p Path) Validate() error {
	if p.Collection == "" || p.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
	}
	segments := append([]string{p.Collection, p.ID}, p.Attr...)
	for _, seg := range segments {
		if seg == "" || strings.Contains(seg, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
		}
	}
	return nil
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Collection)
	b.WriteByte('/')
	b.WriteString(p.ID)
	for _, a := range p.Attr {
		b.WriteByte('/')
		b.WriteString(a)
	}
	return b.String()
}
