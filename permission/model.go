package permission

import (
	"sort"
	"strings"
)

// ResourceType values used by the bundled stores. Any string is accepted.
const (
	ResourceAPI  = "api"
	ResourceMenu = "menu"
)

// Resource binds a permission to something addressable. A URL ending in "/**"
// grants the whole subtree below it; any other URL must match exactly.
type Resource struct {
	Type string `cbor:"1,keyasint,omitempty" json:"type,omitempty"`
	URL  string `cbor:"2,keyasint,omitempty" json:"url,omitempty"`
}

// Permission is a named capability.
type Permission struct {
	ID       int64
	Code     string
	Resource Resource
	Enabled  bool
}

// Role is a named bundle of permissions.
type Role struct {
	ID          int64
	Code        string
	Enabled     bool
	Permissions []Permission
}

// Set is a principal's effective permissions. The zero value grants nothing.
type Set struct {
	codes     map[string]struct{}
	resources []Resource
}

// Resolve flattens roles into a Set, skipping disabled roles and permissions and
// de-duplicating by code.
func Resolve(roles []Role) *Set {
	s := &Set{codes: make(map[string]struct{})}
	seenURL := make(map[Resource]struct{})
	for _, role := range roles {
		if !role.Enabled {
			continue
		}
		for _, p := range role.Permissions {
			if !p.Enabled || p.Code == "" {
				continue
			}
			s.codes[p.Code] = struct{}{}
			if p.Resource.URL == "" {
				continue
			}
			r := Resource{Type: p.Resource.Type, URL: normalizePath(p.Resource.URL)}
			if _, dup := seenURL[r]; dup {
				continue
			}
			seenURL[r] = struct{}{}
			s.resources = append(s.resources, r)
		}
	}
	return s
}

// Has reports whether code is granted.
func (s *Set) Has(code string) bool {
	if s == nil {
		return false
	}
	_, ok := s.codes[code]
	return ok
}

// AllowsURL reports whether any granted resource matches url.
func (s *Set) AllowsURL(url string) bool {
	if s == nil {
		return false
	}
	path := normalizePath(url)
	if path == "" {
		return false
	}
	for _, r := range s.resources {
		if r.Matches(path) {
			return true
		}
	}
	return false
}

// Codes returns the granted codes in sorted order.
func (s *Set) Codes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Resources returns a copy of the granted resources.
func (s *Set) Resources() []Resource {
	if s == nil {
		return nil
	}
	return append([]Resource(nil), s.resources...)
}

// Len returns the number of distinct codes.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.codes)
}

// Matches reports whether path is covered by r. path is normalized first.
func (r Resource) Matches(path string) bool {
	pattern := normalizePath(r.URL)
	path = normalizePath(path)
	if pattern == "" || path == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" {
			return true
		}
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == pattern
}

// normalizePath drops query and fragment, collapses a trailing slash, and keeps a
// trailing "/**" intact.
func normalizePath(raw string) string {
	p := strings.TrimSpace(raw)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}
