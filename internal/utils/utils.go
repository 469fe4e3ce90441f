package utils

import (
	"fmt"
	"strings"
)

// NormalizeIdentifier converts the name of an identifier (function name or function input parameter
// name) to a valid one: only letters, digits, and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	result := make([]rune, 0, len(name)+1)
	if name[0] >= '0' && name[0] <= '9' {
		result = append(result, '_')
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result = append(result, r)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith creates a Set[T] with the given elements inserted.
func SetWith[T comparable](elements ...T) Set[T] {
	s := MakeSet[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// UniqueNames hands out names that are unique within its scope: the first request for a name
// returns it unchanged, the following ones get a numeric suffix ("name_1", "name_2", ...).
type UniqueNames struct {
	used Set[string]
}

// NewUniqueNames creates an empty naming scope.
func NewUniqueNames() *UniqueNames {
	return &UniqueNames{used: MakeSet[string]()}
}

// Name returns a unique version of name within the scope.
func (u *UniqueNames) Name(name string) string {
	if !u.used.Has(name) {
		u.used.Insert(name)
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if !u.used.Has(candidate) {
			u.used.Insert(candidate)
			return candidate
		}
	}
}

// Reserve marks name as used, and returns false if it was already taken.
func (u *UniqueNames) Reserve(name string) bool {
	if u.used.Has(name) {
		return false
	}
	u.used.Insert(name)
	return true
}

// Indent prefixes every non-empty line of text with the given indentation.
func Indent(text, indentation string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indentation + line
		}
	}
	return strings.Join(lines, "\n")
}
