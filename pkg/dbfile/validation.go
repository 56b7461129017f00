// pkg/dbfile/validation.go
// Tree name rules.
package dbfile

import (
	"github.com/pkg/errors"
)

var ErrInvalidTreeName = errors.New("invalid tree name")

// ValidateTreeName checks that name is 1 to MaxTreeNameLen bytes of
// letters, digits, '_', '-' and '.'.
func ValidateTreeName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidTreeName, "empty name")
	}
	if len(name) > MaxTreeNameLen {
		return errors.Wrapf(ErrInvalidTreeName, "name longer than %d bytes", MaxTreeNameLen)
	}
	for i := 0; i < len(name); i++ {
		if !isNameByte(name[i]) {
			return errors.Wrapf(ErrInvalidTreeName, "%q: bad character %q", name, name[i])
		}
	}
	return nil
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	}
	return false
}
