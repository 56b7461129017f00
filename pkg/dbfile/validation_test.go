// pkg/dbfile/validation_test.go
package dbfile

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTreeName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"users", true},
		{"users_v2", true},
		{"a.b-c", true},
		{"T1", true},
		{strings.Repeat("n", MaxTreeNameLen), true},
		{strings.Repeat("n", MaxTreeNameLen+1), false},
		{"", false},
		{"two words", false},
		{"tab\there", false},
		{"slash/name", false},
		{"naïve", false},
	}

	for _, tt := range tests {
		err := ValidateTreeName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateTreeName(%q) error = %v, want nil", tt.name, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("ValidateTreeName(%q) should return error", tt.name)
			} else if !errors.Is(err, ErrInvalidTreeName) {
				t.Errorf("ValidateTreeName(%q) error = %v, want ErrInvalidTreeName", tt.name, err)
			}
		}
	}
}
