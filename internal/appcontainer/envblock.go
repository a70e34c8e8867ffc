package appcontainer

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
)

// EnvironmentBlock encodes env as a UTF-16 environment block: each
// "key=value" string is NUL terminated and the block ends with an extra NUL.
//
// A nil map returns a nil block, which means the child inherits the
// caller's environment. An empty non-nil map returns an empty block so the
// child starts with no variables at all.
func EnvironmentBlock(env map[string]string) ([]uint16, error) {
	if env == nil {
		return nil, nil
	}

	keys := make([]string, 0, len(env))
	for k, v := range env {
		if err := validateEnvEntry(k, v); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	// The OS expects the block sorted case-insensitively.
	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.ToUpper(keys[i]), strings.ToUpper(keys[j])
		if a == b {
			return keys[i] < keys[j]
		}
		return a < b
	})

	block := make([]uint16, 0, 64)
	for _, k := range keys {
		block = append(block, utf16.Encode([]rune(k+"="+env[k]))...)
		block = append(block, 0)
	}
	if len(keys) == 0 {
		block = append(block, 0)
	}
	return append(block, 0), nil
}

func validateEnvEntry(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty environment variable name", ErrInvalidArguments)
	}
	if strings.ContainsRune(key[1:], '=') {
		return fmt.Errorf("%w: environment variable name %q contains '='", ErrInvalidArguments, key)
	}
	if strings.ContainsRune(key, 0) || strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: environment variable %q contains NUL", ErrInvalidArguments, key)
	}
	return nil
}
