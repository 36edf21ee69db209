package fetch

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Key serializes args into a string that is equal for deeply equal
// arguments regardless of map ordering or identity.
func Key(args any) (string, error) {
	b, err := sonic.ConfigStd.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to serialize arguments: %w", err)
	}
	return string(b), nil
}

// MustKey is Key for arguments already known to be serializable
func MustKey(args any) string {
	k, err := Key(args)
	if err != nil {
		panic(err)
	}
	return k
}
