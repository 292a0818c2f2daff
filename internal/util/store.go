package util

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// ErrNoSnapshot is returned by LoadJSON when the file is absent or empty.
var ErrNoSnapshot = errors.New("snapshot not found")

// LoadJSON decodes the JSON document at path into v.
func LoadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoSnapshot
		}
		return errors.Wrapf(err, "read %s", path)
	}
	if len(b) == 0 {
		return ErrNoSnapshot
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// SaveJSON writes v to path atomically. The file being replaced, if any, is
// first copied to path+".bak" so one bad write can be rolled back by hand.
func SaveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := WriteFileAtomic(path+".bak", prev, 0o600); err != nil {
			return errors.Wrap(err, "backup snapshot")
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "read %s", path)
	}
	return WriteFileAtomic(path, b, 0o600)
}
