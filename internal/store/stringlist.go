package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a transparent []string<->TEXT column type, the same
// driver.Valuer/sql.Scanner shape the teacher uses for EncryptedString in
// internal/db/encrypt.go, applied here to ordered string sets (ssh keys,
// access sets, comments, mount options, QOS flags) rather than to ciphertext.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("store: StringList.Scan: unsupported type %T", value)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*l = out
	return nil
}
