package configsvc

import "fmt"

// MigrationState is the per-key finite state machine governing read/write
// routing between the legacy tenants columns and config_entries. It is stored
// as data and changed only by AdvanceState, never inferred from branches.
type MigrationState string

const (
	StateLegacyOnly MigrationState = "legacy-only"
	StateDualWrite  MigrationState = "dual-write"
	StateNewOnly    MigrationState = "new-only"
)

func ParseState(raw string) (MigrationState, error) {
	switch MigrationState(raw) {
	case StateLegacyOnly, StateDualWrite, StateNewOnly:
		return MigrationState(raw), nil
	}
	return "", fmt.Errorf("unknown migration state %q", raw)
}

// legacyKeys maps config keys that predate the key-value store to their
// tenants column. A key absent here has no legacy side and defaults to
// new-only when no explicit state row exists.
var legacyKeys = map[string]string{
	"DEFAULT_LANGUAGE": "default_language",
	"CURRENCY":         "currency",
	"WELCOME_TEXT":     "welcome_text",
	"SUPPORT_CONTACT":  "support_contact",
}

// defaultState is the routing for a key with no explicit state row: legacy
// keys start on their column, everything else was born in the new store.
func defaultState(key string) MigrationState {
	if _, ok := legacyKeys[key]; ok {
		return StateLegacyOnly
	}
	return StateNewOnly
}
