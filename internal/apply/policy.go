package apply

import (
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
)

type Mode string

const (
	ModeDefault Mode = "default"
	ModeUpsert  Mode = "upsert"
	ModeSCD2    Mode = "scd2"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModeUpsert, ModeSCD2:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown apply mode %q", s)
}

// Policy keys: one per row kind in default mode, plus the keys used by the
// upsert and scd2 modes.
const (
	KeyInsert = "insert"
	KeyUpdate = "update"
	KeyDelete = "delete"
	KeyUpsert = "upsert"
	KeySCD2   = "scd2"
)

// Policy tells, per key, whether a failed row stops the batch. The zero
// value contains every failure.
type Policy struct {
	StopOnInsert bool
	StopOnUpdate bool
	StopOnDelete bool
	StopOnUpsert bool
	StopOnSCD2   bool
}

func (p Policy) Stops(key string) bool {
	switch key {
	case KeyInsert:
		return p.StopOnInsert
	case KeyUpdate:
		return p.StopOnUpdate
	case KeyDelete:
		return p.StopOnDelete
	case KeyUpsert:
		return p.StopOnUpsert
	case KeySCD2:
		return p.StopOnSCD2
	}
	return false
}

// policyKey is the key a row of the given kind is evaluated under.
func policyKey(mode Mode, kind change.Kind) string {
	switch mode {
	case ModeUpsert:
		if kind == change.Delete {
			return KeyDelete
		}
		return KeyUpsert
	case ModeSCD2:
		return KeySCD2
	}
	return string(kind)
}
