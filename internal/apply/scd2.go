package apply

import (
	"fmt"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
)

type SCD2Config struct {
	StartColumn   string
	EndColumn     string
	CurrentColumn string
	DateType      catalog.Kind
}

func DefaultSCD2() SCD2Config {
	return SCD2Config{
		StartColumn:   "scd_start_date",
		EndColumn:     "scd_end_date",
		CurrentColumn: "scd_current",
		DateType:      catalog.KindDatetime,
	}
}

type scd2Columns struct {
	start   string
	end     string
	current string
}

// PrepareSCD2 makes sure t has exactly one column per role, appending the
// configured column for a missing role with null values.
func PrepareSCD2(t *table.Table, cfg SCD2Config) error {
	_, err := resolveSCD2(t, cfg, true)
	return err
}

func resolveSCD2(t *table.Table, cfg SCD2Config, add bool) (scd2Columns, error) {
	var cols scd2Columns
	roles := []struct {
		dst  *string
		role table.SCD2Role
		name string
		kind catalog.Kind
	}{
		{&cols.start, table.RoleStartDate, cfg.StartColumn, cfg.DateType},
		{&cols.end, table.RoleEndDate, cfg.EndColumn, cfg.DateType},
		{&cols.current, table.RoleCurrent, cfg.CurrentColumn, catalog.KindInteger},
	}

	for _, r := range roles {
		var found []string
		for _, c := range t.Columns {
			if c.SCD2 == r.role {
				found = append(found, c.Name)
			}
		}
		switch {
		case len(found) == 1:
			*r.dst = found[0]
			continue
		case len(found) > 1:
			return cols, fmt.Errorf("%s: %d columns carry role %s: %w", t.TargetFullName(), len(found), r.role, ErrSCD2Role)
		case !add:
			return cols, fmt.Errorf("%s: no column carries role %s: %w", t.TargetFullName(), r.role, ErrSCD2Role)
		}
		if r.name == "" {
			return cols, fmt.Errorf("%s: no column name configured for role %s: %w", t.TargetFullName(), r.role, ErrSCD2Role)
		}
		if t.HasColumn(r.name) {
			return cols, fmt.Errorf("%s: column %q exists without role %s: %w", t.TargetFullName(), r.name, r.role, ErrSCD2Role)
		}
		col := table.Column{
			Name:     r.name,
			Type:     catalog.DDLType(r.kind),
			Kind:     r.kind,
			SCD2:     r.role,
			Nullable: true,
			Created:  true,
		}
		if err := t.AddColumn(col, make([]any, t.Payload.Len())); err != nil {
			return cols, err
		}
		*r.dst = r.name
	}
	return cols, nil
}

// naturalKey is the primary key without the role columns.
func (c scd2Columns) naturalKey(t *table.Table) []string {
	var keys []string
	for _, k := range t.PrimaryKeys() {
		if k.Name == c.start || k.Name == c.end || k.Name == c.current {
			continue
		}
		keys = append(keys, k.Name)
	}
	return keys
}

func (c scd2Columns) isRole(name string) bool {
	return name == c.start || name == c.end || name == c.current
}

// stamp converts now to the configured date type.
func stamp(now time.Time, kind catalog.Kind) time.Time {
	if kind == catalog.KindDate {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	return now
}
