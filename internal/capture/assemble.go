package capture

import (
	"fmt"
	"sort"

	"github.com/jackc/pglogrepl"
)

// RawChange is one row returned by the slot: its position, the transaction
// it belongs to and the decoded text.
type RawChange struct {
	LSN  string
	XID  string
	Data string
}

type Transaction struct {
	XID       string
	Lines     []*Line
	CommitLSN pglogrepl.LSN
}

type positioned struct {
	raw RawChange
	lsn pglogrepl.LSN
}

// Assemble groups raw changes by transaction id, walks each group in LSN
// order and keeps only operations enclosed by BEGIN and a matching COMMIT.
// Transactions are returned in commit order. Lines that cannot be parsed
// drop their whole transaction and are reported in skipped.
func Assemble(raws []RawChange) (txs []Transaction, skipped []error, err error) {
	groups := make(map[string][]positioned)
	var order []string
	for i, r := range raws {
		lsn, err := pglogrepl.ParseLSN(r.LSN)
		if err != nil {
			return nil, nil, fmt.Errorf("change %d: invalid lsn %q: %w", i, r.LSN, err)
		}
		if _, ok := groups[r.XID]; !ok {
			order = append(order, r.XID)
		}
		groups[r.XID] = append(groups[r.XID], positioned{raw: r, lsn: lsn})
	}

	for _, xid := range order {
		group := groups[xid]
		sort.SliceStable(group, func(i, j int) bool { return group[i].lsn < group[j].lsn })

		var (
			open    bool
			broken  error
			current Transaction
		)
		for _, p := range group {
			line, perr := ParseLine(p.raw.Data)
			if perr != nil {
				if open {
					broken = perr
				} else {
					skipped = append(skipped, perr)
				}
				continue
			}
			switch line.Kind {
			case LineBegin:
				if open && broken != nil {
					skipped = append(skipped, broken)
				}
				open, broken = true, nil
				current = Transaction{XID: xid}
			case LineDML:
				if open {
					current.Lines = append(current.Lines, line)
				}
			case LineCommit:
				if !open {
					continue
				}
				open = false
				if broken != nil {
					skipped = append(skipped, fmt.Errorf("transaction %s dropped: %w", xid, broken))
					broken = nil
					continue
				}
				current.CommitLSN = p.lsn
				txs = append(txs, current)
			}
		}
	}

	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CommitLSN < txs[j].CommitLSN })
	return txs, skipped, nil
}
