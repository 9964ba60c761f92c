package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/starford/memoranda/internal/checksum"
	"github.com/starford/memoranda/internal/models"
)

// SyncReport lists the ids whose files changed while the ledger was not
// watching them.
type SyncReport struct {
	Added   []string `json:"added"`
	Changed []string `json:"changed"`
	Removed []string `json:"removed"`
}

// Empty reports whether the ledger already matched the files.
func (r SyncReport) Empty() bool {
	return len(r.Added)+len(r.Changed)+len(r.Removed) == 0
}

// Sync brings the ledger up to date with memos, the full set currently on
// disk:
//   - new and changed memos are recorded
//   - rows whose memo is gone are dropped (without a tombstone: the file
//     was removed outside the store and may come back)
func (db *DB) Sync(ctx context.Context, memos []*models.Memo) (SyncReport, error) {
	var report SyncReport

	checksums, err := db.Checksums(ctx)
	if err != nil {
		return report, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	disk := make(map[string]struct{}, len(memos))
	for _, m := range memos {
		disk[m.ID] = struct{}{}
		prev, known := checksums[m.ID]
		switch {
		case !known:
			report.Added = append(report.Added, m.ID)
		case prev != checksum.Memo(m):
			report.Changed = append(report.Changed, m.ID)
		default:
			continue
		}
		if err := upsert(ctx, tx, m); err != nil {
			return SyncReport{}, err
		}
	}

	for id := range checksums {
		if _, ok := disk[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memos WHERE id = ?`, id); err != nil {
			return SyncReport{}, fmt.Errorf("catalog: drop %s: %w", id, err)
		}
		report.Removed = append(report.Removed, id)
	}

	if err := tx.Commit(); err != nil {
		return SyncReport{}, fmt.Errorf("catalog: commit sync: %w", err)
	}
	sort.Strings(report.Added)
	sort.Strings(report.Changed)
	sort.Strings(report.Removed)
	return report, nil
}
