package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// BulkIngester inserts many subsessions in large transactions, committing
// every checkpoint subsessions. Each subsession runs in its own savepoint so
// a failed one leaves no partial rows behind.
type BulkIngester struct {
	store      *Store
	checkpoint int
	tx         *sql.Tx
	pending    int
	total      int
}

// NewBulkIngester starts the first transaction. checkpoint <= 0 commits only
// on Close.
func (s *Store) NewBulkIngester(ctx context.Context, checkpoint int) (*BulkIngester, error) {
	b := &BulkIngester{store: s, checkpoint: checkpoint}
	if err := b.begin(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BulkIngester) begin(ctx context.Context) error {
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bulk transaction: %w", err)
	}
	b.tx = tx
	return nil
}

// InsertSubsession adds one subsession to the current transaction. It
// satisfies the same contract as Store.InsertSubsession.
func (b *BulkIngester) InsertSubsession(ctx context.Context, rows *model.SubsessionRows) error {
	if b.tx == nil {
		return fmt.Errorf("bulk ingester is closed")
	}
	if _, err := b.tx.ExecContext(ctx, `SAVEPOINT subsession`); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if err := insertRows(ctx, b.tx, rows); err != nil {
		if _, rbErr := b.tx.ExecContext(ctx, `ROLLBACK TO subsession`); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		b.tx.ExecContext(ctx, `RELEASE subsession`) //nolint:errcheck // savepoint already rolled back
		return err
	}
	if _, err := b.tx.ExecContext(ctx, `RELEASE subsession`); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}

	b.pending++
	b.total++
	if b.checkpoint > 0 && b.pending >= b.checkpoint {
		return b.commit(ctx)
	}
	return nil
}

func (b *BulkIngester) commit(ctx context.Context) error {
	if err := b.tx.Commit(); err != nil {
		b.tx = nil
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	slog.Debug("bulk checkpoint committed", "subsessions", b.pending, "total", b.total)
	b.pending = 0
	return b.begin(ctx)
}

// Total returns the number of subsessions inserted so far.
func (b *BulkIngester) Total() int { return b.total }

// Committed returns the number of subsessions in committed checkpoints.
func (b *BulkIngester) Committed() int { return b.total - b.pending }

// Close commits the remaining work.
func (b *BulkIngester) Close() error {
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk ingest: %w", err)
	}
	return nil
}

// Abort rolls back uncommitted work. Checkpoints already committed stay.
func (b *BulkIngester) Abort() error {
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	return tx.Rollback()
}
