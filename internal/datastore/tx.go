package datastore

import (
	"context"
	"fmt"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertBatchSize bounds rows per INSERT statement. It stays well under the
// SQLite and PostgreSQL bind parameter limits for the widest table.
const insertBatchSize = 200

// ErrTxDone is returned when committing a transaction that already ended.
var ErrTxDone = errors.NewStd("transaction has already been committed or rolled back")

// Tx is one chunk transaction. Rollback after Commit is a no-op, so callers
// can defer Rollback immediately after Begin.
type Tx struct {
	db   *gorm.DB
	done bool
}

func beginTx(ctx context.Context, db *gorm.DB) (*Tx, error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, dbError(tx.Error, "begin_transaction", "")
	}
	return &Tx{db: tx}, nil
}

// DB returns the transaction-scoped GORM handle.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// InsertBatch inserts rows of a single table and returns their assigned
// identifiers in input order. Associations are never written.
func (t *Tx) InsertBatch(rows []entities.Row) ([]uint, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var err error
	switch rows[0].(type) {
	case *entities.KVStoreEntry:
		err = insertAs[entities.KVStoreEntry](t.db, rows)
	case *entities.KeywordSet:
		err = insertAs[entities.KeywordSet](t.db, rows)
	case *entities.Molecule:
		err = insertAs[entities.Molecule](t.db, rows)
	case *entities.Result:
		err = insertAs[entities.Result](t.db, rows)
	default:
		for _, row := range rows {
			if err = t.db.Omit(clause.Associations).Create(row).Error; err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(rows))
	for i, row := range rows {
		ids[i] = row.GetID()
		if ids[i] == 0 {
			return nil, fmt.Errorf("insert into %s did not assign an id at position %d", row.TableName(), i)
		}
	}
	return ids, nil
}

func insertAs[T any, PT interface {
	*T
	entities.Row
}](db *gorm.DB, rows []entities.Row) error {
	typed := make([]PT, len(rows))
	for i, row := range rows {
		p, ok := row.(PT)
		if !ok {
			return fmt.Errorf("mixed row types in batch: %T at position %d", row, i)
		}
		typed[i] = p
	}
	return db.Omit(clause.Associations).CreateInBatches(typed, insertBatchSize).Error
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		return dbError(err, "commit", "")
	}
	return nil
}

// Rollback aborts the transaction unless it already ended.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}
