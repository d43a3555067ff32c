package datastore

import (
	"context"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"gorm.io/gorm"
)

// LoadRows reads rows of one table by identifier, keyed by identifier.
// Missing identifiers are absent from the result.
func LoadRows[T any, PT interface {
	*T
	entities.Row
}](ctx context.Context, db *gorm.DB, ids []uint) (map[uint]entities.Row, error) {
	out := make(map[uint]entities.Row, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []PT
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, dbError(err, "load_rows", "")
	}
	for _, row := range rows {
		out[row.GetID()] = row
	}
	return out, nil
}

// DeleteMappedRows removes every row of prototype's table that a mapping of
// kind points at. It runs on the caller's transaction.
func DeleteMappedRows(tx *gorm.DB, kind string, prototype entities.Row) (int64, error) {
	mapped := tx.Session(&gorm.Session{NewDB: true}).
		Model(&entities.IDMapping{}).
		Select("target_id").
		Where("kind = ?", kind)

	result := tx.Where("id IN (?)", mapped).Delete(prototype)
	if result.Error != nil {
		return 0, dbError(result.Error, "delete_rows", "", "entity_kind", kind, "table", prototype.TableName())
	}
	return result.RowsAffected, nil
}

// CountRows counts rows in prototype's table.
func CountRows(ctx context.Context, db *gorm.DB, prototype entities.Row) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(prototype).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_rows", "", "table", prototype.TableName())
	}
	return n, nil
}
