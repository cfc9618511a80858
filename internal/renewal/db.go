package renewal

import (
	"context"

	"go_certagent/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBBackend keeps renewals in the renewals table, one row per renewal
type DBBackend struct {
	db *gorm.DB
}

func NewDBBackend(db *gorm.DB) *DBBackend {
	return &DBBackend{db: db}
}

func (d *DBBackend) ReadAll(ctx context.Context) ([]Blob, error) {
	var records []model.RenewalRecord
	if err := d.db.WithContext(ctx).Order("next_due_date ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Blob, 0, len(records))
	for _, rec := range records {
		out = append(out, Blob{
			ID:           rec.ID,
			FriendlyName: rec.FriendlyName,
			NextDueDate:  rec.NextDueDate,
			Data:         rec.Data,
			History:      rec.History,
		})
	}
	return out, nil
}

func (d *DBBackend) Write(ctx context.Context, b Blob) error {
	rec := model.RenewalRecord{
		ID:           b.ID,
		FriendlyName: b.FriendlyName,
		NextDueDate:  b.NextDueDate,
		Data:         datatypes.JSON(b.Data),
		History:      datatypes.JSON(b.History),
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"friendly_name", "next_due_date", "data", "history", "updated_at"}),
		}).Create(&rec).Error
	})
}

func (d *DBBackend) Delete(ctx context.Context, id string) error {
	res := d.db.WithContext(ctx).Where("id = ?", id).Delete(&model.RenewalRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
