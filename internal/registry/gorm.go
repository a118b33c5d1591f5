package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/simbafs/stagesync/internal/domain"
)

// Open connects to the registry database and migrates the displays table.
// driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&domain.RegisteredDisplay{}); err != nil {
		return nil, fmt.Errorf("failed to migrate displays: %w", err)
	}
	return db, nil
}

// GormRepository implements Repository on top of gorm.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, d *domain.RegisteredDisplay) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*domain.RegisteredDisplay, error) {
	var d domain.RegisteredDisplay
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *GormRepository) FindByPairingCode(ctx context.Context, code string) (*domain.RegisteredDisplay, error) {
	var d domain.RegisteredDisplay
	if err := r.db.WithContext(ctx).First(&d, "pairing_code = ?", code).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *GormRepository) ListByChurch(ctx context.Context, churchID string) ([]domain.RegisteredDisplay, error) {
	var out []domain.RegisteredDisplay
	err := r.db.WithContext(ctx).
		Where("church_id = ?", churchID).
		Order("created_at, id").
		Find(&out).Error
	return out, err
}

func (r *GormRepository) Update(ctx context.Context, d *domain.RegisteredDisplay) error {
	res := r.db.WithContext(ctx).
		Model(&domain.RegisteredDisplay{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{
			"name":          d.Name,
			"location":      d.Location,
			"display_class": d.DisplayClass,
			"device_id":     d.DeviceID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.RegisteredDisplay{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRepository) MarkSeen(ctx context.Context, code string, at time.Time) (*domain.RegisteredDisplay, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.RegisteredDisplay{}).
		Where("pairing_code = ?", code).
		Updates(map[string]any{"is_online": true, "last_seen_at": at})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return r.FindByPairingCode(ctx, code)
}

func (r *GormRepository) MarkOffline(ctx context.Context, churchID string, cutoff, at time.Time) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.RegisteredDisplay{}).
		Where("is_online = ?", true).
		Where("(last_seen_at IS NULL OR last_seen_at < ?)", cutoff)
	if churchID != "" {
		q = q.Where("church_id = ?", churchID)
	}
	res := q.Updates(map[string]any{"is_online": false, "updated_at": at})
	return res.RowsAffected, res.Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
