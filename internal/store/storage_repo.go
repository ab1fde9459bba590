package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

func (s *Store) CreateSourceCollection(ctx context.Context, c *SourceCollection) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("store: create source collection: %w", err)
	}
	return nil
}

func (s *Store) GetSourceCollection(ctx context.Context, siteID uuid.UUID, name string) (*SourceCollection, error) {
	var c SourceCollection
	err := s.db.WithContext(ctx).Where("site_id = ? AND name = ?", siteID, name).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("SourceCollection", "site=%s name=%s", siteID, name)
		}
		return nil, fmt.Errorf("store: get source collection: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateStorageMountSource(ctx context.Context, src *StorageMountSource) error {
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return fmt.Errorf("store: create storage mount source: %w", err)
	}
	return nil
}

// CascadeDeleteStorageMountSource removes a StorageMountSource and every
// Storage row bound to it (§4.2 cascade rule).
func (s *Store) CascadeDeleteStorageMountSource(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&Storage{}).Error; err != nil {
			return fmt.Errorf("store: cascade delete storage: %w", err)
		}
		if err := tx.Delete(&StorageMountSource{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("store: cascade delete storage mount source: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateAutomountMap(ctx context.Context, m *AutomountMap) error {
	if err := s.db.WithContext(ctx).FirstOrCreate(m, AutomountMap{SiteID: m.SiteID, Tablename: m.Tablename}).Error; err != nil {
		return fmt.Errorf("store: create automount map: %w", err)
	}
	return nil
}

func (s *Store) GetAutomountMap(ctx context.Context, siteID uuid.UUID, tablename string) (*AutomountMap, error) {
	var m AutomountMap
	err := s.db.WithContext(ctx).Where("site_id = ? AND tablename = ?", siteID, tablename).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("AutomountMap", "site=%s tablename=%s", siteID, tablename)
		}
		return nil, fmt.Errorf("store: get automount map: %w", err)
	}
	return &m, nil
}

func (s *Store) CreateAutomount(ctx context.Context, a *Automount) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("store: create automount: %w", err)
	}
	return nil
}

func (s *Store) CreateStorage(ctx context.Context, st *Storage) error {
	if err := s.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("store: create storage: %w", err)
	}
	return nil
}

// ListStoragesByMapTablename returns every Storage mounted under the named
// automount map ("home" or "group") at a site, for the directory
// reconciler's automount rewrite pass (§4.6 step 4).
func (s *Store) ListStoragesByMapTablename(ctx context.Context, siteID uuid.UUID, tablename string) ([]Storage, error) {
	amap, err := s.GetAutomountMap(ctx, siteID, tablename)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil
		}
		return nil, err
	}

	var automounts []Automount
	if err := s.db.WithContext(ctx).Where("map_id = ?", amap.ID).Find(&automounts).Error; err != nil {
		return nil, fmt.Errorf("store: list automounts for map %s: %w", tablename, err)
	}
	if len(automounts) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(automounts))
	for i, a := range automounts {
		ids[i] = a.ID
	}

	var storages []Storage
	if err := s.db.WithContext(ctx).Where("mount_id IN ?", ids).Find(&storages).Error; err != nil {
		return nil, fmt.Errorf("store: list storages for map %s: %w", tablename, err)
	}
	return storages, nil
}

func (s *Store) GetStorageByName(ctx context.Context, name string) (*Storage, error) {
	var st Storage
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("Storage", "name=%s", name)
		}
		return nil, fmt.Errorf("store: get storage: %w", err)
	}
	return &st, nil
}
