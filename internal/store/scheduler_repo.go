package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

func (s *Store) CreateQOS(ctx context.Context, q *SchedulerQOS) error {
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.Duplicatef("SchedulerQOS", "site=%s name=%s", q.Sitename, q.Name)
		}
		return fmt.Errorf("store: create qos: %w", err)
	}
	return nil
}

func (s *Store) GetQOS(ctx context.Context, sitename, name string) (*SchedulerQOS, error) {
	var q SchedulerQOS
	err := s.db.WithContext(ctx).Where("sitename = ? AND name = ?", sitename, name).First(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("SchedulerQOS", "site=%s name=%s", sitename, name)
		}
		return nil, fmt.Errorf("store: get qos: %w", err)
	}
	return &q, nil
}

func (s *Store) UpdateQOS(ctx context.Context, q *SchedulerQOS) error {
	if err := s.db.WithContext(ctx).Save(q).Error; err != nil {
		return fmt.Errorf("store: update qos: %w", err)
	}
	return nil
}

func (s *Store) ListQOS(ctx context.Context, sitename string) ([]SchedulerQOS, error) {
	var out []SchedulerQOS
	if err := s.db.WithContext(ctx).Where("sitename = ?", sitename).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list qos: %w", err)
	}
	return out, nil
}

// CascadeDeleteQOS removes the QOS and every SchedulerAssociation that
// references it (§4.2 cascade rule), plus the testable-property-5 scenario
// in §8 (QOS cascade).
func (s *Store) CascadeDeleteQOS(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("qos_id = ?", id).Delete(&SchedulerAssociation{}).Error; err != nil {
			return fmt.Errorf("store: cascade delete qos associations: %w", err)
		}
		if err := tx.Delete(&SchedulerQOS{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("store: cascade delete qos: %w", err)
		}
		return nil
	})
}

func (s *Store) CreatePartition(ctx context.Context, p *SchedulerPartition) error {
	if err := s.db.WithContext(ctx).FirstOrCreate(p, SchedulerPartition{SiteID: p.SiteID, Name: p.Name}).Error; err != nil {
		return fmt.Errorf("store: create partition: %w", err)
	}
	return nil
}

func (s *Store) GetPartition(ctx context.Context, sitename, name string) (*SchedulerPartition, error) {
	var p SchedulerPartition
	err := s.db.WithContext(ctx).Where("sitename = ? AND name = ?", sitename, name).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("SchedulerPartition", "site=%s name=%s", sitename, name)
		}
		return nil, fmt.Errorf("store: get partition: %w", err)
	}
	return &p, nil
}

func (s *Store) CascadeDeletePartition(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("partition_id = ?", id).Delete(&SchedulerAssociation{}).Error; err != nil {
			return fmt.Errorf("store: cascade delete partition associations: %w", err)
		}
		if err := tx.Delete(&SchedulerPartition{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("store: cascade delete partition: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateAssociation(ctx context.Context, a *SchedulerAssociation) error {
	if err := s.db.WithContext(ctx).
		FirstOrCreate(a, SchedulerAssociation{QOSID: a.QOSID, PartitionID: a.PartitionID, GroupID: a.GroupID}).Error; err != nil {
		return fmt.Errorf("store: create association: %w", err)
	}
	return nil
}

func (s *Store) ListAssociations(ctx context.Context, sitename string) ([]SchedulerAssociation, error) {
	var out []SchedulerAssociation
	if err := s.db.WithContext(ctx).Where("sitename = ?", sitename).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list associations: %w", err)
	}
	return out, nil
}

// ListAssociationsByGroups implements §4.3's query_user_slurm support:
// every association whose group is one of the given SiteGroup ids.
func (s *Store) ListAssociationsByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]SchedulerAssociation, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var out []SchedulerAssociation
	if err := s.db.WithContext(ctx).Where("group_id IN ?", groupIDs).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list associations by groups: %w", err)
	}
	return out, nil
}

// CascadeDeleteSiteGroupAssociations removes every association referencing
// a SiteGroup that is being deleted.
func (s *Store) CascadeDeleteSiteGroupAssociations(ctx context.Context, siteGroupID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("group_id = ?", siteGroupID).Delete(&SchedulerAssociation{}).Error; err != nil {
		return fmt.Errorf("store: cascade delete site group associations: %w", err)
	}
	return nil
}
