package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// AllocateUID returns the next free uid in the given [floor, floor+window)
// range: max(existing ids in range)+1, or floor if the range is empty
// (invariant 4).
func AllocateUID(ctx context.Context, tx *gorm.DB, floor, window int64) (int64, error) {
	var max int64
	err := tx.WithContext(ctx).Model(&GlobalUser{}).
		Where("uid >= ? AND uid < ?", floor, floor+window).
		Select("COALESCE(MAX(uid), ?)", floor-1).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("store: allocating uid: %w", err)
	}
	next := max + 1
	if next < floor {
		next = floor
	}
	if next >= floor+window {
		return 0, fmt.Errorf("store: uid range [%d, %d) exhausted", floor, floor+window)
	}
	return next, nil
}

// AllocateGID is AllocateUID's GlobalGroup analogue.
func AllocateGID(ctx context.Context, tx *gorm.DB, floor, window int64) (int64, error) {
	var max int64
	err := tx.WithContext(ctx).Model(&GlobalGroup{}).
		Where("gid >= ? AND gid < ?", floor, floor+window).
		Select("COALESCE(MAX(gid), ?)", floor-1).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("store: allocating gid: %w", err)
	}
	next := max + 1
	if next < floor {
		next = floor
	}
	if next >= floor+window {
		return 0, fmt.Errorf("store: gid range [%d, %d) exhausted", floor, floor+window)
	}
	return next, nil
}

// NextSystemUID allocates from [MinSystemUID, MinSystemUID+1e8).
func NextSystemUID(ctx context.Context, tx *gorm.DB) (int64, error) {
	return AllocateUID(ctx, tx, types.MinSystemUID, types.IDRangeWindow)
}

// NextClassUID and NextClassGID allocate from [MinClassID, MinClassID+1e8) — used for both
// class users and class groups, matching the original's single class-id
// range shared across entity kinds.
func NextClassUID(ctx context.Context, tx *gorm.DB) (int64, error) {
	return AllocateUID(ctx, tx, types.MinClassID, types.IDRangeWindow)
}

func NextClassGID(ctx context.Context, tx *gorm.DB) (int64, error) {
	return AllocateGID(ctx, tx, types.MinClassID, types.IDRangeWindow)
}

// NextLabGroupGID allocates from [MinLabGroupID, MaxLabGroupID).
func NextLabGroupGID(ctx context.Context, tx *gorm.DB) (int64, error) {
	return AllocateGID(ctx, tx, types.MinLabGroupID, types.MaxLabGroupID-types.MinLabGroupID)
}

func NextSystemGID(ctx context.Context, tx *gorm.DB) (int64, error) {
	return AllocateGID(ctx, tx, types.MinSystemUID, types.IDRangeWindow)
}

// SponsorGroupGID implements invariant 5.
func SponsorGroupGID(sponsorUID int64) int64 {
	return types.MinPigroupGID + sponsorUID
}

// SponsorGroupName implements invariant 5.
func SponsorGroupName(sponsorUsername string) string {
	return sponsorUsername + "grp"
}
