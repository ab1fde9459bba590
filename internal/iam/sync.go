package iam

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/concurrency"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

// iamSyncConcurrency bounds how many QueryUserIAMID/QueryUserInfo/
// QueryUserColleges round trips run against the IAM API at once. The
// directory and scheduler reconcilers (C6/C7) call out sequentially instead.
const iamSyncConcurrency = 8

// Syncer drives §4.8's per-user reconciliation against the institutional
// IAM API, grounded on iam.py's sync_user_iam.
type Syncer struct {
	svc    *store.Service
	client *Client
	log    *zap.Logger
}

func NewSyncer(svc *store.Service, client *Client, log *zap.Logger) *Syncer {
	return &Syncer{svc: svc, client: client, log: log.Named("iam")}
}

// Result tallies one batch run's outcome.
type Result struct {
	Synced  int
	Skipped int
	Failed  int
}

// SyncPending implements "for each GlobalUser where iam_has_entry != false
// and iam_synced == false, up to a caller-supplied maximum": fetch the
// batch, sync the users concurrently (at most iamSyncConcurrency at once),
// and log-and-skip failures without aborting the run.
func (s *Syncer) SyncPending(ctx context.Context, max int) (Result, error) {
	users, err := s.svc.Store().ListGlobalUsersPendingIAMSync(ctx, max)
	if err != nil {
		return Result{}, fmt.Errorf("iam: list pending users: %w", err)
	}

	limiter := concurrency.NewLimiter(iamSyncConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var result Result
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return
			}
			defer limiter.Release()

			synced, err := s.SyncUser(ctx, u.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn("iam sync failed, skipping", zap.String("username", u.Username), zap.Error(err))
				result.Failed++
				return
			}
			if synced {
				result.Synced++
			} else {
				result.Skipped++
			}
		}()
	}
	wg.Wait()
	return result, nil
}

// SyncUser implements sync_user_iam for a single user: resolve iam_id if
// absent, fetch person/associations/org data, and apply fullname/colleges
// updates atomically. Returns false (no error) when the user has no IAM
// entry and was marked as such rather than updated.
func (s *Syncer) SyncUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := s.svc.Store().GetGlobalUserByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("iam: sync user: %w", err)
	}

	iamID := ""
	if u.IAMID != nil {
		iamID = fmt.Sprintf("%d", *u.IAMID)
	}

	if iamID == "" {
		person, err := s.client.QueryUserIAMID(ctx, u.Username)
		if err != nil {
			return false, fmt.Errorf("iam: resolve iam id for %s: %w", u.Username, err)
		}
		if person == nil {
			s.log.Info("no IAM entry found", zap.String("username", u.Username))
			if err := s.svc.Store().SetGlobalUserIAMHasEntry(ctx, u.ID, false); err != nil {
				return false, fmt.Errorf("iam: record missing entry for %s: %w", u.Username, err)
			}
			return false, nil
		}
		var id int64
		if _, err := fmt.Sscanf(person.IAMID, "%d", &id); err != nil {
			return false, fmt.Errorf("iam: parse iam id %q for %s: %w", person.IAMID, u.Username, err)
		}
		iamID = person.IAMID
		u.IAMID = &id
		s.log.Info("resolved iam id", zap.String("username", u.Username), zap.Int64("iam_id", id))
	}

	info, err := s.client.QueryUserInfo(ctx, iamID)
	if err != nil {
		return false, fmt.Errorf("iam: fetch person info for %s: %w", u.Username, err)
	}
	if info == nil {
		return false, fmt.Errorf("iam: no person record for iam_id=%s (user %s)", iamID, u.Username)
	}
	colleges, err := s.client.QueryUserColleges(ctx, iamID)
	if err != nil {
		return false, fmt.Errorf("iam: fetch colleges for %s: %w", u.Username, err)
	}
	sort.Strings(colleges)

	fullname := u.Fullname
	if info.DFullName != "" && info.DFullName != u.Fullname {
		s.log.Info("updating fullname", zap.String("username", u.Username), zap.String("from", u.Fullname), zap.String("to", info.DFullName))
		fullname = info.DFullName
	}

	return true, s.svc.Store().ApplyIAMSync(ctx, u.ID, u.IAMID, fullname, colleges)
}
