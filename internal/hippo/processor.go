package hippo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/notification"
	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// Processor drives §4.5's event dispatch loop: fetch pending events from the
// upstream queue, upsert a local Event row per id, and apply CreateAccount/
// AddAccountToGroup/UpdateSshKey against the store.
type Processor struct {
	svc    *store.Service
	notify *notification.Service
	client *Client
	cfg    config.HippoConfig
	log    *zap.Logger
}

func NewProcessor(svc *store.Service, notify *notification.Service, cfg config.HippoConfig, log *zap.Logger) *Processor {
	return &Processor{
		svc:    svc,
		notify: notify,
		client: NewClient(cfg.BaseURL, cfg.APIKey),
		cfg:    cfg,
		log:    log.Named("hippo"),
	}
}

// ProcessOptions narrows the run to a single id or action, and controls
// whether results are posted back to the upstream queue.
type ProcessOptions struct {
	PostBack   bool
	FilterID   string
	FilterType string
}

// Run implements process_hippoapi_events: fetch pending events, filter them,
// and process each (§4.5 steps 1-5).
func (p *Processor) Run(ctx context.Context, opts ProcessOptions) error {
	events, err := p.client.FetchPending(ctx)
	if err != nil {
		return fmt.Errorf("hippo: run: %w", err)
	}
	if len(events) == 0 {
		p.log.Warn("got no events to process")
		return nil
	}

	for _, env := range events {
		if !matchesFilter(env, opts.FilterType, opts.FilterID) {
			continue
		}
		p.processOne(ctx, env, opts.PostBack)
	}
	return nil
}

func matchesFilter(env Envelope, filterType, filterID string) bool {
	if filterType == "" && filterID == "" {
		return true
	}
	if filterID != "" && env.ID == filterID {
		return true
	}
	return filterType != "" && env.Action == filterType
}

// resolveSite applies the config site-alias map, falling back to the
// cluster name itself lowercased (site_aliases.get(cluster, cluster)).
func (p *Processor) resolveSite(cluster string) string {
	if alias, ok := p.cfg.SiteAliases[cluster]; ok {
		return strings.ToLower(alias)
	}
	return strings.ToLower(cluster)
}

// processOne implements §4.5 steps 2-5 for a single event: upsert the Event
// row, skip-and-postback if already complete and post-back is requested
// (without post-back a Complete row is dispatched again), otherwise dispatch within a
// transaction and update retries/status — the retry-counter bump always
// commits even when the dispatch itself rolls back.
func (p *Processor) processOne(ctx context.Context, env Envelope, postBack bool) {
	p.log.Info("processing hippo event", zap.String("action", env.Action), zap.String("id", env.ID))

	payload, err := json.Marshal(env.Data)
	if err != nil {
		p.log.Error("marshaling event payload failed", zap.String("id", env.ID), zap.Error(err))
		return
	}

	ev, err := p.svc.Store().UpsertEvent(ctx, env.ID, env.Action, string(payload))
	if err != nil {
		p.log.Error("upserting event failed", zap.String("id", env.ID), zap.Error(err))
		return
	}

	if postBack && ev.Status == "Complete" {
		p.log.Info("event already complete, attempting postback", zap.String("id", env.ID))
		if err := p.client.PostbackStatus(ctx, env.ID, "Complete"); err != nil {
			p.log.Warn("postback failed", zap.String("id", env.ID), zap.Error(err))
		}
		return
	}

	dispatchErr := p.svc.Store().Transaction(ctx, func(tx *store.Store) error {
		txSvc := store.NewService(tx)
		return p.dispatch(ctx, txSvc, env)
	})

	ev.Retries++
	if dispatchErr != nil {
		p.log.Error("event dispatch failed", zap.String("id", env.ID), zap.Int("retries", ev.Retries), zap.Error(dispatchErr))
		if ev.Retries >= p.cfg.MaxTries {
			ev.Status = "Failed"
			if err := p.svc.Store().UpdateEvent(ctx, ev); err != nil {
				p.log.Error("updating failed event failed", zap.String("id", env.ID), zap.Error(err))
			}
			p.log.Warn("event exhausted retries, posting back Failed", zap.String("id", env.ID))
			if err := p.client.PostbackStatus(ctx, env.ID, "Failed"); err != nil {
				p.log.Warn("postback failed", zap.String("id", env.ID), zap.Error(err))
			}
			return
		}
		if err := p.svc.Store().UpdateEvent(ctx, ev); err != nil {
			p.log.Error("updating event retry count failed", zap.String("id", env.ID), zap.Error(err))
		}
		return
	}

	ev.Status = "Complete"
	if err := p.svc.Store().UpdateEvent(ctx, ev); err != nil {
		p.log.Error("marking event complete failed", zap.String("id", env.ID), zap.Error(err))
	}
	p.log.Info("event completed", zap.String("id", env.ID))
	if postBack {
		if err := p.client.PostbackStatus(ctx, env.ID, "Complete"); err != nil {
			p.log.Warn("postback failed", zap.String("id", env.ID), zap.Error(err))
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, txSvc *store.Service, env Envelope) error {
	switch env.Action {
	case "CreateAccount":
		return p.processCreateAccount(ctx, txSvc, env)
	case "AddAccountToGroup":
		return p.processAddAccountToGroup(ctx, txSvc, env)
	case "UpdateSshKey":
		return p.processUpdateSSHKey(ctx, txSvc, env)
	default:
		return errs.Validationf("action", "unrecognized hippo action %q", env.Action)
	}
}

// processCreateAccount implements §4.5's CreateAccount dispatch.
func (p *Processor) processCreateAccount(ctx context.Context, txSvc *store.Service, env Envelope) error {
	account, ok := env.account()
	if !ok {
		return errs.Validationf("accounts", "event %s: no account payload", env.ID)
	}
	sitename := p.resolveSite(env.Data.Cluster)
	username := account.Kerberos

	user, err := txSvc.Store().GetGlobalUserByUsername(ctx, username)
	if errs.Is(err, errs.NotFound) {
		uid, uerr := strconv.ParseInt(account.Mothra, 10, 64)
		if uerr != nil {
			return fmt.Errorf("hippo: create account %s: parsing mothra id %q: %w", username, account.Mothra, uerr)
		}
		var iamID *int64
		if id, ierr := strconv.ParseInt(account.IAM, 10, 64); ierr == nil {
			iamID = &id
		}
		user, err = txSvc.CreateUser(ctx, username, account.Email, uid, account.Name, store.NewUserOptions{
			Type:    "user",
			Shell:   types.DefaultShell,
			Status:  "active",
			SSHKeys: []string{account.Key},
			Access:  types.HippoToCheetoAccess(account.AccessTypes),
			IAMID:   iamID,
		})
		if err != nil {
			return fmt.Errorf("hippo: create account %s: %w", username, err)
		}
	} else if err != nil {
		return fmt.Errorf("hippo: create account %s: %w", username, err)
	} else if user.Status != "active" {
		if err := txSvc.SetUserStatus(ctx, username, "active", "Activated from HiPPO", ""); err != nil {
			return fmt.Errorf("hippo: create account %s: reactivating: %w", username, err)
		}
	}

	isNewSiteUser := false
	su, err := txSvc.Store().GetSiteUser(ctx, sitename, username)
	if errs.Is(err, errs.NotFound) {
		if _, err := txSvc.AddSiteUser(ctx, sitename, user); err != nil {
			return fmt.Errorf("hippo: create account %s: site %s: %w", username, sitename, err)
		}
		isNewSiteUser = true
	} else if err != nil {
		return fmt.Errorf("hippo: create account %s: site %s: %w", username, sitename, err)
	} else if su.EffectiveStatus(user.Status) != "active" {
		if err := txSvc.SetUserStatus(ctx, username, "active", "Activated from HiPPO", sitename); err != nil {
			return fmt.Errorf("hippo: create account %s: reactivating at site %s: %w", username, sitename, err)
		}
	}

	if isNewSiteUser {
		access := append(types.HippoToCheetoAccess(account.AccessTypes), "slurm")
		for _, a := range access {
			if err := txSvc.AddUserAccess(ctx, username, a, sitename); err != nil {
				return fmt.Errorf("hippo: create account %s: granting %s: %w", username, a, err)
			}
		}
	}

	if _, err := txSvc.CreateHomeStorage(ctx, sitename, username, nil); err != nil && !errs.Is(err, errs.Duplicate) {
		p.log.Error("creating home storage failed", zap.String("user", username), zap.String("site", sitename), zap.Error(err))
	}

	hasSponsor := false
	for _, g := range env.Data.Groups {
		if err := txSvc.GroupMutateRole(ctx, sitename, []string{g.Name}, []string{username}, store.RoleMember, true); err != nil {
			return fmt.Errorf("hippo: create account %s: joining group %s: %w", username, g.Name, err)
		}
		if g.Name == "sponsors" {
			hasSponsor = true
		}
	}
	if hasSponsor {
		if _, err := txSvc.CreateGroupFromSponsor(ctx, sitename, user); err != nil {
			return fmt.Errorf("hippo: create account %s: sponsor group: %w", username, err)
		}
	}

	if p.notify != nil && account.Email != "" {
		if err := p.notify.NotifyAccountReady(ctx, []string{account.Email}, username, sitename); err != nil {
			p.log.Warn("account-ready notification failed", zap.String("user", username), zap.Error(err))
		}
	}
	return nil
}

// processAddAccountToGroup implements §4.5's AddAccountToGroup dispatch.
func (p *Processor) processAddAccountToGroup(ctx context.Context, txSvc *store.Service, env Envelope) error {
	account, ok := env.account()
	if !ok {
		return errs.Validationf("accounts", "event %s: no account payload", env.ID)
	}
	sitename := p.resolveSite(env.Data.Cluster)
	username := account.Kerberos

	hasSponsor := false
	for _, g := range env.Data.Groups {
		if err := txSvc.GroupMutateRole(ctx, sitename, []string{g.Name}, []string{username}, store.RoleMember, true); err != nil {
			return fmt.Errorf("hippo: add account %s to group %s: %w", username, g.Name, err)
		}
		if g.Name == "sponsors" {
			hasSponsor = true
		}
	}
	if hasSponsor {
		user, err := txSvc.Store().GetGlobalUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("hippo: add account %s: sponsor group: %w", username, err)
		}
		if _, err := txSvc.CreateGroupFromSponsor(ctx, sitename, user); err != nil {
			return fmt.Errorf("hippo: add account %s: sponsor group: %w", username, err)
		}
	}
	return nil
}

// processUpdateSSHKey implements §4.5's UpdateSshKey dispatch.
func (p *Processor) processUpdateSSHKey(ctx context.Context, txSvc *store.Service, env Envelope) error {
	account, ok := env.account()
	if !ok {
		return errs.Validationf("accounts", "event %s: no account payload", env.ID)
	}
	sitename := p.resolveSite(env.Data.Cluster)
	username := account.Kerberos

	su, err := txSvc.Store().GetSiteUser(ctx, sitename, username)
	if err != nil {
		return fmt.Errorf("hippo: update ssh key %s: %w", username, err)
	}
	user, err := txSvc.Store().GetGlobalUserByID(ctx, su.GlobalUserID)
	if err != nil {
		return fmt.Errorf("hippo: update ssh key %s: %w", username, err)
	}
	user.SSHKeys = []string{account.Key}
	if err := txSvc.Store().UpdateGlobalUser(ctx, user); err != nil {
		return fmt.Errorf("hippo: update ssh key %s: %w", username, err)
	}

	if err := txSvc.AddUserAccess(ctx, username, "login-ssh", sitename); err != nil {
		return fmt.Errorf("hippo: update ssh key %s: granting login-ssh: %w", username, err)
	}

	if p.notify != nil && account.Email != "" {
		if err := p.notify.NotifyKeyUpdated(ctx, []string{account.Email}, username); err != nil {
			p.log.Warn("key-updated notification failed", zap.String("user", username), zap.Error(err))
		}
	}
	return nil
}
