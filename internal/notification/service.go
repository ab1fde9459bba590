package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is cheeto's lifecycle-notification sender (§4.5): each method
// corresponds to one of the four notification points the event processor
// and reconcilers raise. Unlike the teacher's Service, there is no in-app
// persistence or live push — email is the only channel, since cheeto has no
// GUI for a recipient to be looking at.
type Service struct {
	email *emailSender
	log   *zap.Logger
}

// NewService builds a Service. cfg may be nil, meaning SMTP was never
// configured — all Notify* calls become no-ops rather than errors.
func NewService(cfg *SMTPConfig, log *zap.Logger) *Service {
	return &Service{email: newEmailSender(cfg), log: log.Named("notification")}
}

// NotifyAccountReady implements the "account ready" notification: sent to a
// new user once create_user (and any site attachment) has committed.
func (s *Service) NotifyAccountReady(ctx context.Context, to []string, username, sitename string) error {
	subject := fmt.Sprintf("Your HPC account %q is ready", username)
	body := fmt.Sprintf("Your account %q has been created and attached to site %q as of %s.",
		username, sitename, time.Now().UTC().Format(time.RFC3339))
	return s.send(ctx, "account_ready", to, subject, body)
}

// NotifyKeyUpdated implements the "SSH key updated" notification, raised by
// the UpdateSshKey HiPPO action handler.
func (s *Service) NotifyKeyUpdated(ctx context.Context, to []string, username string) error {
	subject := fmt.Sprintf("SSH key updated for %s", username)
	body := fmt.Sprintf("The SSH key on file for account %q was updated at %s.",
		username, time.Now().UTC().Format(time.RFC3339))
	return s.send(ctx, "key_updated", to, subject, body)
}

// NotifyNewSponsor implements the "new sponsor group" notification for a
// sponsor whose group was just created. CreateGroupFromSponsor and the event
// processor do not call it.
func (s *Service) NotifyNewSponsor(ctx context.Context, to []string, sponsorUsername, groupname string) error {
	subject := fmt.Sprintf("You are now sponsoring group %s", groupname)
	body := fmt.Sprintf("A lab group %q has been created with %q as sponsor. "+
		"You can add group members, sudoers, and slurm accounts through the usual request process.",
		groupname, sponsorUsername)
	return s.send(ctx, "new_sponsor", to, subject, body)
}

// NotifySyncError implements the "sync error" notification for a per-entity
// reconciliation step that failed. The C6/C7/C8 reconcilers do not call it:
// they log such failures and continue (§7's "log and continue" rule).
func (s *Service) NotifySyncError(ctx context.Context, to []string, subsystem, entity string, cause error) error {
	subject := fmt.Sprintf("cheeto sync error: %s", subsystem)
	body := fmt.Sprintf("Reconciling %q in %s failed at %s:\n\n%s",
		entity, subsystem, time.Now().UTC().Format(time.RFC3339), cause)
	return s.send(ctx, "sync_error", to, subject, body)
}

func (s *Service) send(ctx context.Context, kind string, to []string, subject, body string) error {
	if err := s.email.Send(ctx, kind, to, subject, body); err != nil {
		s.log.Warn("email notification delivery failed", zap.String("type", kind), zap.Error(err))
		return err
	}
	return nil
}
