package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/events"
	"github.com/agrocert/agrocert-api/internal/models"
)

// CheckExpiringSoonCredentials publishes one CredentialExpiringSoon event
// per active credential per sweep run. The checkpoint windows overlap (a
// credential 6 days from expiry sits inside both the 30- and 7-day windows),
// so each credential is claimed by the smallest checkpoint whose window
// contains it and skipped in the wider ones. Re-notification happens across
// later sweep runs as the credential crosses smaller checkpoints, never
// twice within one run.
//
// The sweep is read-then-publish only: state changes stay on the
// event-driven path.
func (o *Orchestrator) CheckExpiringSoonCredentials(ctx context.Context) error {
	checkpoints := append([]int(nil), o.cfg.ExpiryCheckpoints...)
	sort.Ints(checkpoints)

	now := o.now().UTC()
	claimed := make(map[string]struct{})
	published := 0
	for _, days := range checkpoints {
		credentials, err := o.credentials.FindExpiringWithin(ctx, days)
		if err != nil {
			return fmt.Errorf("find credentials expiring within %d days: %w", days, err)
		}
		for _, credential := range credentials {
			if _, ok := claimed[credential.ID]; ok {
				continue
			}
			claimed[credential.ID] = struct{}{}
			o.bus.Publish(ctx, events.CredentialExpiringSoon{
				CredentialID:    credential.ID,
				SubjectID:       credential.SubjectID,
				DaysUntilExpiry: days,
				At:              now,
			})
			published++
		}
	}

	o.logger.Info("expiring-soon sweep completed",
		zap.Ints("checkpoints", o.cfg.ExpiryCheckpoints),
		zap.Int("published", published),
	)
	return nil
}

// ProcessExpiredCredentials publishes one CredentialExpired event per active
// credential whose expiry has passed. The status update itself happens in
// the event handler, keeping scheduled sweeps on the same path as human
// actions.
func (o *Orchestrator) ProcessExpiredCredentials(ctx context.Context) error {
	credentials, err := o.credentials.FindExpired(ctx)
	if err != nil {
		return fmt.Errorf("find expired credentials: %w", err)
	}

	now := o.now().UTC()
	for _, credential := range credentials {
		if credential.Status != models.CredentialActive {
			continue
		}
		o.bus.Publish(ctx, events.CredentialExpired{
			CredentialID: credential.ID,
			SubjectID:    credential.SubjectID,
			At:           now,
		})
	}

	o.logger.Info("expired sweep completed", zap.Int("published", len(credentials)))
	return nil
}
