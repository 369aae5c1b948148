// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package replies periodically looks for replies to every sent campaign message, records them as
// notifications and alerts the administrator.
package replies

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mailbox"
	"github.com/lukasdietrich/briefcast/internal/metrics"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("replies.interval", "900s")
	viper.SetDefault("notify.admin", "")
}

// Store provides identities and the notification document.
type Store interface {
	Identities() ([]models.SenderIdentity, error)
	Notifications() ([]models.Notification, error)
	PutNotifications(notifications []models.Notification) error
}

// UnseenFunc observes the number of unseen notifications.
type UnseenFunc func(unseen int)

// Options configures the checker.
type Options struct {
	Interval time.Duration
	Admin    string
}

// OptionsFromViper reads Options from viper.
//
// `replies.interval` is the time between two sweeps.
// `notify.admin` receives an alert for every detected reply. Alerts are disabled when it is empty.
func OptionsFromViper() Options {
	return Options{
		Interval: viper.GetDuration("replies.interval"),
		Admin:    viper.GetString("notify.admin"),
	}
}

// candidate is a sent message, that has no notification yet.
type candidate struct {
	campaignID   string
	campaignName string
	outcome      models.RecipientOutcome
}

type group struct {
	address    string
	candidates []candidate
}

// Checker sweeps the mailboxes of all sender identities for replies.
type Checker struct {
	store    Store
	sender   delivery.Sender
	opener   mailbox.Opener
	registry *campaign.Registry
	opts     Options

	mu     sync.Mutex
	unseen UnseenFunc

	now func() time.Time
}

// NewChecker creates a new Checker.
func NewChecker(
	store Store,
	sender delivery.Sender,
	opener mailbox.Opener,
	registry *campaign.Registry,
	opts Options,
) *Checker {
	return &Checker{
		store:    store,
		sender:   sender,
		opener:   opener,
		registry: registry,
		opts:     opts,
		now:      time.Now,
	}
}

// OnUnseen registers the observer of the unseen count.
func (c *Checker) OnUnseen(fn UnseenFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unseen = fn
}

// Run publishes the current unseen count, sweeps immediately and then once per interval until ctx
// is cancelled. Failed sweeps are logged and retried on the next tick.
func (c *Checker) Run(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "replies")

	if err := c.publishCurrent(); err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not read notifications")
	}

	interval := c.opts.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		found, err := c.Sweep(ctx)
		if err != nil {
			log.ErrorContext(ctx).Err(err).Msg("reply sweep failed")
		} else {
			log.DebugContext(ctx).Int("found", found).Msg("reply sweep finished")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep checks every sent message without a notification once. Campaigns are reloaded first, so
// the sweep covers campaigns written by other processes. It returns the number of new
// notifications.
func (c *Checker) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Load(ctx); err != nil {
		return 0, err
	}

	notifications, err := c.store.Notifications()
	if err != nil {
		return 0, err
	}

	identities, err := c.store.Identities()
	if err != nil {
		return 0, err
	}

	var (
		byAddress = models.IdentitiesByAddress(identities)
		found     int
	)

	for _, g := range c.candidates(notifications) {
		if ctx.Err() != nil {
			break
		}

		identity, ok := byAddress[g.address]
		if !ok || !identity.HasMailbox() {
			continue
		}

		detected := c.checkIdentity(ctx, identity, g)

		for _, n := range detected {
			var added bool

			if notifications, added = add(notifications, n.notification); !added {
				continue
			}

			found++
			c.record(ctx, identities, n)
		}
	}

	if found == 0 {
		return 0, nil
	}

	if err := c.store.PutNotifications(notifications); err != nil {
		return found, err
	}

	c.publish(unseen(notifications))
	return found, nil
}

// candidates groups all unnotified sent messages by identity in first-seen order.
func (c *Checker) candidates(notifications []models.Notification) []*group {
	notified := make(map[string]bool, len(notifications))
	for _, n := range notifications {
		notified[n.CorrelationID] = true
	}

	var (
		groups  []*group
		indexed = make(map[string]*group)
	)

	for _, cmp := range c.registry.All() {
		for _, outcome := range cmp.Outcomes {
			if outcome.Status != models.StatusSent || outcome.CorrelationID == "" || notified[outcome.CorrelationID] {
				continue
			}

			g, ok := indexed[outcome.SenderUsed]
			if !ok {
				g = &group{address: outcome.SenderUsed}
				indexed[outcome.SenderUsed] = g
				groups = append(groups, g)
			}

			g.candidates = append(g.candidates, candidate{
				campaignID:   cmp.ID,
				campaignName: cmp.Name,
				outcome:      outcome,
			})
		}
	}

	return groups
}

type detection struct {
	campaignID   string
	notification models.Notification
}

func (c *Checker) checkIdentity(ctx context.Context, identity *models.SenderIdentity, g *group) []detection {
	ctx = log.WithIdentity(ctx, identity.Address)

	session, err := c.opener.Open(ctx, identity)
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not open mailbox")
		metrics.MailboxErrors.Inc()

		return nil
	}

	defer func() {
		if err := session.Close(); err != nil {
			log.DebugContext(ctx).Err(err).Msg("could not close mailbox")
		}
	}()

	var detected []detection

	for _, cand := range g.candidates {
		if ctx.Err() != nil {
			break
		}

		replied, evidence := mailbox.HasReplied(ctx, session, &cand.outcome)
		if !replied {
			continue
		}

		log.InfoContext(log.WithRecipient(log.WithCampaign(ctx, cand.campaignID), cand.outcome.Recipient)).
			Str("evidence", evidence).
			Msg("reply detected")

		detected = append(detected, detection{
			campaignID: cand.campaignID,
			notification: models.Notification{
				Recipient:     cand.outcome.Recipient,
				CampaignName:  cand.campaignName,
				Subject:       cand.outcome.Subject,
				CorrelationID: cand.outcome.CorrelationID,
				DetectedAt:    c.now(),
			},
		})
	}

	return detected
}

// record marks the outcome as replied and alerts the administrator.
func (c *Checker) record(ctx context.Context, identities []models.SenderIdentity, d detection) {
	ctx = log.WithCampaign(ctx, d.campaignID)
	metrics.IncrementReplies(metrics.SourceChecker)

	if _, err := c.registry.MarkReplied(ctx, d.campaignID, d.notification.CorrelationID); err != nil {
		log.ErrorContext(ctx).Err(err).Msg("could not mark outcome as replied")
	}

	if c.opts.Admin == "" || len(identities) == 0 {
		return
	}

	identity := &identities[0]

	// The reply is already recorded, so the alert is sent even if the sweep is stopped meanwhile.
	sendCtx := context.WithoutCancel(log.WithIdentity(ctx, identity.Address))

	_, err := c.sender.Send(sendCtx, identity, delivery.Message{
		To:      c.opts.Admin,
		Subject: fmt.Sprintf("New reply received: %s", d.notification.Recipient),
		Content: alert(&d.notification),
	})
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not alert the administrator")
	}
}

func alert(n *models.Notification) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A new reply has been detected.\n\n")
	fmt.Fprintf(&b, "From: %s\n", n.Recipient)
	fmt.Fprintf(&b, "Campaign: %s\n", n.CampaignName)
	fmt.Fprintf(&b, "Original subject: %s\n", n.Subject)
	fmt.Fprintf(&b, "Time: %s\n", n.DetectedAt.Format(time.DateTime))

	return b.String()
}

// Notifications returns all notifications, most recent first.
func (c *Checker) Notifications() ([]models.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifications, err := c.store.Notifications()
	if err != nil {
		return nil, err
	}

	newestFirst(notifications)
	return notifications, nil
}

// Unseen returns the number of unseen notifications.
func (c *Checker) Unseen() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifications, err := c.store.Notifications()
	if err != nil {
		return 0, err
	}

	return unseen(notifications), nil
}

// MarkAllSeen marks every notification as seen. It returns the number of notifications, that were
// unseen before.
func (c *Checker) MarkAllSeen() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifications, err := c.store.Notifications()
	if err != nil {
		return 0, err
	}

	n := unseen(notifications)
	if n == 0 {
		return 0, nil
	}

	for i := range notifications {
		notifications[i].Seen = true
	}

	if err := c.store.PutNotifications(notifications); err != nil {
		return 0, err
	}

	c.publish(0)
	return n, nil
}

func (c *Checker) publishCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifications, err := c.store.Notifications()
	if err != nil {
		return err
	}

	c.publish(unseen(notifications))
	return nil
}

// publish must be called with c.mu held.
func (c *Checker) publish(n int) {
	metrics.UnseenNotifications.Set(float64(n))

	if c.unseen != nil {
		c.unseen(n)
	}
}
