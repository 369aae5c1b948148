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

// Package followup sends follow-up messages to recipients of a campaign, that did not reply yet.
package followup

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mailbox"
	"github.com/lukasdietrich/briefcast/internal/metrics"
	"github.com/lukasdietrich/briefcast/internal/models"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

func init() {
	viper.SetDefault("followup.delay.min", "5s")
	viper.SetDefault("followup.delay.max", "10s")
}

// Store provides the inputs of a follow-up run.
type Store interface {
	Identities() ([]models.SenderIdentity, error)
	FollowUpBodies() ([]models.BodyTemplate, error)
	BlockList() (models.BlockList, error)
}

// Progress is reported after every checked recipient.
type Progress struct {
	CampaignID string
	Checked    int
	Sent       int
	Failed     int
	Replied    int
	Total      int
}

// ProgressFunc observes the progress of a run.
type ProgressFunc func(Progress)

// Run is a handle to a follow-up run in the background.
type Run struct {
	CampaignID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop requests the run to stop after the current recipient.
func (r *Run) Stop() {
	r.cancel()
}

// Done is closed when the run has ended.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run has ended. The error is the last failed save of the campaign.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Options configures the follow-up engine.
type Options struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

// OptionsFromViper reads Options from viper.
//
// `followup.delay.min` and `followup.delay.max` bound the delay between two recipients of the same
// identity.
func OptionsFromViper() Options {
	return Options{
		DelayMin: viper.GetDuration("followup.delay.min"),
		DelayMax: viper.GetDuration("followup.delay.max"),
	}
}

// batch are the eligible outcomes of one sender identity.
type batch struct {
	address  string
	identity *models.SenderIdentity
	indices  []int
}

type job struct {
	campaignID string
	templates  []models.BodyTemplate
	batches    []*batch
	total      int
}

// Engine runs follow-ups. At most one follow-up run is active at a time.
type Engine struct {
	store       Store
	bodies      campaign.ContentProvider
	sender      delivery.Sender
	opener      mailbox.Opener
	registry    *campaign.Registry
	coordinator *campaign.Coordinator
	opts        Options

	mu       sync.Mutex
	random   *rand.Rand
	progress ProgressFunc

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a new Engine.
func NewEngine(
	store Store,
	bodies campaign.ContentProvider,
	sender delivery.Sender,
	opener mailbox.Opener,
	registry *campaign.Registry,
	coordinator *campaign.Coordinator,
	opts Options,
) *Engine {
	return &Engine{
		store:       store,
		bodies:      bodies,
		sender:      sender,
		opener:      opener,
		registry:    registry,
		coordinator: coordinator,
		opts:        opts,
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       campaign.Sleep,
	}
}

// OnProgress registers the observer of all future runs.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.progress = fn
}

// RunFollowUps starts a follow-up run for a campaign in the background. Recipients, that replied in
// the meantime, are marked as replied instead.
func (e *Engine) RunFollowUps(ctx context.Context, campaignID string) (*Run, error) {
	if !e.coordinator.TryAcquire(campaign.SlotFollowUp) {
		return nil, campaign.ErrBusy
	}

	j, err := e.loadJob(campaignID)
	if err != nil {
		e.coordinator.Release(campaign.SlotFollowUp)
		return nil, err
	}

	log.InfoContext(log.WithCampaign(ctx, campaignID)).
		Int("eligible", j.total).
		Int("identities", len(j.batches)).
		Msg("starting follow-ups")

	return e.launch(ctx, j), nil
}

func (e *Engine) loadJob(campaignID string) (*job, error) {
	c, err := e.registry.Get(campaignID)
	if err != nil {
		return nil, err
	}

	templates, err := e.store.FollowUpBodies()
	if err != nil {
		return nil, err
	}

	if len(templates) == 0 {
		return nil, &faults.ConfigurationError{Missing: []string{string(storage.KindFollowUpBodies)}}
	}

	identities, err := e.store.Identities()
	if err != nil {
		return nil, err
	}

	blockList, err := e.store.BlockList()
	if err != nil {
		return nil, err
	}

	j := job{
		campaignID: campaignID,
		templates:  templates,
	}

	var (
		blocked   = blockList.Index()
		byAddress = models.IdentitiesByAddress(identities)
		batches   = make(map[string]*batch)
	)

	for i, outcome := range c.Outcomes {
		if !eligible(&outcome, blocked) {
			continue
		}

		b, ok := batches[outcome.SenderUsed]
		if !ok {
			b = &batch{
				address:  outcome.SenderUsed,
				identity: byAddress[outcome.SenderUsed],
			}

			batches[outcome.SenderUsed] = b
			j.batches = append(j.batches, b)
		}

		b.indices = append(b.indices, i)
		j.total++
	}

	return &j, nil
}

func eligible(outcome *models.RecipientOutcome, blocked models.BlockIndex) bool {
	return outcome.Status == models.StatusSent &&
		outcome.FollowUpStatus != models.FollowUpReplied &&
		!outcome.NoFollowUp &&
		!blocked.Blocks(outcome.Recipient)
}

func (e *Engine) launch(ctx context.Context, j *job) *Run {
	ctx, cancel := context.WithCancel(ctx)

	run := Run{
		CampaignID: j.campaignID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go func() {
		defer close(run.done)
		defer cancel()
		defer e.coordinator.Release(campaign.SlotFollowUp)

		ctx := log.WithCampaign(log.WithComponent(ctx, "followup"), j.campaignID)
		run.err = e.execute(ctx, j)
	}()

	return &run
}

func (e *Engine) execute(ctx context.Context, j *job) error {
	var (
		progress = Progress{CampaignID: j.campaignID, Total: j.total}
		saveErr  error
	)

	for _, b := range j.batches {
		if ctx.Err() != nil {
			break
		}

		e.runBatch(ctx, j, b, &progress)

		if err := e.registry.Save(ctx, j.campaignID); err != nil {
			saveErr = err
		}
	}

	log.InfoContext(ctx).
		Int("checked", progress.Checked).
		Int("sent", progress.Sent).
		Int("failed", progress.Failed).
		Int("replied", progress.Replied).
		Msg("follow-up run ended")

	return saveErr
}

func (e *Engine) runBatch(ctx context.Context, j *job, b *batch, progress *Progress) {
	ctx = log.WithIdentity(ctx, b.address)

	if b.identity == nil || !b.identity.HasMailbox() {
		log.InfoContext(ctx).
			Int("recipients", len(b.indices)).
			Msg("skipping identity without mailbox")

		progress.Checked += len(b.indices)
		e.report(*progress)

		return
	}

	// Network calls run to completion or timeout, stop requests are honored in between.
	session, err := e.opener.Open(context.WithoutCancel(ctx), b.identity)
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not open mailbox")
		metrics.MailboxErrors.Inc()

		progress.Checked += len(b.indices)
		e.report(*progress)

		return
	}

	defer func() {
		if err := session.Close(); err != nil {
			log.DebugContext(ctx).Err(err).Msg("could not close mailbox")
		}
	}()

	for n, index := range b.indices {
		if ctx.Err() != nil {
			return
		}

		if !e.process(ctx, j, b.identity, session, index, progress) {
			return
		}

		progress.Checked++
		e.report(*progress)

		if n == len(b.indices)-1 {
			continue
		}

		if err := e.sleep(ctx, e.delay()); err != nil {
			return
		}
	}
}

// process checks a single recipient for a reply and sends the next follow-up otherwise. A panic is
// recovered into a failed follow-up. It returns false, if the run was stopped before the recipient
// was handled.
func (e *Engine) process(
	ctx context.Context,
	j *job,
	identity *models.SenderIdentity,
	session mailbox.Session,
	index int,
	progress *Progress,
) (handled bool) {
	outcome, err := e.registry.Outcome(j.campaignID, index)
	if err != nil {
		log.ErrorContext(ctx).Err(err).Int("index", index).Msg("outcome vanished")
		return true
	}

	ctx = log.WithRecipient(ctx, outcome.Recipient)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx).Interface("panic", r).Msg("recovered while following up")

			e.modify(ctx, j, index, (*models.RecipientOutcome).RecordFollowUpFailure)
			progress.Failed++
			handled = true
		}
	}()

	// A concurrent reply check may have been faster.
	if outcome.FollowUpStatus == models.FollowUpReplied {
		progress.Replied++
		return true
	}

	if replied, evidence := mailbox.HasReplied(context.WithoutCancel(ctx), session, &outcome); replied {
		log.InfoContext(ctx).Str("evidence", evidence).Msg("recipient replied")

		e.modify(ctx, j, index, func(o *models.RecipientOutcome) { o.MarkReplied() })
		metrics.IncrementReplies(metrics.SourceFollowUp)
		progress.Replied++

		return true
	}

	// The search may have taken a while. A stopped run must not start another send.
	if ctx.Err() != nil {
		return false
	}

	template := j.templates[min(outcome.FollowUpCount, len(j.templates)-1)]

	content, err := e.bodies.Resolve(template)
	if err != nil {
		log.WarnContext(ctx).Err(err).Str("template", template.Name).Msg("could not resolve follow-up")

		e.modify(ctx, j, index, (*models.RecipientOutcome).RecordFollowUpFailure)
		metrics.RecordMessage(metrics.KindFollowUp, string(models.StatusFailed), 0)
		progress.Failed++

		return true
	}

	start := time.Now()

	correlationID, err := e.sender.Send(context.WithoutCancel(ctx), identity, delivery.Message{
		To:         outcome.Recipient,
		Subject:    fmt.Sprintf("Re: %s", outcome.Subject),
		Content:    content,
		InReplyTo:  outcome.ThreadParent(),
		References: references(&outcome),
	})
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not send follow-up")

		e.modify(ctx, j, index, (*models.RecipientOutcome).RecordFollowUpFailure)
		metrics.RecordMessage(metrics.KindFollowUp, string(models.StatusFailed), time.Since(start))
		progress.Failed++

		return true
	}

	e.modify(ctx, j, index, func(o *models.RecipientOutcome) { o.RecordFollowUp(correlationID) })
	metrics.RecordMessage(metrics.KindFollowUp, string(models.StatusSent), time.Since(start))
	progress.Sent++

	return true
}

func (e *Engine) modify(ctx context.Context, j *job, index int, fn func(*models.RecipientOutcome)) {
	err := e.registry.Modify(j.campaignID, func(c *models.Campaign) {
		fn(&c.Outcomes[index])
	})
	if err != nil {
		log.ErrorContext(ctx).Err(err).Msg("could not update outcome")
	}
}

// references is the thread of a follow-up: the initial message and the last follow-up, if any.
func references(outcome *models.RecipientOutcome) []string {
	refs := []string{outcome.CorrelationID}

	if outcome.LastFollowUpCorrelationID != "" {
		refs = append(refs, outcome.LastFollowUpCorrelationID)
	}

	return refs
}

func (e *Engine) report(progress Progress) {
	e.mu.Lock()
	fn := e.progress
	e.mu.Unlock()

	if fn != nil {
		fn(progress)
	}
}

func (e *Engine) delay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return campaign.RandomDelay(e.random, e.opts.DelayMin, e.opts.DelayMax)
}
