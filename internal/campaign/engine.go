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

// Package campaign sends initial campaign messages, keeps the live campaign logs and schedules
// deferred campaign starts.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/crypto"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mails"
	"github.com/lukasdietrich/briefcast/internal/metrics"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("campaign.resume.delay.min", "120s")
	viper.SetDefault("campaign.resume.delay.max", "180s")
}

// ErrFinished is returned when resuming a campaign, that already ran to completion.
var ErrFinished = errors.New("campaign: already finished")

// Store provides the inputs of a campaign.
type Store interface {
	RequireCampaignInputs() ([]models.SenderIdentity, []string, []models.BodyTemplate, error)
	BlockList() (models.BlockList, error)
}

// ContentProvider resolves body templates to their content.
type ContentProvider interface {
	Resolve(ref models.BodyTemplate) (string, error)
}

// Progress is reported after every processed recipient.
type Progress struct {
	CampaignID string
	Sent       int
	Failed     int
	Skipped    int
	// Index is the number of recipients processed by this run, Total the number of recipients
	// this run has to process.
	Index int
	Total int
}

// ProgressFunc observes the progress of a run.
type ProgressFunc func(Progress)

// Run is a handle to a campaign running in the background.
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

// Wait blocks until the run has ended. The error is a faults.PersistenceError, if the final state
// could not be saved.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// EngineOptions configures the engine.
type EngineOptions struct {
	ResumeDelayMin time.Duration
	ResumeDelayMax time.Duration
}

// EngineOptionsFromViper reads EngineOptions from viper.
//
// `campaign.resume.delay.min` and `campaign.resume.delay.max` bound the delay between two messages
// of a resumed campaign.
func EngineOptionsFromViper() EngineOptions {
	return EngineOptions{
		ResumeDelayMin: viper.GetDuration("campaign.resume.delay.min"),
		ResumeDelayMax: viper.GetDuration("campaign.resume.delay.max"),
	}
}

// job is everything a run needs, loaded before the run starts.
type job struct {
	campaignID string
	pending    []int
	recipients []string
	identities []models.SenderIdentity
	subjects   []string
	bodies     []models.BodyTemplate
	blocked    models.BlockIndex
	delayMin   time.Duration
	delayMax   time.Duration
}

// Engine sends the initial messages of campaigns. At most one campaign is sent at a time.
type Engine struct {
	store       Store
	bodies      ContentProvider
	sender      delivery.Sender
	registry    *Registry
	coordinator *Coordinator
	idGen       crypto.IDGenerator
	opts        EngineOptions

	mu       sync.Mutex
	random   *rand.Rand
	progress ProgressFunc

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(
	store Store,
	bodies ContentProvider,
	sender delivery.Sender,
	registry *Registry,
	coordinator *Coordinator,
	idGen crypto.IDGenerator,
	opts EngineOptions,
) *Engine {
	return &Engine{
		store:       store,
		bodies:      bodies,
		sender:      sender,
		registry:    registry,
		coordinator: coordinator,
		idGen:       idGen,
		opts:        opts,
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       Sleep,
		now:         time.Now,
	}
}

// OnProgress registers the observer of all future runs.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.progress = fn
}

// Start creates a new campaign for the recipients and sends it in the background. Recipients are
// deduplicated and shuffled. Between two messages the run sleeps a uniformly random duration
// between delayMin and delayMax.
func (e *Engine) Start(ctx context.Context, recipients []string, name string, delayMin, delayMax time.Duration) (*Run, error) {
	if !e.coordinator.TryAcquire(SlotSend) {
		return nil, ErrBusy
	}

	j, err := e.loadJob(delayMin, delayMax)
	if err != nil {
		e.coordinator.Release(SlotSend)
		return nil, err
	}

	id, err := e.idGen.GenerateID()
	if err != nil {
		e.coordinator.Release(SlotSend)
		return nil, err
	}

	recipients = mails.Dedupe(recipients)
	e.shuffle(recipients)

	campaign := models.Campaign{
		ID:        id,
		Name:      name,
		StartedAt: e.now(),
		Outcomes:  make([]models.RecipientOutcome, len(recipients)),
	}

	for i, recipient := range recipients {
		campaign.Outcomes[i] = models.RecipientOutcome{
			Recipient: recipient,
			Status:    models.StatusPending,
			Timestamp: campaign.StartedAt,
		}
	}

	if err := e.registry.Create(ctx, &campaign); err != nil {
		e.coordinator.Release(SlotSend)
		return nil, err
	}

	log.InfoContext(log.WithCampaign(ctx, id)).
		Str("name", name).
		Int("recipients", len(recipients)).
		Msg("campaign created")

	j.campaignID = id
	j.recipients = recipients
	j.pending = campaign.Pending()

	return e.launch(ctx, j), nil
}

// Resume continues an unfinished campaign. Every recipient, that was not sent yet, is processed
// again. Campaign id and file are kept. The delay between two messages is taken from the options.
func (e *Engine) Resume(ctx context.Context, campaignID string) (*Run, error) {
	if !e.coordinator.TryAcquire(SlotSend) {
		return nil, ErrBusy
	}

	campaign, err := e.registry.Get(campaignID)
	if err != nil {
		e.coordinator.Release(SlotSend)
		return nil, err
	}

	if campaign.Finished() {
		e.coordinator.Release(SlotSend)
		return nil, ErrFinished
	}

	j, err := e.loadJob(e.opts.ResumeDelayMin, e.opts.ResumeDelayMax)
	if err != nil {
		e.coordinator.Release(SlotSend)
		return nil, err
	}

	j.campaignID = campaign.ID
	j.pending = campaign.Pending()
	j.recipients = make([]string, len(campaign.Outcomes))

	for i, outcome := range campaign.Outcomes {
		j.recipients[i] = outcome.Recipient
	}

	log.InfoContext(log.WithCampaign(ctx, campaign.ID)).
		Int("pending", len(j.pending)).
		Int("sent", campaign.TotalSent).
		Msg("resuming campaign")

	return e.launch(ctx, j), nil
}

// Stop requests run to stop. The campaign stays resumable.
func (e *Engine) Stop(run *Run) {
	run.Stop()
}

// FindResumable returns the most recently started campaign, that has not finished.
func (e *Engine) FindResumable() (*models.Campaign, bool) {
	campaigns := e.registry.All()

	for i := len(campaigns) - 1; i >= 0; i-- {
		if !campaigns[i].Finished() {
			return campaigns[i], true
		}
	}

	return nil, false
}

func (e *Engine) loadJob(delayMin, delayMax time.Duration) (*job, error) {
	identities, subjects, bodies, err := e.store.RequireCampaignInputs()
	if err != nil {
		return nil, err
	}

	blockList, err := e.store.BlockList()
	if err != nil {
		return nil, err
	}

	if delayMax < delayMin {
		delayMin, delayMax = delayMax, delayMin
	}

	return &job{
		identities: identities,
		subjects:   subjects,
		bodies:     bodies,
		blocked:    blockList.Index(),
		delayMin:   delayMin,
		delayMax:   delayMax,
	}, nil
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
		defer e.coordinator.Release(SlotSend)

		ctx := log.WithCampaign(log.WithComponent(ctx, "engine"), j.campaignID)
		run.err = e.execute(ctx, j)
	}()

	return &run
}

// execute processes all pending recipients. The campaign is only marked as finished, if every
// pending recipient was processed.
func (e *Engine) execute(ctx context.Context, j *job) error {
	var (
		sendIndex int
		processed int
	)

	for n, index := range j.pending {
		if ctx.Err() != nil {
			break
		}

		outcome := e.process(ctx, j, j.recipients[index], &sendIndex)
		processed++

		var progress Progress

		err := e.registry.Update(ctx, j.campaignID, func(c *models.Campaign) {
			outcome.NoFollowUp = c.Outcomes[index].NoFollowUp
			c.Outcomes[index] = outcome
			c.Recount()

			progress = Progress{
				CampaignID: c.ID,
				Sent:       c.TotalSent,
				Failed:     c.TotalFailed,
				Skipped:    c.Skipped(),
				Index:      n + 1,
				Total:      len(j.pending),
			}
		})
		if err != nil {
			log.ErrorContext(ctx).Err(err).Msg("could not persist progress")
		}

		e.report(progress)

		if outcome.Status == models.StatusSkipped || n == len(j.pending)-1 {
			continue
		}

		if ctx.Err() != nil {
			break
		}

		if err := e.sleep(ctx, e.delay(j)); err != nil {
			break
		}
	}

	return e.finish(ctx, j, processed == len(j.pending))
}

func (e *Engine) finish(ctx context.Context, j *job, completed bool) error {
	var err error

	if completed {
		now := e.now()
		err = e.registry.Update(ctx, j.campaignID, func(c *models.Campaign) {
			c.FinishedAt = &now
		})
	} else {
		err = e.registry.Save(ctx, j.campaignID)
	}

	campaign, getErr := e.registry.Get(j.campaignID)
	if getErr == nil {
		log.InfoContext(ctx).
			Bool("completed", completed).
			Int("sent", campaign.TotalSent).
			Int("failed", campaign.TotalFailed).
			Int("skipped", campaign.Skipped()).
			Msg("campaign run ended")
	}

	return err
}

// process sends to a single recipient. Block-listed recipients consume neither an identity nor a
// delay. A panic is recovered into a failed outcome.
func (e *Engine) process(ctx context.Context, j *job, recipient string, sendIndex *int) (outcome models.RecipientOutcome) {
	ctx = log.WithRecipient(ctx, recipient)

	outcome = models.RecipientOutcome{
		Recipient: recipient,
		Timestamp: e.now(),
	}

	if j.blocked.Blocks(recipient) {
		log.DebugContext(ctx).Msg("skipping block-listed recipient")

		outcome.Status = models.StatusSkipped
		outcome.Reason = models.ReasonBlocked
		return outcome
	}

	identity := &j.identities[*sendIndex%len(j.identities)]
	*sendIndex++

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx).Interface("panic", r).Msg("recovered while sending")

			outcome.Status = models.StatusFailed
			outcome.Reason = fmt.Sprintf("internal error: %v", r)
			outcome.CorrelationID = ""
		}
	}()

	subject, body := e.pick(j)

	outcome.SenderUsed = identity.Address
	outcome.Subject = subject
	outcome.TemplateID = body.Name

	content, err := e.bodies.Resolve(body)
	if err != nil {
		outcome.Status = models.StatusFailed
		outcome.Reason = err.Error()
		metrics.RecordMessage(metrics.KindInitial, string(outcome.Status), 0)

		return outcome
	}

	start := time.Now()

	// A submission in progress is never interrupted, a stop takes effect after it.
	sendCtx := context.WithoutCancel(log.WithIdentity(ctx, identity.Address))

	correlationID, err := e.sender.Send(sendCtx, identity, delivery.Message{
		To:      recipient,
		Subject: subject,
		Content: content,
	})
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("could not send")

		outcome.Status = models.StatusFailed
		outcome.Reason = err.Error()
	} else {
		outcome.Status = models.StatusSent
		outcome.CorrelationID = correlationID
		outcome.FollowUpStatus = models.FollowUpNotSent
	}

	metrics.RecordMessage(metrics.KindInitial, string(outcome.Status), time.Since(start))
	return outcome
}

func (e *Engine) report(progress Progress) {
	e.mu.Lock()
	fn := e.progress
	e.mu.Unlock()

	if fn != nil {
		fn(progress)
	}
}

// pick chooses a subject and a body uniformly at random and independently of each other.
func (e *Engine) pick(j *job) (string, models.BodyTemplate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return j.subjects[e.random.Intn(len(j.subjects))], j.bodies[e.random.Intn(len(j.bodies))]
}

func (e *Engine) shuffle(recipients []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.random.Shuffle(len(recipients), func(i, k int) {
		recipients[i], recipients[k] = recipients[k], recipients[i]
	})
}

func (e *Engine) delay(j *job) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return RandomDelay(e.random, j.delayMin, j.delayMax)
}

// RandomDelay returns a uniformly random duration in [lo, hi].
func RandomDelay(random *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}

	return lo + time.Duration(random.Int63n(int64(hi-lo)+1))
}

// Sleep waits for d or until ctx is cancelled, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
