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

package campaign

import (
	"context"
	"sort"
	"sync"

	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mails"
	"github.com/lukasdietrich/briefcast/internal/models"
)

// Logs persists campaigns.
type Logs interface {
	Save(ctx context.Context, campaign *models.Campaign) error
	Load(ctx context.Context, file string) (*models.Campaign, error)
	LoadAll(ctx context.Context) ([]*models.Campaign, error)
}

type entry struct {
	mu       sync.Mutex
	campaign *models.Campaign
}

// Registry is the live map of all campaigns keyed by id. Every campaign has its own lock, which
// is held for each mutation and each save. Callers only ever see copies.
//
// Several processes may write the same campaign logs. Before a campaign is saved, its document is
// read again and the progress found there is merged into memory, so a save never rolls back what
// another process recorded.
type Registry struct {
	logs Logs

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(logs Logs) *Registry {
	return &Registry{
		logs:    logs,
		entries: make(map[string]*entry),
	}
}

// Load reads all persisted campaigns. Unknown campaigns are added, while campaigns already known
// to the registry keep their state in memory and only gain the progress found on disk.
func (r *Registry) Load(ctx context.Context) error {
	campaigns, err := r.logs.LoadAll(ctx)
	if err != nil {
		return err
	}

	var known []*models.Campaign

	r.mu.Lock()
	for _, campaign := range campaigns {
		if _, ok := r.entries[campaign.ID]; ok {
			known = append(known, campaign)
		} else {
			r.entries[campaign.ID] = &entry{campaign: campaign}
		}
	}
	r.mu.Unlock()

	for _, campaign := range known {
		e, err := r.lookup(campaign.ID)
		if err != nil {
			return err
		}

		e.mu.Lock()
		e.campaign.Merge(campaign)
		e.mu.Unlock()
	}

	return nil
}

// refresh merges the persisted document of a campaign into memory. The caller holds the lock of
// the entry. An unreadable document is logged and the state in memory is kept.
func (r *Registry) refresh(ctx context.Context, e *entry) {
	if e.campaign.File == "" {
		return
	}

	stored, err := r.logs.Load(ctx, e.campaign.File)
	if err != nil {
		log.WarnContext(log.WithCampaign(ctx, e.campaign.ID)).
			Err(err).
			Msg("could not reread campaign log before saving")

		return
	}

	e.campaign.Merge(stored)
}

// save refreshes and persists a campaign. The caller holds the lock of the entry.
func (r *Registry) save(ctx context.Context, e *entry) error {
	r.refresh(ctx, e)
	return r.logs.Save(ctx, e.campaign)
}

// Create adds a new campaign and persists it.
func (r *Registry) Create(ctx context.Context, campaign *models.Campaign) error {
	e := &entry{campaign: campaign.Clone()}

	r.mu.Lock()
	r.entries[campaign.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.campaign.Recount()
	return r.logs.Save(ctx, e.campaign)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, &faults.DataConsistencyError{CampaignID: id}
	}

	return e, nil
}

// Get returns a copy of a campaign.
func (r *Registry) Get(id string) (*models.Campaign, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.campaign.Clone(), nil
}

// All returns copies of all campaigns ordered by start time.
func (r *Registry) All() []*models.Campaign {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	campaigns := make([]*models.Campaign, 0, len(entries))

	for _, e := range entries {
		e.mu.Lock()
		campaigns = append(campaigns, e.campaign.Clone())
		e.mu.Unlock()
	}

	sort.SliceStable(campaigns, func(i, j int) bool {
		if campaigns[i].StartedAt.Equal(campaigns[j].StartedAt) {
			return campaigns[i].ID < campaigns[j].ID
		}

		return campaigns[i].StartedAt.Before(campaigns[j].StartedAt)
	})

	return campaigns
}

// Modify applies fn to the campaign in memory and recomputes the totals.
func (r *Registry) Modify(id string, fn func(*models.Campaign)) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fn(e.campaign)
	e.campaign.Recount()

	return nil
}

// Save persists the current state of a campaign.
func (r *Registry) Save(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return r.save(ctx, e)
}

// Update applies fn and persists the campaign without releasing the lock in between.
func (r *Registry) Update(ctx context.Context, id string, fn func(*models.Campaign)) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fn(e.campaign)
	e.campaign.Recount()

	return r.save(ctx, e)
}

// MarkReplied sets the terminal follow-up status of the outcome with the given correlation id and
// persists the campaign. It reports whether anything changed.
func (r *Registry) MarkReplied(ctx context.Context, id, correlationID string) (bool, error) {
	e, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r.refresh(ctx, e)

	changed := false

	for i := range e.campaign.Outcomes {
		outcome := &e.campaign.Outcomes[i]

		if outcome.CorrelationID == correlationID && outcome.MarkReplied() {
			changed = true
		}
	}

	if !changed {
		return false, nil
	}

	return true, r.logs.Save(ctx, e.campaign)
}

// FlagNoFollowUp excludes every past outcome of address from follow-ups. Touched campaigns are
// persisted. It returns the number of flagged outcomes.
func (r *Registry) FlagNoFollowUp(ctx context.Context, address string) (int, error) {
	key := mails.KeyOf(address)

	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var (
		flagged  int
		firstErr error
	)

	for _, e := range entries {
		n, err := r.flagEntry(ctx, e, key)
		flagged += n

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return flagged, firstErr
}

func (r *Registry) flagEntry(ctx context.Context, e *entry, key string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.refresh(ctx, e)

	var flagged int

	for i := range e.campaign.Outcomes {
		outcome := &e.campaign.Outcomes[i]

		if !outcome.NoFollowUp && mails.KeyOf(outcome.Recipient) == key {
			outcome.NoFollowUp = true
			flagged++
		}
	}

	if flagged == 0 {
		return 0, nil
	}

	log.InfoContext(log.WithCampaign(ctx, e.campaign.ID)).
		Int("outcomes", flagged).
		Msg("flagged outcomes as lead")

	return flagged, r.logs.Save(ctx, e.campaign)
}

// Outcome returns a copy of a single outcome of a campaign.
func (r *Registry) Outcome(id string, index int) (models.RecipientOutcome, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.RecipientOutcome{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.campaign.Outcomes) {
		return models.RecipientOutcome{}, &faults.DataConsistencyError{CampaignID: id}
	}

	return e.campaign.Outcomes[index], nil
}
