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

package models

import (
	"time"

	"github.com/lukasdietrich/briefcast/internal/mails"
)

// DeliveryStatus is the state of the initial message to a recipient.
type DeliveryStatus string

const (
	// StatusPending is a recipient, that has not been attempted yet. It only exists in
	// campaigns that are not finished.
	StatusPending DeliveryStatus = "pending"
	// StatusSent is a message accepted by the sender's transport.
	StatusSent DeliveryStatus = "sent"
	// StatusFailed is a message that could not be handed to the transport.
	StatusFailed DeliveryStatus = "failed"
	// StatusSkipped is a recipient on the block list.
	StatusSkipped DeliveryStatus = "skipped"
)

// FollowUpStatus is the state of the follow-up sequence of a recipient.
type FollowUpStatus string

const (
	FollowUpNotSent FollowUpStatus = "Not Sent"
	FollowUpSent    FollowUpStatus = "Sent"
	FollowUpFailed  FollowUpStatus = "Failed"
	// FollowUpReplied is terminal. A recipient who replied is never contacted again.
	FollowUpReplied FollowUpStatus = "Replied"
)

// ReasonBlocked is the reason recorded for skipped recipients.
const ReasonBlocked = "Blacklisted"

// RecipientOutcome is the delivery record of a single recipient within a campaign.
type RecipientOutcome struct {
	Recipient                 string         `json:"recipient"`
	SenderUsed                string         `json:"smtp_used,omitempty"`
	Subject                   string         `json:"subject,omitempty"`
	TemplateID                string         `json:"body_template_name,omitempty"`
	Status                    DeliveryStatus `json:"status"`
	Reason                    string         `json:"reason,omitempty"`
	Timestamp                 time.Time      `json:"timestamp"`
	CorrelationID             string         `json:"message_id,omitempty"`
	FollowUpStatus            FollowUpStatus `json:"followup_status,omitempty"`
	FollowUpCount             int            `json:"followup_count"`
	LastFollowUpCorrelationID string         `json:"last_followup_message_id,omitempty"`
	NoFollowUp                bool           `json:"flag_no_followup"`
}

// MarkReplied sets the terminal follow-up status. It reports whether the status changed.
func (o *RecipientOutcome) MarkReplied() bool {
	if o.FollowUpStatus == FollowUpReplied {
		return false
	}

	o.FollowUpStatus = FollowUpReplied
	return true
}

// RecordFollowUp registers a follow-up that was handed to the transport. A reply detected in the
// meantime keeps its status.
func (o *RecipientOutcome) RecordFollowUp(correlationID string) {
	o.FollowUpCount++
	o.LastFollowUpCorrelationID = correlationID

	if o.FollowUpStatus != FollowUpReplied {
		o.FollowUpStatus = FollowUpSent
	}
}

// RecordFollowUpFailure marks the last follow-up attempt as failed, unless a reply is known.
func (o *RecipientOutcome) RecordFollowUpFailure() {
	if o.FollowUpStatus != FollowUpReplied {
		o.FollowUpStatus = FollowUpFailed
	}
}

// ThreadParent returns the id a follow-up should reply to.
func (o *RecipientOutcome) ThreadParent() string {
	if o.LastFollowUpCorrelationID != "" {
		return o.LastFollowUpCorrelationID
	}

	return o.CorrelationID
}

// merge folds the progress of stored into o. Delivery results replace pending or unsent states,
// follow-up counts never decrease, while a reply and the lead flag are never cleared.
func (o *RecipientOutcome) merge(stored *RecipientOutcome) {
	if (stored.Status == StatusSent && o.Status != StatusSent) ||
		(o.Status == StatusPending && stored.Status != StatusPending) {
		o.SenderUsed = stored.SenderUsed
		o.Subject = stored.Subject
		o.TemplateID = stored.TemplateID
		o.Status = stored.Status
		o.Reason = stored.Reason
		o.Timestamp = stored.Timestamp
		o.CorrelationID = stored.CorrelationID
	}

	switch {
	case stored.FollowUpCount > o.FollowUpCount:
		o.FollowUpCount = stored.FollowUpCount
		o.LastFollowUpCorrelationID = stored.LastFollowUpCorrelationID

		if o.FollowUpStatus != FollowUpReplied {
			o.FollowUpStatus = stored.FollowUpStatus
		}

	case stored.FollowUpCount == o.FollowUpCount && (o.FollowUpStatus == "" || o.FollowUpStatus == FollowUpNotSent):
		o.FollowUpStatus = stored.FollowUpStatus
	}

	if stored.FollowUpStatus == FollowUpReplied {
		o.MarkReplied()
	}

	if stored.NoFollowUp {
		o.NoFollowUp = true
	}
}

// Campaign is one bulk send operation and the durable log of all its recipients.
type Campaign struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	File        string             `json:"file"`
	StartedAt   time.Time          `json:"timestamp_start"`
	FinishedAt  *time.Time         `json:"timestamp_end,omitempty"`
	TotalSent   int                `json:"total_sent"`
	TotalFailed int                `json:"total_failed"`
	Outcomes    []RecipientOutcome `json:"emails"`
}

// Finished reports whether the send loop ran to completion.
func (c *Campaign) Finished() bool {
	return c.FinishedAt != nil
}

// Recount recomputes TotalSent and TotalFailed from the outcomes.
func (c *Campaign) Recount() {
	c.TotalSent, c.TotalFailed = 0, 0

	for _, outcome := range c.Outcomes {
		switch outcome.Status {
		case StatusSent:
			c.TotalSent++
		case StatusFailed:
			c.TotalFailed++
		}
	}
}

// Skipped counts outcomes with StatusSkipped.
func (c *Campaign) Skipped() int {
	var n int

	for _, outcome := range c.Outcomes {
		if outcome.Status == StatusSkipped {
			n++
		}
	}

	return n
}

// Pending returns the indices of all outcomes that were not sent yet.
func (c *Campaign) Pending() []int {
	var indices []int

	for i, outcome := range c.Outcomes {
		if outcome.Status != StatusSent {
			indices = append(indices, i)
		}
	}

	return indices
}

// Merge folds progress, that another writer persisted to stored, into c. Outcomes are matched by
// position and only merged while their recipients agree. The state in c wins wherever both
// sides made progress, so merging a document written earlier by c itself changes nothing.
func (c *Campaign) Merge(stored *Campaign) {
	if stored == nil || stored.ID != c.ID {
		return
	}

	for i := range c.Outcomes {
		if i >= len(stored.Outcomes) {
			break
		}

		if mails.KeyOf(c.Outcomes[i].Recipient) != mails.KeyOf(stored.Outcomes[i].Recipient) {
			continue
		}

		c.Outcomes[i].merge(&stored.Outcomes[i])
	}

	if c.FinishedAt == nil && stored.FinishedAt != nil {
		finishedAt := *stored.FinishedAt
		c.FinishedAt = &finishedAt
	}

	c.Recount()
}

// Clone returns a deep copy of c.
func (c *Campaign) Clone() *Campaign {
	clone := *c
	clone.Outcomes = append([]RecipientOutcome(nil), c.Outcomes...)

	if c.FinishedAt != nil {
		finishedAt := *c.FinishedAt
		clone.FinishedAt = &finishedAt
	}

	return &clone
}
