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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCampaignRecount(t *testing.T) {
	campaign := Campaign{
		Outcomes: []RecipientOutcome{
			{Status: StatusSent},
			{Status: StatusFailed},
			{Status: StatusSkipped},
			{Status: StatusSent},
			{Status: StatusPending},
		},
	}

	campaign.Recount()

	assert.Equal(t, 2, campaign.TotalSent)
	assert.Equal(t, 1, campaign.TotalFailed)
	assert.Equal(t, 1, campaign.Skipped())
	assert.Equal(t, []int{1, 2, 4}, campaign.Pending())
}

func TestCampaignClone(t *testing.T) {
	now := time.Now()
	campaign := Campaign{
		FinishedAt: &now,
		Outcomes:   []RecipientOutcome{{Recipient: "a@example.com"}},
	}

	clone := campaign.Clone()
	clone.Outcomes[0].Recipient = "b@example.com"
	*clone.FinishedAt = now.Add(time.Hour)

	assert.Equal(t, "a@example.com", campaign.Outcomes[0].Recipient)
	assert.Equal(t, now, *campaign.FinishedAt)
}

func TestOutcomeRepliedIsTerminal(t *testing.T) {
	outcome := RecipientOutcome{FollowUpStatus: FollowUpSent, FollowUpCount: 1}

	assert.True(t, outcome.MarkReplied())
	assert.False(t, outcome.MarkReplied())

	outcome.RecordFollowUp("<late@example.com>")
	assert.Equal(t, FollowUpReplied, outcome.FollowUpStatus)
	assert.Equal(t, 2, outcome.FollowUpCount)

	outcome.RecordFollowUpFailure()
	assert.Equal(t, FollowUpReplied, outcome.FollowUpStatus)
}

func TestOutcomeThreadParent(t *testing.T) {
	outcome := RecipientOutcome{CorrelationID: "<first@example.com>"}
	assert.Equal(t, "<first@example.com>", outcome.ThreadParent())

	outcome.RecordFollowUp("<second@example.com>")
	assert.Equal(t, "<second@example.com>", outcome.ThreadParent())
	assert.Equal(t, FollowUpSent, outcome.FollowUpStatus)
}

func TestCampaignMergeKeepsProgressOfBothSides(t *testing.T) {
	finished := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := Campaign{
		ID: "c1",
		Outcomes: []RecipientOutcome{
			{Recipient: "a@example.com", Status: StatusSent, CorrelationID: "<a@sender.com>"},
			{Recipient: "b@example.com", Status: StatusSent, CorrelationID: "<b@sender.com>"},
			{Recipient: "c@example.com", Status: StatusPending},
			{Recipient: "d@example.com", Status: StatusSent},
		},
	}
	stale.Outcomes[0].MarkReplied()

	stored := Campaign{
		ID:         "c1",
		FinishedAt: &finished,
		Outcomes: []RecipientOutcome{
			{Recipient: "a@example.com", Status: StatusSent, CorrelationID: "<a@sender.com>"},
			{Recipient: "b@example.com", Status: StatusSent, CorrelationID: "<b@sender.com>"},
			{Recipient: "c@example.com", Status: StatusSent, CorrelationID: "<c@sender.com>", SenderUsed: "one@sender.com"},
			{Recipient: "d@example.com", Status: StatusSent, NoFollowUp: true},
		},
	}
	stored.Outcomes[1].RecordFollowUp("<b2@sender.com>")

	stale.Merge(&stored)

	assert.Equal(t, FollowUpReplied, stale.Outcomes[0].FollowUpStatus)
	assert.Equal(t, 1, stale.Outcomes[1].FollowUpCount)
	assert.Equal(t, "<b2@sender.com>", stale.Outcomes[1].LastFollowUpCorrelationID)
	assert.Equal(t, FollowUpSent, stale.Outcomes[1].FollowUpStatus)
	assert.Equal(t, StatusSent, stale.Outcomes[2].Status)
	assert.Equal(t, "<c@sender.com>", stale.Outcomes[2].CorrelationID)
	assert.Equal(t, "one@sender.com", stale.Outcomes[2].SenderUsed)
	assert.True(t, stale.Outcomes[3].NoFollowUp)
	assert.Equal(t, 4, stale.TotalSent)
	assert.Equal(t, &finished, stale.FinishedAt)
}

func TestCampaignMergeNeverRollsBack(t *testing.T) {
	live := Campaign{
		ID: "c1",
		Outcomes: []RecipientOutcome{
			{Recipient: "a@example.com", Status: StatusSent, CorrelationID: "<a2@sender.com>"},
			{Recipient: "b@example.com", Status: StatusFailed, Reason: "timeout"},
		},
	}
	live.Outcomes[0].RecordFollowUp("<a3@sender.com>")
	live.Outcomes[0].RecordFollowUp("<a4@sender.com>")

	stored := Campaign{
		ID: "c1",
		Outcomes: []RecipientOutcome{
			{Recipient: "a@example.com", Status: StatusFailed, Reason: "refused"},
			{Recipient: "b@example.com", Status: StatusPending},
		},
	}
	stored.Outcomes[0].RecordFollowUp("<a3@sender.com>")

	live.Merge(&stored)

	assert.Equal(t, StatusSent, live.Outcomes[0].Status)
	assert.Equal(t, "<a2@sender.com>", live.Outcomes[0].CorrelationID)
	assert.Equal(t, 2, live.Outcomes[0].FollowUpCount)
	assert.Equal(t, "<a4@sender.com>", live.Outcomes[0].LastFollowUpCorrelationID)
	assert.Equal(t, StatusFailed, live.Outcomes[1].Status)
	assert.Equal(t, "timeout", live.Outcomes[1].Reason)
	assert.Nil(t, live.FinishedAt)
}

func TestCampaignMergeSkipsMismatchedDocuments(t *testing.T) {
	live := Campaign{
		ID:       "c1",
		Outcomes: []RecipientOutcome{{Recipient: "a@example.com", Status: StatusPending}},
	}

	live.Merge(&Campaign{
		ID:       "c2",
		Outcomes: []RecipientOutcome{{Recipient: "a@example.com", Status: StatusSent}},
	})
	live.Merge(&Campaign{
		ID:       "c1",
		Outcomes: []RecipientOutcome{{Recipient: "z@example.com", Status: StatusSent}},
	})
	live.Merge(nil)

	assert.Equal(t, StatusPending, live.Outcomes[0].Status)
}
