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

import "time"

// SenderIdentity is an account used to send campaign messages and to look for replies.
type SenderIdentity struct {
	DisplayName   string `json:"name"`
	Address       string `json:"email"`
	Credential    string `json:"password"`
	TransportHost string `json:"smtp_host"`
	TransportPort int    `json:"smtp_port"`
	MailboxHost   string `json:"imap_server"`
}

// HasMailbox reports whether replies to this identity can be looked up.
func (s *SenderIdentity) HasMailbox() bool {
	return s.MailboxHost != ""
}

// BodyTemplate references a message body, that is resolved by the content provider.
type BodyTemplate struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// BlockListKind decides how far a block list entry reaches.
type BlockListKind string

const (
	// KindLead excludes an address from follow-ups.
	KindLead BlockListKind = "lead"
	// KindBlockList excludes an address from every future send.
	KindBlockList BlockListKind = "blocklist"
)

// Valid reports whether k is a known kind.
func (k BlockListKind) Valid() bool {
	return k == KindLead || k == KindBlockList
}

// BlockListEntry is the value of the block list document, which is keyed by address.
type BlockListEntry struct {
	Kind    BlockListKind `json:"type"`
	Comment string        `json:"comment"`
	AddedAt time.Time     `json:"date_added"`
}

// BlockList maps addresses to their entries.
type BlockList map[string]BlockListEntry

// Notification records a detected reply. Notifications are unique by CorrelationID.
type Notification struct {
	Recipient     string    `json:"recipient"`
	CampaignName  string    `json:"campaign_name"`
	Subject       string    `json:"subject"`
	CorrelationID string    `json:"original_message_id"`
	DetectedAt    time.Time `json:"timestamp"`
	Seen          bool      `json:"seen"`
}

// ScheduledJob is a campaign start deferred to RunAt. Jobs only live in memory.
type ScheduledJob struct {
	CampaignName string
	Recipients   []string
	DelayMin     time.Duration
	DelayMax     time.Duration
	RunAt        time.Time
}

// IdentitiesByAddress indexes identities by their address.
func IdentitiesByAddress(identities []SenderIdentity) map[string]*SenderIdentity {
	index := make(map[string]*SenderIdentity, len(identities))

	for i := range identities {
		index[identities[i].Address] = &identities[i]
	}

	return index
}
