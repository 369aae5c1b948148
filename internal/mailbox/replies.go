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

package mailbox

import (
	"context"

	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/models"
)

// HasReplied looks for a reply to the message of outcome. It returns the Message-Id of the newest
// reply as evidence. Outcomes without a correlation id never have replies. Search failures are
// logged and reported as no reply.
func HasReplied(ctx context.Context, session Session, outcome *models.RecipientOutcome) (bool, string) {
	if outcome.CorrelationID == "" {
		return false, ""
	}

	seqNums, err := session.Search(ctx, outcome.Timestamp, outcome.CorrelationID)
	if err != nil {
		log.WarnContext(ctx).
			Err(err).
			Str("messageID", outcome.CorrelationID).
			Msg("could not search for replies")

		return false, ""
	}

	if len(seqNums) == 0 {
		return false, ""
	}

	newest := seqNums[0]
	for _, seqNum := range seqNums[1:] {
		if seqNum > newest {
			newest = seqNum
		}
	}

	evidence, err := session.MessageID(ctx, newest)
	if err != nil {
		log.DebugContext(ctx).
			Err(err).
			Uint32("seqNum", newest).
			Msg("could not fetch the message id of a reply")
	}

	return true, evidence
}
