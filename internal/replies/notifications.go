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

package replies

import (
	"sort"

	"github.com/lukasdietrich/briefcast/internal/models"
)

// add appends n unless a notification for the same message exists already.
func add(notifications []models.Notification, n models.Notification) ([]models.Notification, bool) {
	for _, existing := range notifications {
		if existing.CorrelationID == n.CorrelationID {
			return notifications, false
		}
	}

	return append(notifications, n), true
}

// unseen counts the notifications not marked as seen.
func unseen(notifications []models.Notification) int {
	var n int

	for _, notification := range notifications {
		if !notification.Seen {
			n++
		}
	}

	return n
}

// newestFirst sorts notifications by detection time, most recent first.
func newestFirst(notifications []models.Notification) {
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].DetectedAt.After(notifications[j].DetectedAt)
	})
}
