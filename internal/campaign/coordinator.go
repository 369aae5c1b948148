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
	"errors"
	"sync"

	"github.com/lukasdietrich/briefcast/internal/metrics"
)

// ErrBusy is returned when a run is requested while its slot is taken.
var ErrBusy = errors.New("campaign: another run is in progress")

// Slot names a unit of which at most one run may be active process-wide.
type Slot string

const (
	SlotSend     Slot = "send"
	SlotFollowUp Slot = "followup"
)

// Coordinator hands out run slots. Acquisition is a compare-and-set, so two concurrent requests can
// never both succeed.
type Coordinator struct {
	entries map[Slot]bool
	mu      sync.Mutex
}

// NewCoordinator creates a coordinator with all slots free.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		entries: make(map[Slot]bool),
	}
}

// TryAcquire takes slot if it is free and reports whether it did.
func (c *Coordinator) TryAcquire(slot Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[slot] {
		return false
	}

	c.entries[slot] = true
	metrics.ActiveRuns.WithLabelValues(string(slot)).Set(1)

	return true
}

// Release frees slot.
func (c *Coordinator) Release(slot Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, slot)
	metrics.ActiveRuns.WithLabelValues(string(slot)).Set(0)
}

// Busy reports whether any slot is taken.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries) > 0
}
