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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinatorSlots(t *testing.T) {
	coordinator := NewCoordinator()

	assert.False(t, coordinator.Busy())
	assert.True(t, coordinator.TryAcquire(SlotSend))
	assert.False(t, coordinator.TryAcquire(SlotSend))
	assert.True(t, coordinator.TryAcquire(SlotFollowUp))
	assert.True(t, coordinator.Busy())

	coordinator.Release(SlotSend)
	assert.True(t, coordinator.Busy())
	assert.True(t, coordinator.TryAcquire(SlotSend))

	coordinator.Release(SlotSend)
	coordinator.Release(SlotFollowUp)
	assert.False(t, coordinator.Busy())
}

func TestCoordinatorConcurrentAcquire(t *testing.T) {
	var (
		coordinator = NewCoordinator()
		acquired    int32
		wg          sync.WaitGroup
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if coordinator.TryAcquire(SlotSend) {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}

	wg.Wait()
	assert.EqualValues(t, 1, acquired)
}
