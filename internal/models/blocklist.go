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
	"sort"

	"github.com/lukasdietrich/briefcast/internal/mails"
)

// Remove deletes every entry of address regardless of case and encoding. It returns the removed
// entries as they were listed.
func (b BlockList) Remove(address string) []string {
	key := mails.KeyOf(address)

	var removed []string

	for listed := range b {
		if mails.KeyOf(listed) == key {
			removed = append(removed, listed)
			delete(b, listed)
		}
	}

	sort.Strings(removed)
	return removed
}

// BlockIndex is a BlockList keyed by normalized address.
type BlockIndex map[string]BlockListEntry

// Index builds a lookup table, that matches addresses regardless of case and encoding.
func (b BlockList) Index() BlockIndex {
	index := make(BlockIndex, len(b))

	for address, entry := range b {
		index[mails.KeyOf(address)] = entry
	}

	return index
}

// Lookup returns the entry of address, if it is listed.
func (b BlockIndex) Lookup(address string) (BlockListEntry, bool) {
	entry, ok := b[mails.KeyOf(address)]
	return entry, ok
}

// Blocks reports whether address is listed with any kind.
func (b BlockIndex) Blocks(address string) bool {
	_, ok := b.Lookup(address)
	return ok
}
