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

package mails

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0600))
}

func TestLoadRecipientsLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/list.txt", "a@example.com\n\n  b@example.com  \nbroken\nc@localhost\n")

	recipients, err := LoadRecipients(fs, "/list.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, recipients)
}

func TestLoadRecipientsCSV(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/list.CSV", "name,EMail\nA,a@example.com\nB,\nC,c@example.org\nD\n")

	recipients, err := LoadRecipients(fs, "/list.CSV")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "c@example.org"}, recipients)
}

func TestLoadRecipientsCSVWithoutEmailColumn(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/list.csv", "name,address\nA,a@example.com\n")

	_, err := LoadRecipients(fs, "/list.csv")
	assert.Equal(t, ErrMissingEmailColumn, err)
}

func TestLoadRecipientsNotFound(t *testing.T) {
	_, err := LoadRecipients(afero.NewMemMapFs(), "/missing.txt")
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	actual := Dedupe([]string{
		"a@example.com",
		"b@example.com",
		"A@Example.com",
		" b@example.com",
		"c@example.com",
	})

	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, actual)
}
