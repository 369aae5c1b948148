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
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrMissingEmailColumn is returned for csv files without an "email" header.
var ErrMissingEmailColumn = errors.New("recipients: csv file must contain an email column")

// LoadRecipients reads recipient addresses from a file. Files ending in ".csv" must have a header
// row with an "email" column (case-insensitive), every other file is read as one address per
// line. Invalid addresses are dropped, duplicates are kept for the engine to remove.
func LoadRecipients(fs afero.Fs, filename string) ([]string, error) {
	f, err := fs.Open(filename)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return readCSV(f)
	}

	return readLines(f)
}

func readCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingEmailColumn
		}

		return nil, fmt.Errorf("recipients: could not read csv header: %w", err)
	}

	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "email") {
			column = i
			break
		}
	}

	if column < 0 {
		return nil, ErrMissingEmailColumn
	}

	var recipients []string

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return recipients, nil
		}

		if err != nil {
			return nil, fmt.Errorf("recipients: could not read csv record: %w", err)
		}

		if column < len(record) {
			recipients = appendValid(recipients, record[column])
		}
	}
}

func readLines(r io.Reader) ([]string, error) {
	var recipients []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		recipients = appendValid(recipients, scanner.Text())
	}

	return recipients, scanner.Err()
}

func appendValid(recipients []string, raw string) []string {
	addr, err := ParseRecipient(raw)
	if err != nil {
		return recipients
	}

	return append(recipients, addr.String())
}

// Dedupe removes duplicate addresses (compared by Key) while keeping the first occurrence and the
// original order.
func Dedupe(recipients []string) []string {
	var (
		seen   = make(map[string]bool, len(recipients))
		unique = make([]string, 0, len(recipients))
	)

	for _, recipient := range recipients {
		key := KeyOf(recipient)
		if seen[key] {
			continue
		}

		seen[key] = true
		unique = append(unique, strings.TrimSpace(recipient))
	}

	return unique
}
