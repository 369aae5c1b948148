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

// Package faults defines the error taxonomy shared by the campaign, follow-up and reply checking
// units.
package faults

import (
	"errors"
	"fmt"
)

// ConfigurationError is returned before a run starts, when required store documents are empty.
// Nothing has been mutated when it is returned.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: missing %v", e.Missing)
}

// Class tells rejections, that will fail again, apart from those worth retrying later.
type Class string

const (
	// ClassPermanent is a 5xx reply of the server.
	ClassPermanent Class = "permanent"
	// ClassTransient is a 4xx reply of the server.
	ClassTransient Class = "transient"
)

// TransportError wraps a failed send or mailbox operation. It only ever affects one recipient or
// one identity. Class is empty, unless the server answered with an error reply.
type TransportError struct {
	Op    string
	Host  string
	Class Class
	Err   error
}

func (e *TransportError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("transport: %s %s (%s): %v", e.Op, e.Host, e.Class, e.Err)
	}

	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed document read or write. In-memory progress is retained.
type PersistenceError struct {
	Document string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: document %q: %v", e.Document, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DataConsistencyError is returned when a referenced campaign does not exist.
type DataConsistencyError struct {
	CampaignID string
}

func (e *DataConsistencyError) Error() string {
	return fmt.Sprintf("campaign %q not found", e.CampaignID)
}

// IsConfiguration tests if err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTransport tests if err is or wraps a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsPersistence tests if err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsDataConsistency tests if err is or wraps a DataConsistencyError.
func IsDataConsistency(err error) bool {
	var target *DataConsistencyError
	return errors.As(err, &target)
}

// IsPermanent tests if err wraps a TransportError of ClassPermanent.
func IsPermanent(err error) bool {
	var target *TransportError
	return errors.As(err, &target) && target.Class == ClassPermanent
}
