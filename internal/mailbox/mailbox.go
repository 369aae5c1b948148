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

// Package mailbox looks for replies to campaign messages in the inbox of a sender identity.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/certs"
	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("mailbox.timeout", "30s")
	viper.SetDefault("mailbox.folder", "INBOX")
	viper.SetDefault("mailbox.port", 993)
}

// ErrNoMailbox is returned for identities without a mailbox host.
var ErrNoMailbox = errors.New("mailbox: identity has no mailbox host")

// Session is an authenticated connection to the inbox of one identity.
type Session interface {
	// Search returns the sequence numbers of all messages received since the given day, that
	// reference correlationID in their In-Reply-To or References header.
	Search(ctx context.Context, since time.Time, correlationID string) ([]uint32, error)
	// MessageID returns the Message-Id of a message by sequence number.
	MessageID(ctx context.Context, seqNum uint32) (string, error)
	// Close logs out and closes the connection.
	Close() error
}

// Opener opens mailbox sessions.
type Opener interface {
	Open(ctx context.Context, identity *models.SenderIdentity) (Session, error)
}

// Options configures the imap client.
type Options struct {
	Timeout time.Duration
	Folder  string
	Port    int
}

// OptionsFromViper reads Options from viper.
//
// `mailbox.timeout` bounds connecting and every single command.
// `mailbox.folder` is the folder searched for replies.
// `mailbox.port` is the implicit tls port of the imap servers.
func OptionsFromViper() Options {
	return Options{
		Timeout: viper.GetDuration("mailbox.timeout"),
		Folder:  viper.GetString("mailbox.folder"),
		Port:    viper.GetInt("mailbox.port"),
	}
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer opens imap sessions over tls.
type Dialer struct {
	tls  *certs.Provider
	opts Options
	dial dialFunc
}

// NewDialer creates a new Dialer.
func NewDialer(tlsProvider *certs.Provider, opts Options) *Dialer {
	dialer := net.Dialer{Timeout: opts.Timeout}

	return &Dialer{
		tls:  tlsProvider,
		opts: opts,
		dial: dialer.DialContext,
	}
}

// Open connects to the mailbox host of identity, logs in and selects the configured folder.
func (d *Dialer) Open(ctx context.Context, identity *models.SenderIdentity) (Session, error) {
	if !identity.HasMailbox() {
		return nil, ErrNoMailbox
	}

	host := identity.MailboxHost
	address := net.JoinHostPort(host, strconv.Itoa(d.opts.Port))

	conn, err := d.dial(ctx, "tcp", address)
	if err != nil {
		return nil, &faults.TransportError{Op: "connect", Host: address, Err: err}
	}

	session := imapSession{
		conn:    tls.Client(conn, d.tls.Config(host)),
		timeout: d.opts.Timeout,
	}

	session.client = imapclient.New(session.conn, nil)

	if err := session.run(func() error {
		return session.client.Login(identity.Address, identity.Credential).Wait()
	}); err != nil {
		session.client.Close()
		return nil, &faults.TransportError{Op: "login", Host: address, Err: err}
	}

	if err := session.run(func() error {
		_, err := session.client.Select(d.opts.Folder, &imap.SelectOptions{ReadOnly: true}).Wait()
		return err
	}); err != nil {
		session.Close()
		return nil, &faults.TransportError{Op: "select", Host: address, Err: err}
	}

	return &session, nil
}

type imapSession struct {
	conn    net.Conn
	client  *imapclient.Client
	timeout time.Duration
}

// run executes a blocking command bounded by the timeout. A command in progress is never
// interrupted, callers check for cancellation between commands.
func (s *imapSession) run(command func() error) error {
	if s.timeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.timeout))
	}

	return command()
}

func (s *imapSession) Search(ctx context.Context, since time.Time, correlationID string) ([]uint32, error) {
	var seqNums []uint32

	err := s.run(func() error {
		data, err := s.client.Search(replyCriteria(since, correlationID), nil).Wait()
		if err != nil {
			return err
		}

		seqNums = data.AllSeqNums()
		return nil
	})

	return seqNums, err
}

func (s *imapSession) MessageID(ctx context.Context, seqNum uint32) (string, error) {
	var messageID string

	err := s.run(func() error {
		fetchOptions := imap.FetchOptions{Envelope: true}

		messages, err := s.client.Fetch(imap.SeqSetNum(seqNum), &fetchOptions).Collect()
		if err != nil {
			return err
		}

		if len(messages) > 0 && messages[0].Envelope != nil {
			messageID = messages[0].Envelope.MessageID
		}

		return nil
	})

	return messageID, err
}

func (s *imapSession) Close() error {
	s.run(func() error {
		return s.client.Logout().Wait()
	})

	return s.client.Close()
}

// replyCriteria matches messages since the day of since, that reference correlationID in either
// their In-Reply-To or References header.
func replyCriteria(since time.Time, correlationID string) *imap.SearchCriteria {
	return &imap.SearchCriteria{
		Since: truncateToDay(since),
		Or: [][2]imap.SearchCriteria{
			{
				{Header: []imap.SearchCriteriaHeaderField{{Key: "In-Reply-To", Value: correlationID}}},
				{Header: []imap.SearchCriteriaHeaderField{{Key: "References", Value: correlationID}}},
			},
		},
	}
}

func truncateToDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
