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

package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/certs"
	"github.com/lukasdietrich/briefcast/internal/crypto"
	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mails"
	"github.com/lukasdietrich/briefcast/internal/models"
)

const (
	defaultSubmissionPort = 587
	implicitTLSPort       = 465
)

func init() {
	viper.SetDefault("delivery.timeout", "10s")
	viper.SetDefault("delivery.hostname", "localhost")
}

// Sender hands a message to the transport of a sender identity.
type Sender interface {
	// Send returns the correlation id assigned to the message. Failures are reported as
	// faults.TransportError.
	Send(ctx context.Context, identity *models.SenderIdentity, msg Message) (string, error)
}

// CourierOptions configures the smtp client.
type CourierOptions struct {
	Timeout  time.Duration
	Hostname string
}

// CourierOptionsFromViper reads CourierOptions from viper.
//
// `delivery.timeout` bounds connecting and the whole smtp conversation.
// `delivery.hostname` is announced in EHLO.
func CourierOptionsFromViper() CourierOptions {
	return CourierOptions{
		Timeout:  viper.GetDuration("delivery.timeout"),
		Hostname: viper.GetString("delivery.hostname"),
	}
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Courier submits messages to the smtp server of the sending identity.
type Courier struct {
	idGen crypto.IDGenerator
	tls   *certs.Provider
	opts  CourierOptions
	dial  dialFunc
	now   func() time.Time
}

// NewCourier creates a new courier for delivery.
func NewCourier(idGen crypto.IDGenerator, tlsProvider *certs.Provider, opts CourierOptions) *Courier {
	dialer := net.Dialer{Timeout: opts.Timeout}

	return &Courier{
		idGen: idGen,
		tls:   tlsProvider,
		opts:  opts,
		dial:  dialer.DialContext,
		now:   time.Now,
	}
}

// Send composes msg and submits it using the credentials of identity.
func (c *Courier) Send(ctx context.Context, identity *models.SenderIdentity, msg Message) (string, error) {
	host := net.JoinHostPort(identity.TransportHost, strconv.Itoa(submissionPort(identity)))

	messageID, err := c.newMessageID(identity.Address)
	if err != nil {
		return "", &faults.TransportError{Op: "compose", Host: host, Err: err}
	}

	var buf bytes.Buffer

	if err := compose(&buf, identity, msg, messageID, c.now()); err != nil {
		return "", &faults.TransportError{Op: "compose", Host: host, Err: err}
	}

	if err := c.submit(ctx, identity, msg.To, buf.Bytes()); err != nil {
		class := classify(err)

		log.DebugContext(ctx).
			Str("host", host).
			Str("class", string(class)).
			Err(err).
			Msg("submission failed")

		return "", &faults.TransportError{Op: "send", Host: host, Class: class, Err: err}
	}

	log.DebugContext(ctx).
		Str("host", host).
		Str("messageID", messageID).
		Msg("message submitted")

	return messageID, nil
}

// newMessageID generates a globally unique message id in the domain of the sender.
func (c *Courier) newMessageID(sender string) (string, error) {
	addr, err := mails.Parse(sender)
	if err != nil {
		return "", err
	}

	domain, err := mails.DomainToASCII(addr.Domain())
	if err != nil {
		domain = addr.Domain()
	}

	id, err := c.idGen.GenerateID()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("<%s@%s>", id, domain), nil
}

func submissionPort(identity *models.SenderIdentity) int {
	if identity.TransportPort > 0 {
		return identity.TransportPort
	}

	return defaultSubmissionPort
}

// submit runs the smtp conversation. The conversation is bounded by the configured timeout only.
// Cancelling ctx aborts a pending dial, but never a conversation in progress, since the server may
// already have accepted the message.
func (c *Courier) submit(ctx context.Context, identity *models.SenderIdentity, to string, data []byte) error {
	var (
		host = identity.TransportHost
		port = submissionPort(identity)
	)

	conn, err := c.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}

	if port == implicitTLSPort {
		conn = tls.Client(conn, c.tls.Config(host))
	}

	if c.opts.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.opts.Timeout))
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}

	defer client.Close()

	if err := c.initClient(client, host, port); err != nil {
		return err
	}

	if err := c.authenticate(client, identity); err != nil {
		return err
	}

	if err := c.copyEnvelope(client, identity.Address, to); err != nil {
		return err
	}

	if err := copyData(client, data); err != nil {
		return err
	}

	// The message is queued once the data is accepted.
	if err := client.Quit(); err != nil {
		log.DebugContext(ctx).Err(err).Msg("could not quit smtp session")
	}

	return nil
}

// initClient says hello to the server and upgrades to tls, if available.
func (c *Courier) initClient(client *smtp.Client, host string, port int) error {
	if err := client.Hello(c.opts.Hostname); err != nil {
		return err
	}

	if port == implicitTLSPort {
		return nil
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		return client.StartTLS(c.tls.Config(host))
	}

	return nil
}

func (c *Courier) authenticate(client *smtp.Client, identity *models.SenderIdentity) error {
	if identity.Credential == "" {
		return nil
	}

	if ok, _ := client.Extension("AUTH"); !ok {
		return errors.New("server does not support authentication")
	}

	auth := smtp.PlainAuth("", identity.Address, identity.Credential, identity.TransportHost)
	return client.Auth(auth)
}

// copyEnvelope sends the return- and forward-path of the message.
func (c *Courier) copyEnvelope(client *smtp.Client, from, to string) error {
	if err := client.Mail(from); err != nil {
		return err
	}

	return client.Rcpt(to)
}

// copyData writes the message content.
func copyData(client *smtp.Client, data []byte) error {
	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}

// classify returns the class of an smtp error reply.
func classify(err error) faults.Class {
	switch {
	case isPermanentErr(err):
		return faults.ClassPermanent
	case isTransientErr(err):
		return faults.ClassTransient
	default:
		return ""
	}
}

// isPermanentErr tests if an error is an smtp error and if it has a 5xx code.
func isPermanentErr(err error) bool {
	var protoError *textproto.Error
	if errors.As(err, &protoError) {
		return protoError.Code >= 500 && protoError.Code < 600
	}

	return false
}

// isTransientErr tests if an error is an smtp error and if it has a 4xx code.
func isTransientErr(err error) bool {
	var protoError *textproto.Error
	if errors.As(err, &protoError) {
		return protoError.Code >= 400 && protoError.Code < 500
	}

	return false
}
