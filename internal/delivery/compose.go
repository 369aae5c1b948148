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
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/lukasdietrich/briefcast/internal/models"
)

// Message is a single outbound message to one recipient.
type Message struct {
	To      string
	Subject string
	// Content is either plain text or html. The other alternative is derived.
	Content    string
	InReplyTo  string
	References []string
}

// compose writes msg as a multipart/alternative mail with the given message id.
func compose(w io.Writer, identity *models.SenderIdentity, msg Message, messageID string, date time.Time) error {
	var h mail.Header

	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: identity.DisplayName, Address: identity.Address}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.Set("Message-Id", messageID)

	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}

	if len(msg.References) > 0 {
		h.Set("References", strings.Join(msg.References, " "))
	}

	iw, err := mail.CreateInlineWriter(w, h)
	if err != nil {
		return err
	}

	plain, html := alternatives(msg.Content)

	if err := writeAlternative(iw, "text/plain", plain); err != nil {
		return err
	}

	if err := writeAlternative(iw, "text/html", html); err != nil {
		return err
	}

	return iw.Close()
}

func writeAlternative(iw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader

	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	pw, err := iw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(pw, content); err != nil {
		pw.Close()
		return err
	}

	return pw.Close()
}
