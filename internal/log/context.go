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

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type fieldComponent struct{}
type fieldCampaign struct{}
type fieldIdentity struct{}
type fieldRecipient struct{}

// WithComponent tags log events with the name of the background unit (engine, followup, ...).
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, fieldComponent{}, component)
}

// WithCampaign tags log events with a campaign id.
func WithCampaign(ctx context.Context, campaign string) context.Context {
	return context.WithValue(ctx, fieldCampaign{}, campaign)
}

// WithIdentity tags log events with the address of a sender identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, fieldIdentity{}, identity)
}

// WithRecipient tags log events with a recipient address.
func WithRecipient(ctx context.Context, recipient string) context.Context {
	return context.WithValue(ctx, fieldRecipient{}, recipient)
}

func appendContextFields(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if component, ok := ctx.Value(fieldComponent{}).(string); ok {
		event.Str("component", component)
	}

	if campaign, ok := ctx.Value(fieldCampaign{}).(string); ok {
		event.Str("campaign", campaign)
	}

	if identity, ok := ctx.Value(fieldIdentity{}).(string); ok {
		event.Str("identity", identity)
	}

	if recipient, ok := ctx.Value(fieldRecipient{}).(string); ok {
		event.Str("recipient", recipient)
	}

	return event
}
