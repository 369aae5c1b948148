//go:build wireinject
// +build wireinject

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

package main

import (
	"github.com/google/wire"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/certs"
	"github.com/lukasdietrich/briefcast/internal/crypto"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/followup"
	"github.com/lukasdietrich/briefcast/internal/mailbox"
	"github.com/lukasdietrich/briefcast/internal/metrics"
	"github.com/lukasdietrich/briefcast/internal/replies"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

var wireSet = wire.NewSet(
	wire.Struct(new(application), "*"),
	metrics.OptionsFromViper,

	storage.WireSet,
	certs.WireSet,
	crypto.WireSet,
	delivery.WireSet,
	mailbox.WireSet,
	campaign.WireSet,
	followup.WireSet,
	replies.WireSet,
)

func newApplication() (*application, error) {
	panic(wire.Build(wireSet))
}
