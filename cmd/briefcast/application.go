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
	"context"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/followup"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/metrics"
	"github.com/lukasdietrich/briefcast/internal/replies"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

// application holds every unit a command may need.
type application struct {
	Store     *storage.Store
	Registry  *campaign.Registry
	Engine    *campaign.Engine
	Scheduler *campaign.Scheduler
	FollowUps *followup.Engine
	Checker   *replies.Checker
	Metrics   metrics.Options
}

func (a *application) load(ctx context.Context) error {
	if err := a.Registry.Load(ctx); err != nil {
		return err
	}

	a.Engine.OnProgress(func(p campaign.Progress) {
		log.InfoContext(log.WithCampaign(ctx, p.CampaignID)).
			Int("index", p.Index).
			Int("total", p.Total).
			Int("sent", p.Sent).
			Int("failed", p.Failed).
			Int("skipped", p.Skipped).
			Msg("campaign progress")
	})

	a.FollowUps.OnProgress(func(p followup.Progress) {
		log.InfoContext(log.WithCampaign(ctx, p.CampaignID)).
			Int("checked", p.Checked).
			Int("total", p.Total).
			Int("sent", p.Sent).
			Int("failed", p.Failed).
			Int("replied", p.Replied).
			Msg("follow-up progress")
	})

	a.Checker.OnUnseen(func(unseen int) {
		log.InfoContext(ctx).Int("unseen", unseen).Msg("unseen notifications")
	})

	return nil
}
