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
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mails"
	"github.com/lukasdietrich/briefcast/internal/models"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

func sendCommand(ctx context.Context, app *application, args []string) error {
	var (
		recipientsFilename string
		name               string
		at                 string
		delayMin           time.Duration
		delayMax           time.Duration
	)

	flags := pflag.NewFlagSet("send", pflag.ContinueOnError)
	flags.StringVarP(&recipientsFilename, "recipients", "r", "", "Path to a .csv or .txt file of recipients")
	flags.StringVarP(&name, "name", "n", "", "Name of the campaign")
	flags.StringVar(&at, "at", "", "Start the campaign at the given time (RFC3339)")
	flags.DurationVar(&delayMin, "delay-min", 120*time.Second, "Minimum delay between two messages")
	flags.DurationVar(&delayMax, "delay-max", 180*time.Second, "Maximum delay between two messages")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if recipientsFilename == "" || name == "" {
		return errors.New("usage: send -r FILE -n NAME [--delay-min D] [--delay-max D] [--at TIME]")
	}

	recipients, err := mails.LoadRecipients(storage.NewFilesystem(), recipientsFilename)
	if err != nil {
		return err
	}

	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients in %q", recipientsFilename)
	}

	if at == "" {
		run, err := app.Engine.Start(ctx, recipients, name, delayMin, delayMax)
		if err != nil {
			return err
		}

		return run.Wait()
	}

	runAt, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}

	app.Scheduler.Schedule(models.ScheduledJob{
		CampaignName: name,
		Recipients:   recipients,
		DelayMin:     delayMin,
		DelayMax:     delayMax,
		RunAt:        runAt,
	})

	log.InfoContext(ctx).
		Str("name", name).
		Time("runAt", runAt).
		Int("recipients", len(recipients)).
		Msg("campaign scheduled")

	return awaitScheduled(ctx, app.Scheduler)
}

// awaitScheduled ticks the scheduler until the single scheduled job was started and has ended.
func awaitScheduled(ctx context.Context, scheduler *campaign.Scheduler) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for len(scheduler.Jobs()) > 0 {
		select {
		case <-ctx.Done():
			log.WarnContext(ctx).Msg("cancelled before the scheduled campaign started")
			return nil

		case now := <-ticker.C:
			if run := scheduler.Tick(ctx, now); run != nil {
				return run.Wait()
			}
		}
	}

	return nil
}

func resumeCommand(ctx context.Context, app *application, args []string) error {
	var campaignID string

	switch len(args) {
	case 0:
		resumable, ok := app.Engine.FindResumable()
		if !ok {
			log.InfoContext(ctx).Msg("there is no unfinished campaign")
			return nil
		}

		campaignID = resumable.ID

	case 1:
		campaignID = args[0]

	default:
		return errors.New("usage: resume [CAMPAIGN-ID]")
	}

	run, err := app.Engine.Resume(ctx, campaignID)
	if err != nil {
		return err
	}

	return run.Wait()
}

func followUpCommand(ctx context.Context, app *application, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: followup CAMPAIGN-ID")
	}

	run, err := app.FollowUps.RunFollowUps(ctx, args[0])
	if err != nil {
		return err
	}

	return run.Wait()
}

func campaignsCommand(ctx context.Context, app *application, args []string) error {
	if len(args) != 0 {
		return errors.New("usage: campaigns")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tSENT\tFAILED\tSKIPPED\tSTATE")

	for _, c := range app.Registry.All() {
		state := "finished"
		if !c.Finished() {
			state = "resumable"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			c.ID,
			c.Name,
			humanize.Time(c.StartedAt),
			c.TotalSent,
			c.TotalFailed,
			c.Skipped(),
			state)
	}

	return w.Flush()
}
