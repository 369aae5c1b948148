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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/lukasdietrich/briefcast/internal/log"
)

func notificationsCommand(ctx context.Context, app *application, args []string) error {
	var seen bool

	flags := pflag.NewFlagSet("notifications", pflag.ContinueOnError)
	flags.BoolVar(&seen, "seen", false, "Mark all notifications as seen")

	if err := flags.Parse(args); err != nil {
		return err
	}

	notifications, err := app.Checker.Notifications()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DETECTED\tFROM\tCAMPAIGN\tSUBJECT\tNEW")

	for _, n := range notifications {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			humanize.Time(n.DetectedAt),
			n.Recipient,
			n.CampaignName,
			n.Subject,
			!n.Seen)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	if !seen {
		return nil
	}

	marked, err := app.Checker.MarkAllSeen()
	if err != nil {
		return err
	}

	log.InfoContext(ctx).Int("marked", marked).Msg("notifications marked as seen")
	return nil
}
