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
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/mails"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func blocklistCommand(ctx context.Context, app *application, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "add":
			return blocklistAdd(ctx, app, args[1:])
		case "remove":
			return blocklistRemove(ctx, app, args[1:])
		case "list":
			return blocklistList(app)
		}
	}

	return errors.New("usage: blocklist add|remove|list")
}

func blocklistAdd(ctx context.Context, app *application, args []string) error {
	var (
		kind    string
		comment string
	)

	flags := pflag.NewFlagSet("blocklist add", pflag.ContinueOnError)
	flags.StringVar(&kind, "kind", string(models.KindBlockList), "Either lead or blocklist")
	flags.StringVar(&comment, "comment", "", "Comment stored with every entry")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if !models.BlockListKind(kind).Valid() || flags.NArg() == 0 {
		return errors.New("usage: blocklist add [--kind lead|blocklist] [--comment C] ADDRESS...")
	}

	blockList, err := app.Store.BlockList()
	if err != nil {
		return err
	}

	var added []string

	for _, raw := range flags.Args() {
		addr, err := mails.ParseRecipient(raw)
		if err != nil {
			return fmt.Errorf("%q: %w", raw, err)
		}

		blockList[addr.String()] = models.BlockListEntry{
			Kind:    models.BlockListKind(kind),
			Comment: comment,
			AddedAt: time.Now(),
		}

		added = append(added, addr.String())
	}

	if err := app.Store.PutBlockList(blockList); err != nil {
		return err
	}

	log.InfoContext(ctx).Int("addresses", len(added)).Str("kind", kind).Msg("block list updated")

	if models.BlockListKind(kind) != models.KindLead {
		return nil
	}

	for _, address := range added {
		if _, err := app.Registry.FlagNoFollowUp(ctx, address); err != nil {
			return err
		}
	}

	return nil
}

// blocklistRemove deletes addresses from the block list. Outcomes already flagged as leads keep
// their flag.
func blocklistRemove(ctx context.Context, app *application, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: blocklist remove ADDRESS...")
	}

	blockList, err := app.Store.BlockList()
	if err != nil {
		return err
	}

	var removed []string

	for _, address := range args {
		listed := blockList.Remove(address)
		if len(listed) == 0 {
			log.WarnContext(ctx).Str("address", address).Msg("address is not on the block list")
		}

		removed = append(removed, listed...)
	}

	if len(removed) == 0 {
		return nil
	}

	if err := app.Store.PutBlockList(blockList); err != nil {
		return err
	}

	log.InfoContext(ctx).Strs("addresses", removed).Msg("removed from block list")
	return nil
}

func blocklistList(app *application) error {
	blockList, err := app.Store.BlockList()
	if err != nil {
		return err
	}

	addresses := make([]string, 0, len(blockList))
	for address := range blockList {
		addresses = append(addresses, address)
	}

	sort.Strings(addresses)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tKIND\tADDED\tCOMMENT")

	for _, address := range addresses {
		entry := blockList[address]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", address, entry.Kind, humanize.Time(entry.AddedAt), entry.Comment)
	}

	return w.Flush()
}
