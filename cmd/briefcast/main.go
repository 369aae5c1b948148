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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/log"
)

const usageText = `
Usage:
  briefcast [OPTIONS] COMMAND [ARGS]

  Send mail campaigns and follow up until they reply.

Version:
  %s

Commands:
  send           Send a new campaign
  resume         Resume an unfinished campaign
  followup       Send follow-ups to a campaign
  serve          Check for replies and run scheduled campaigns
  campaigns      List all campaigns
  blocklist      Manage the block list
  notifications  List detected replies

Options:
%s
`

var (
	// Version is set at compile-time.
	Version string
)

func init() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}

type command func(ctx context.Context, app *application, args []string) error

var commands = map[string]command{
	"send":          sendCommand,
	"resume":        resumeCommand,
	"followup":      followUpCommand,
	"serve":         serveCommand,
	"campaigns":     campaignsCommand,
	"blocklist":     blocklistCommand,
	"notifications": notificationsCommand,
}

func main() {
	var configFilename string

	flags := pflag.NewFlagSet("briefcast", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.StringVarP(&configFilename, "config", "c", "", "Path to a configuration file")
	flags.Usage = printUsage(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		fatal(err)
	}

	cmd, ok := commands[flags.Arg(0)]
	if !ok {
		flags.Usage()
		os.Exit(2)
	}

	setupConfig(configFilename)
	setupLogger()
	printConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication()
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize the application")
	}

	if err := app.load(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not load campaign logs")
	}

	if err := cmd(ctx, app, flags.Args()[1:]); err != nil {
		log.Fatal().Err(err).Str("command", flags.Arg(0)).Msg("command failed")
	}
}

func printUsage(flags *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, usageText,
			Version,
			flags.FlagUsages())
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

func setupLogger() {
	level := viper.GetString("log.level")

	if err := log.Setup(level, viper.GetBool("log.pretty")); err != nil {
		log.Fatal().Err(err).Str("level", level).Msg("unknown log level")
	}

	log.Debug().Str("level", level).Msg("log level set")
}

func setupConfig(filename string) {
	viper.SetTypeByDefaultValue(true)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("BRIEFCAST")

	if filename != "" {
		readConfig(filename)
	}
}

func readConfig(filename string) {
	viper.SetConfigFile(filename)

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Err(err).Str("filename", filename).Msg("configuration file missing")
		} else {
			log.Fatal().Err(err).Str("filename", filename).Msg("could not load configuration")
		}
	}
}

func printConfig() {
	keys := viper.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		v, _ := json.Marshal(viper.Get(key))
		log.Debug().Str("key", key).RawJSON("value", v).Msg("config")
	}
}
