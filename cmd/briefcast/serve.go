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
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/metrics"
)

func serveCommand(ctx context.Context, app *application, args []string) error {
	if len(args) != 0 {
		return errors.New("usage: serve")
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return app.Checker.Run(ctx)
	})

	group.Go(func() error {
		return app.Scheduler.Run(ctx)
	})

	if app.Metrics.Address != "" {
		server := metrics.NewServer(app.Metrics)

		group.Go(func() error {
			log.InfoContext(ctx).Str("address", server.Addr).Msg("serving metrics")

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		group.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}
