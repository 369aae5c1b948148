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

// Package metrics exposes prometheus collectors of the campaign, follow-up and reply checking
// units.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

func init() {
	viper.SetDefault("metrics.address", ":9090")
}

// Kinds of messages.
const (
	KindInitial  = "initial"
	KindFollowUp = "followup"
)

// Sources of detected replies.
const (
	SourceFollowUp = "followup"
	SourceChecker  = "checker"
)

var (
	// MessagesTotal counts the outcome of every attempted message.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefcast_messages_total",
			Help: "Total number of messages by kind and delivery status",
		},
		[]string{"kind", "status"},
	)

	// SendDuration observes the duration of single smtp submissions.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "briefcast_send_duration_seconds",
			Help:    "Duration of smtp submissions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind"},
	)

	// RepliesDetected counts replies found by the follow-up engine and the reply checker.
	RepliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "briefcast_replies_detected_total",
			Help: "Total number of detected replies by detecting unit",
		},
		[]string{"source"},
	)

	// MailboxErrors counts mailbox sessions, that could not be opened.
	MailboxErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "briefcast_mailbox_errors_total",
			Help: "Total number of mailbox sessions, that could not be opened",
		},
	)

	// UnseenNotifications is the number of notifications not yet marked as seen.
	UnseenNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "briefcast_unseen_notifications",
			Help: "Number of unseen reply notifications",
		},
	)

	// ActiveRuns is 1 while a run of the given unit holds its slot.
	ActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "briefcast_active_runs",
			Help: "Number of active runs by unit",
		},
		[]string{"unit"},
	)
)

// RecordMessage counts a message and observes the duration of its submission.
func RecordMessage(kind, status string, duration time.Duration) {
	MessagesTotal.WithLabelValues(kind, status).Inc()
	SendDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncrementReplies counts a detected reply.
func IncrementReplies(source string) {
	RepliesDetected.WithLabelValues(source).Inc()
}

// Options configures the metrics endpoint.
type Options struct {
	Address string
}

// OptionsFromViper reads Options from viper.
//
// `metrics.address` is the listen address of the /metrics endpoint. An empty address disables it.
func OptionsFromViper() Options {
	return Options{
		Address: viper.GetString("metrics.address"),
	}
}

// NewServer returns an http server exposing the default registry at /metrics.
func NewServer(opts Options) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              opts.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
