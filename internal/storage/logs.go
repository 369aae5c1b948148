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

package storage

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/log"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("storage.logs.foldername", "data/campaign_logs")
}

const logExtension = ".json"

// CampaignLogsOptions configures the folder of campaign logs.
type CampaignLogsOptions struct {
	Foldername string
}

// CampaignLogsOptionsFromViper reads CampaignLogsOptions from viper.
//
// `storage.logs.foldername` is the folder containing one document per campaign.
func CampaignLogsOptionsFromViper() CampaignLogsOptions {
	return CampaignLogsOptions{
		Foldername: viper.GetString("storage.logs.foldername"),
	}
}

// CampaignLogs persists every campaign as a document named after the campaign and its id.
type CampaignLogs struct {
	documents *Documents
}

// NewCampaignLogs creates campaign logs using the options.
func NewCampaignLogs(fs afero.Fs, opts CampaignLogsOptions) (*CampaignLogs, error) {
	documents, err := NewDocuments(fs, opts.Foldername)
	if err != nil {
		return nil, err
	}

	return &CampaignLogs{documents: documents}, nil
}

// FileName returns the document name of a campaign. Characters other than letters, digits, dashes
// and underscores are replaced with underscores.
func FileName(name, id string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}

		return '_'
	}, name)

	return sanitized + "-" + id + logExtension
}

// Save writes the campaign to its document. If the campaign has no file yet, it is assigned one.
func (l *CampaignLogs) Save(ctx context.Context, campaign *models.Campaign) error {
	if campaign.File == "" {
		campaign.File = FileName(campaign.Name, campaign.ID)
	}

	if err := l.documents.Write(campaign.File, campaign); err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Str("file", campaign.File).
			Msg("could not save campaign log")

		return &faults.PersistenceError{Document: campaign.File, Err: err}
	}

	return nil
}

// Load reads a single campaign log. It returns nil without an error, if the document does not
// exist.
func (l *CampaignLogs) Load(ctx context.Context, file string) (*models.Campaign, error) {
	var campaign models.Campaign

	if err := l.documents.Read(file, &campaign); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, &faults.PersistenceError{Document: file, Err: err}
	}

	campaign.File = file
	return &campaign, nil
}

// LoadAll reads every campaign log ordered by start time. Unreadable documents are logged and
// skipped.
func (l *CampaignLogs) LoadAll(ctx context.Context) ([]*models.Campaign, error) {
	names, err := l.documents.List(logExtension)
	if err != nil {
		return nil, &faults.PersistenceError{Document: "/", Err: err}
	}

	campaigns := make([]*models.Campaign, 0, len(names))

	for _, name := range names {
		var campaign models.Campaign

		if err := l.documents.Read(name, &campaign); err != nil {
			log.WarnContext(ctx).
				Err(err).
				Str("file", name).
				Msg("skipping unreadable campaign log")

			continue
		}

		if campaign.ID == "" {
			log.WarnContext(ctx).
				Str("file", name).
				Msg("skipping campaign log without id")

			continue
		}

		campaign.File = name
		campaigns = append(campaigns, &campaign)
	}

	sort.SliceStable(campaigns, func(i, j int) bool {
		return campaigns[i].StartedAt.Before(campaigns[j].StartedAt)
	})

	return campaigns, nil
}
