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
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("storage.foldername", "data")
	viper.SetDefault("storage.files.identities", "smtp_list.json")
	viper.SetDefault("storage.files.subjects", "subjects.json")
	viper.SetDefault("storage.files.bodies", "bodies.json")
	viper.SetDefault("storage.files.followupbodies", "followup_bodies.json")
	viper.SetDefault("storage.files.blocklist", "blacklist.json")
	viper.SetDefault("storage.files.notifications", "notifications.json")
}

// Kind names one of the documents of the store.
type Kind string

const (
	KindIdentities     Kind = "identities"
	KindSubjects       Kind = "subjects"
	KindBodies         Kind = "bodies"
	KindFollowUpBodies Kind = "followupbodies"
	KindBlockList      Kind = "blocklist"
	KindNotifications  Kind = "notifications"
)

var kinds = []Kind{
	KindIdentities,
	KindSubjects,
	KindBodies,
	KindFollowUpBodies,
	KindBlockList,
	KindNotifications,
}

// StoreOptions configures the folder of the store and the file name of every kind.
type StoreOptions struct {
	Foldername string
	Files      map[Kind]string
}

// StoreOptionsFromViper reads StoreOptions from viper.
//
// `storage.foldername` is the folder containing all documents.
// `storage.files.<kind>` is the file name of a single document.
func StoreOptionsFromViper() StoreOptions {
	files := make(map[Kind]string, len(kinds))

	for _, kind := range kinds {
		files[kind] = viper.GetString("storage.files." + string(kind))
	}

	return StoreOptions{
		Foldername: viper.GetString("storage.foldername"),
		Files:      files,
	}
}

// Store is the flat key-value store of the identities, templates, block list and
// notifications. Missing documents read as empty.
type Store struct {
	documents *Documents
	files     map[Kind]string
}

// NewStore creates a new store using the options.
func NewStore(fs afero.Fs, opts StoreOptions) (*Store, error) {
	documents, err := NewDocuments(fs, opts.Foldername)
	if err != nil {
		return nil, err
	}

	return &Store{documents: documents, files: opts.Files}, nil
}

func (s *Store) filename(kind Kind) string {
	if name, ok := s.files[kind]; ok && name != "" {
		return name
	}

	return string(kind) + ".json"
}

// Get decodes the document of kind into v. v is left untouched if the document does not exist.
func (s *Store) Get(kind Kind, v interface{}) error {
	name := s.filename(kind)

	if err := s.documents.ReadOptional(name, v); err != nil {
		return &faults.PersistenceError{Document: name, Err: err}
	}

	return nil
}

// Put replaces the document of kind with v.
func (s *Store) Put(kind Kind, v interface{}) error {
	name := s.filename(kind)

	if err := s.documents.Write(name, v); err != nil {
		return &faults.PersistenceError{Document: name, Err: err}
	}

	return nil
}

// Identities returns all configured sender identities.
func (s *Store) Identities() ([]models.SenderIdentity, error) {
	var identities []models.SenderIdentity
	if err := s.Get(KindIdentities, &identities); err != nil {
		return nil, err
	}

	return identities, nil
}

// Subjects returns all subject lines.
func (s *Store) Subjects() ([]string, error) {
	var subjects []string
	if err := s.Get(KindSubjects, &subjects); err != nil {
		return nil, err
	}

	return subjects, nil
}

// Bodies returns the references of all body templates for initial messages.
func (s *Store) Bodies() ([]models.BodyTemplate, error) {
	var bodies []models.BodyTemplate
	if err := s.Get(KindBodies, &bodies); err != nil {
		return nil, err
	}

	return bodies, nil
}

// FollowUpBodies returns the ordered references of the follow-up templates.
func (s *Store) FollowUpBodies() ([]models.BodyTemplate, error) {
	var bodies []models.BodyTemplate
	if err := s.Get(KindFollowUpBodies, &bodies); err != nil {
		return nil, err
	}

	return bodies, nil
}

// BlockList returns the block list. The result is never nil.
func (s *Store) BlockList() (models.BlockList, error) {
	blockList := make(models.BlockList)
	if err := s.Get(KindBlockList, &blockList); err != nil {
		return nil, err
	}

	if blockList == nil {
		blockList = make(models.BlockList)
	}

	return blockList, nil
}

// PutBlockList replaces the block list.
func (s *Store) PutBlockList(blockList models.BlockList) error {
	return s.Put(KindBlockList, blockList)
}

// Notifications returns all notifications in the order they were detected.
func (s *Store) Notifications() ([]models.Notification, error) {
	var notifications []models.Notification
	if err := s.Get(KindNotifications, &notifications); err != nil {
		return nil, err
	}

	return notifications, nil
}

// PutNotifications replaces the notifications.
func (s *Store) PutNotifications(notifications []models.Notification) error {
	if notifications == nil {
		notifications = []models.Notification{}
	}

	return s.Put(KindNotifications, notifications)
}

// RequireCampaignInputs loads everything a campaign needs to send initial messages. Any empty
// input yields a faults.ConfigurationError naming all missing kinds.
func (s *Store) RequireCampaignInputs() ([]models.SenderIdentity, []string, []models.BodyTemplate, error) {
	identities, err := s.Identities()
	if err != nil {
		return nil, nil, nil, err
	}

	subjects, err := s.Subjects()
	if err != nil {
		return nil, nil, nil, err
	}

	bodies, err := s.Bodies()
	if err != nil {
		return nil, nil, nil, err
	}

	var missing []string

	if len(identities) == 0 {
		missing = append(missing, string(KindIdentities))
	}

	if len(subjects) == 0 {
		missing = append(missing, string(KindSubjects))
	}

	if len(bodies) == 0 {
		missing = append(missing, string(KindBodies))
	}

	if len(missing) > 0 {
		return nil, nil, nil, &faults.ConfigurationError{Missing: missing}
	}

	return identities, subjects, bodies, nil
}
