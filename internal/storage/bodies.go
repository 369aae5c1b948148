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
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/briefcast/internal/models"
)

func init() {
	viper.SetDefault("storage.bodies.foldername", "data/bodies")
}

// ErrEmptyTemplate is returned for templates without a file.
var ErrEmptyTemplate = errors.New("storage: template has no file")

// BodiesOptions configures the folder of body templates.
type BodiesOptions struct {
	Foldername string
}

// BodiesOptionsFromViper reads BodiesOptions from viper.
//
// `storage.bodies.foldername` is the folder, that template files are relative to.
func BodiesOptionsFromViper() BodiesOptions {
	return BodiesOptions{
		Foldername: viper.GetString("storage.bodies.foldername"),
	}
}

// Bodies resolves body templates to their raw text or html content.
type Bodies struct {
	fs afero.Fs
}

// NewBodies creates a new content provider using the options.
func NewBodies(fs afero.Fs, opts BodiesOptions) (*Bodies, error) {
	if err := fs.MkdirAll(opts.Foldername, 0700); err != nil {
		return nil, err
	}

	return &Bodies{fs: afero.NewBasePathFs(fs, opts.Foldername)}, nil
}

// Resolve reads the content of a template.
func (b *Bodies) Resolve(ref models.BodyTemplate) (string, error) {
	if ref.File == "" {
		return "", ErrEmptyTemplate
	}

	content, err := afero.ReadFile(b.fs, ref.File)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", ref.Name, err)
	}

	return string(content), nil
}
