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
	"encoding/json"
	"errors"
	"os"
	"path"

	"github.com/spf13/afero"
)

// NewFilesystem returns the operating system filesystem.
func NewFilesystem() afero.Fs {
	return afero.NewOsFs()
}

// Documents reads and writes json documents below a base folder. Every write replaces the whole
// document by writing a temporary file first and renaming it over the old one, so a crash never
// leaves a partially written document behind.
type Documents struct {
	fs afero.Fs
}

// NewDocuments creates foldername if needed and returns Documents rooted at it.
func NewDocuments(fs afero.Fs, foldername string) (*Documents, error) {
	if err := fs.MkdirAll(foldername, 0700); err != nil {
		return nil, err
	}

	return &Documents{fs: afero.NewBasePathFs(fs, foldername)}, nil
}

// Read decodes the document into v. A missing document yields an error satisfying
// errors.Is(err, os.ErrNotExist).
func (d *Documents) Read(name string, v interface{}) error {
	data, err := afero.ReadFile(d.fs, name)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// ReadOptional is Read, but leaves v untouched if the document does not exist.
func (d *Documents) ReadOptional(name string, v interface{}) error {
	if err := d.Read(name, v); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// Write encodes v as indented json and atomically replaces the document.
func (d *Documents) Write(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(d.fs, path.Dir(name), "."+path.Base(name)+".*.tmp")
	if err != nil {
		return err
	}

	if err := writeAndClose(tmp, append(data, '\n')); err != nil {
		d.fs.Remove(tmp.Name())
		return err
	}

	return d.fs.Rename(tmp.Name(), name)
}

func writeAndClose(f afero.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// List returns the names of all documents with the given extension in the root folder.
func (d *Documents) List(ext string) ([]string, error) {
	infos, err := afero.ReadDir(d.fs, "/")
	if err != nil {
		return nil, err
	}

	var names []string

	for _, info := range infos {
		name := info.Name()
		if !info.IsDir() && path.Ext(name) == ext && name[0] != '.' {
			names = append(names, name)
		}
	}

	return names, nil
}
