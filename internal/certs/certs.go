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

package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	sourceSystem = "system"
	sourceFiles  = "files"
)

func init() {
	viper.SetDefault("tls.source", sourceSystem)
	viper.SetDefault("tls.insecure", false)
}

// Options configures how the certificates of smtp and imap servers are verified.
type Options struct {
	Source     string
	CAFilename string
	Insecure   bool
}

// OptionsFromViper reads Options from viper.
//
// `tls.source` is either "system" or "files".
// `tls.files.ca` is a pem bundle of additional roots for the "files" source.
// `tls.insecure` disables certificate verification entirely.
func OptionsFromViper() Options {
	return Options{
		Source:     viper.GetString("tls.source"),
		CAFilename: viper.GetString("tls.files.ca"),
		Insecure:   viper.GetBool("tls.insecure"),
	}
}

// Provider creates client tls configurations for outbound connections.
type Provider struct {
	roots    *x509.CertPool
	insecure bool
}

// NewProvider loads the configured root certificates.
func NewProvider(fs afero.Fs, opts Options) (*Provider, error) {
	provider := Provider{insecure: opts.Insecure}

	switch opts.Source {
	case sourceSystem, "":
	case sourceFiles:
		roots, err := loadRoots(fs, opts.CAFilename)
		if err != nil {
			return nil, err
		}

		provider.roots = roots
	default:
		return nil, fmt.Errorf("unknown certificate source %q", opts.Source)
	}

	return &provider, nil
}

// Config returns a tls configuration to connect to serverName. A nil Provider yields the system
// defaults.
func (p *Provider) Config(serverName string) *tls.Config {
	config := tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if p != nil {
		config.RootCAs = p.roots
		config.InsecureSkipVerify = p.insecure
	}

	return &config
}
