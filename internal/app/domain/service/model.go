// Package service models registered third-party services and their plugin
// configuration, both the file-declared template shipped with a plugin and
// the administrator-editable database override.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConfigURL is a link shown to end users. The url may contain the
// placeholders {username}, {password} and {email}.
type ConfigURL struct {
	URL    string `json:"url" yaml:"url"`
	Title  string `json:"title" yaml:"title"`
	Target string `json:"target" yaml:"target"`
}

// PluginConfigFile is the static configuration template declared by a plugin
// in its plugin.yml. Directory is filled in by the scanner, not the file.
type PluginConfigFile struct {
	Name           string      `json:"name" yaml:"name"`
	Plugin         string      `json:"plugin" yaml:"plugin"`
	Script         string      `json:"script" yaml:"script"`
	ScriptPrefix   string      `json:"scriptPrefix" yaml:"scriptPrefix"`
	RequiredGroups []int64     `json:"requiredGroups" yaml:"requiredGroups"`
	EsiScopes      string      `json:"esiScopes" yaml:"esiScopes"`
	OneAccount     bool        `json:"oneAccount" yaml:"oneAccount"`
	Properties     []string    `json:"properties" yaml:"properties"`
	ShowPassword   bool        `json:"showPassword" yaml:"showPassword"`
	Actions        []string    `json:"actions" yaml:"actions"`
	URLs           []ConfigURL `json:"URLs" yaml:"URLs"`
	TextTop        string      `json:"textTop" yaml:"textTop"`
	TextAccount    string      `json:"textAccount" yaml:"textAccount"`
	TextRegister   string      `json:"textRegister" yaml:"textRegister"`
	TextPending    string      `json:"textPending" yaml:"textPending"`
	ConfigData     string      `json:"configurationData" yaml:"configurationData"`

	Directory string `json:"directory" yaml:"-"`
}

// PluginConfigDatabase is the administrator-editable override stored with the
// service record. Zero-valued fields fall back to the file template.
type PluginConfigDatabase struct {
	Active         bool        `json:"active"`
	Plugin         string      `json:"plugin"`
	Script         string      `json:"script"`
	ScriptPrefix   string      `json:"scriptPrefix"`
	Directory      string      `json:"directory"`
	RequiredGroups []int64     `json:"requiredGroups"`
	EsiScopes      string      `json:"esiScopes"`
	URLs           []ConfigURL `json:"URLs"`
	TextTop        string      `json:"textTop"`
	TextAccount    string      `json:"textAccount"`
	TextRegister   string      `json:"textRegister"`
	TextPending    string      `json:"textPending"`
	ConfigData     string      `json:"configurationData"`
}

// ConfigFromJSON decodes and structurally validates an administrator-supplied
// configuration document. Unknown keys and wrong value kinds are rejected at
// the boundary; nothing is partially applied.
func ConfigFromJSON(raw []byte) (PluginConfigDatabase, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg PluginConfigDatabase
	if err := dec.Decode(&cfg); err != nil {
		return PluginConfigDatabase{}, fmt.Errorf("malformed configuration document: %w", err)
	}
	return cfg, nil
}

// Service is a registered third-party integration backed by a plugin
// implementation.
type Service struct {
	ID                    int64                 `json:"id"`
	Name                  string                `json:"name"`
	ConfigurationFile     *PluginConfigFile     `json:"configurationFile,omitempty"`
	ConfigurationDatabase *PluginConfigDatabase `json:"configurationDatabase,omitempty"`
}

// Configuration is the effective, merged view of a service's configuration:
// the file template overlaid with any non-zero database override fields.
type Configuration struct {
	Active         bool
	Plugin         string
	Script         string
	ScriptPrefix   string
	Directory      string
	RequiredGroups []int64
	EsiScopes      string
	URLs           []ConfigURL
	TextTop        string
	TextAccount    string
	TextRegister   string
	TextPending    string
	ConfigData     string
}

// Configuration merges the file template and the database override.
func (s Service) Configuration() Configuration {
	var cfg Configuration

	if f := s.ConfigurationFile; f != nil {
		cfg = Configuration{
			Active:         true,
			Plugin:         f.Plugin,
			Script:         f.Script,
			ScriptPrefix:   f.ScriptPrefix,
			Directory:      f.Directory,
			RequiredGroups: f.RequiredGroups,
			EsiScopes:      f.EsiScopes,
			URLs:           f.URLs,
			TextTop:        f.TextTop,
			TextAccount:    f.TextAccount,
			TextRegister:   f.TextRegister,
			TextPending:    f.TextPending,
			ConfigData:     f.ConfigData,
		}
	}

	d := s.ConfigurationDatabase
	if d == nil {
		return cfg
	}

	cfg.Active = d.Active
	if d.Plugin != "" {
		cfg.Plugin = d.Plugin
	}
	if d.Script != "" {
		cfg.Script = d.Script
	}
	if d.ScriptPrefix != "" {
		cfg.ScriptPrefix = d.ScriptPrefix
	}
	if d.Directory != "" {
		cfg.Directory = d.Directory
	}
	if len(d.RequiredGroups) > 0 {
		cfg.RequiredGroups = d.RequiredGroups
	}
	if d.EsiScopes != "" {
		cfg.EsiScopes = d.EsiScopes
	}
	if len(d.URLs) > 0 {
		cfg.URLs = d.URLs
	}
	if d.TextTop != "" {
		cfg.TextTop = d.TextTop
	}
	if d.TextAccount != "" {
		cfg.TextAccount = d.TextAccount
	}
	if d.TextRegister != "" {
		cfg.TextRegister = d.TextRegister
	}
	if d.TextPending != "" {
		cfg.TextPending = d.TextPending
	}
	if d.ConfigData != "" {
		cfg.ConfigData = d.ConfigData
	}
	return cfg
}

// Summary is the list representation of a service.
type Summary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Summary returns the list representation.
func (s Service) Summary() Summary {
	return Summary{ID: s.ID, Name: s.Name}
}
