package service

import (
	"testing"
)

func TestConfigurationMergesFileAndDatabase(t *testing.T) {
	svc := Service{
		ID:   1,
		Name: "forum",
		ConfigurationFile: &PluginConfigFile{
			Name:           "Forum",
			Plugin:         "forum-plugin",
			RequiredGroups: []int64{1, 2},
			TextTop:        "file text",
			ConfigData:     "file data",
		},
		ConfigurationDatabase: &PluginConfigDatabase{
			Active:         true,
			RequiredGroups: []int64{3},
			ConfigData:     "db data",
		},
	}

	cfg := svc.Configuration()
	if !cfg.Active {
		t.Fatal("database override sets active")
	}
	if cfg.Plugin != "forum-plugin" {
		t.Fatalf("plugin should come from the file: %q", cfg.Plugin)
	}
	if len(cfg.RequiredGroups) != 1 || cfg.RequiredGroups[0] != 3 {
		t.Fatalf("database groups should win: %v", cfg.RequiredGroups)
	}
	if cfg.TextTop != "file text" {
		t.Fatalf("unset override fields fall back to the file: %q", cfg.TextTop)
	}
	if cfg.ConfigData != "db data" {
		t.Fatalf("database config data should win: %q", cfg.ConfigData)
	}
}

func TestConfigurationFileOnly(t *testing.T) {
	svc := Service{ConfigurationFile: &PluginConfigFile{Plugin: "p"}}
	cfg := svc.Configuration()
	if !cfg.Active {
		t.Fatal("a file-only configuration is active")
	}
	if cfg.Plugin != "p" {
		t.Fatalf("unexpected plugin: %q", cfg.Plugin)
	}
}

func TestConfigurationDatabaseControlsActive(t *testing.T) {
	svc := Service{
		ConfigurationFile:     &PluginConfigFile{Plugin: "p"},
		ConfigurationDatabase: &PluginConfigDatabase{Active: false},
	}
	if svc.Configuration().Active {
		t.Fatal("database override with active=false disables the service")
	}
}

func TestConfigurationEmpty(t *testing.T) {
	var svc Service
	cfg := svc.Configuration()
	if cfg.Active {
		t.Fatal("a service without any configuration is inactive")
	}
}

func TestConfigFromJSON(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"active": true, "requiredGroups": [1, 2], "configurationData": "x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.Active || len(cfg.RequiredGroups) != 2 || cfg.ConfigData != "x" {
		t.Fatalf("unexpected configuration: %+v", cfg)
	}
}

func TestConfigFromJSONRejectsUnknownFields(t *testing.T) {
	if _, err := ConfigFromJSON([]byte(`{"nope": 1}`)); err == nil {
		t.Fatal("unknown fields should be rejected")
	}
}

func TestConfigFromJSONRejectsWrongKinds(t *testing.T) {
	if _, err := ConfigFromJSON([]byte(`{"requiredGroups": "1,2"}`)); err == nil {
		t.Fatal("wrong value kinds should be rejected")
	}
}
