package plugin

import (
	"context"
	"testing"

	"github.com/step-security-bot/neucore/pkg/logger"
)

type nopPlugin struct{}

func (nopPlugin) GetAccounts(context.Context, []Character) ([]Account, error) { return nil, nil }
func (nopPlugin) OnConfigurationChange(context.Context) error                 { return nil }

func nopFactory(*logger.Logger, Configuration) (Plugin, error) {
	return nopPlugin{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("forum", Info{Name: "Forum"}, nopFactory)

	if !r.IsRegistered("forum") {
		t.Fatal("forum should be registered")
	}
	if _, ok := r.Get("forum"); !ok {
		t.Fatal("factory lookup failed")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Fatal("unknown id should not resolve")
	}

	info, ok := r.Info("forum")
	if !ok || info.ID != "forum" || info.Name != "Forum" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("forum", Info{}, nopFactory)

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	r.Register("forum", Info{}, nopFactory)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", Info{}, nopFactory)
	r.Register("alpha", Info{}, nopFactory)

	ids := r.List()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "zeta" {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestAddScriptPathNormalizesPrefix(t *testing.T) {
	r := NewRegistry()

	got := r.AddScriptPath("shared", "/opt/plugins/shared")
	if got != "shared/" {
		t.Fatalf("prefix not normalized: %q", got)
	}
	if paths := r.ScriptPaths("shared"); len(paths) != 1 || paths[0] != "/opt/plugins/shared" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestAddScriptPathMergesIdempotently(t *testing.T) {
	r := NewRegistry()
	r.AddScriptPath("shared/", "/a")
	r.AddScriptPath("shared", "/a")
	r.AddScriptPath("shared/", "/b")

	paths := r.ScriptPaths("shared/")
	if len(paths) != 2 || paths[0] != "/a" || paths[1] != "/b" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestAddScriptPathIgnoresEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.AddScriptPath("", "/a"); got != "" {
		t.Fatalf("empty prefix should be returned as-is: %q", got)
	}
	r.AddScriptPath("shared/", "  ")
	if paths := r.ScriptPaths("shared/"); len(paths) != 0 {
		t.Fatalf("blank path should not register: %v", paths)
	}
}
