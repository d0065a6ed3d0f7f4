package registration

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/services/accounts"
	"github.com/step-security-bot/neucore/internal/app/storage/memory"
	"github.com/step-security-bot/neucore/internal/plugin"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// fakePlugin implements plugin.Plugin with overridable behaviour.
type fakePlugin struct {
	getAccounts func(ctx context.Context, characters []plugin.Character) ([]plugin.Account, error)
	onChange    func(ctx context.Context) error
}

func (f *fakePlugin) GetAccounts(ctx context.Context, characters []plugin.Character) ([]plugin.Account, error) {
	if f.getAccounts == nil {
		return nil, nil
	}
	return f.getAccounts(ctx, characters)
}

func (f *fakePlugin) OnConfigurationChange(ctx context.Context) error {
	if f.onChange == nil {
		return nil
	}
	return f.onChange(ctx)
}

type fixture struct {
	store    *memory.Store
	accounts *accounts.Service
	registry *plugin.Registry
	svc      *Service

	sessionCharacter int64
}

func newFixture(t *testing.T, policy accounts.DeactivationPolicy) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), registry: plugin.NewRegistry()}
	f.accounts = accounts.New(f.store, f.store, policy, nil)
	f.svc = New(f.accounts, f.registry, func(context.Context) (int64, bool) {
		return f.sessionCharacter, f.sessionCharacter > 0
	}, nil)
	return f
}

func (f *fixture) addPlayer(t *testing.T, characterID int64, groups ...int64) player.Player {
	t.Helper()
	ctx := context.Background()

	groupList := make([]player.Group, 0, len(groups))
	for _, id := range groups {
		groupList = append(groupList, player.Group{ID: id, Name: fmt.Sprintf("group-%d", id)})
	}
	p, err := f.store.CreatePlayer(ctx, player.Player{Name: "owner", Groups: groupList})
	if err != nil {
		t.Fatalf("create player: %v", err)
	}
	if _, err := f.store.CreateCharacter(ctx, player.Character{ID: characterID, PlayerID: p.ID, Main: true}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	return p
}

func gatedService(groups ...int64) service.Service {
	return service.Service{
		ID:                1,
		Name:              "svc",
		ConfigurationFile: &service.PluginConfigFile{RequiredGroups: groups},
	}
}

func TestHasRequiredGroupsNoSession(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	if f.svc.HasRequiredGroups(context.Background(), gatedService()) {
		t.Fatal("no session should fail the gate")
	}
}

func TestHasRequiredGroupsOpenService(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	f.addPlayer(t, 100)
	f.sessionCharacter = 100

	if !f.svc.HasRequiredGroups(context.Background(), gatedService()) {
		t.Fatal("a service without required groups is open to everyone")
	}
}

func TestHasRequiredGroupsMembership(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	f.addPlayer(t, 100, 7)
	f.sessionCharacter = 100

	if !f.svc.HasRequiredGroups(context.Background(), gatedService(7, 8)) {
		t.Fatal("membership in one required group should pass")
	}
	if f.svc.HasRequiredGroups(context.Background(), gatedService(8, 9)) {
		t.Fatal("no matching membership should fail")
	}
}

func TestHasRequiredGroupsZeroGroupID(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	f.addPlayer(t, 100)
	f.sessionCharacter = 100

	if f.svc.HasRequiredGroups(context.Background(), gatedService(0)) {
		t.Fatal("a zero group id must not grant access")
	}
}

func TestHasRequiredGroupsIgnoresDelayOnGatedService(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{Enabled: true, Delay: time.Hour})
	p := f.addPlayer(t, 100, 7)
	f.sessionCharacter = 100

	// Token went invalid a moment ago: within the grace delay.
	since := time.Now().Add(-time.Minute)
	p.TokenInvalidSince = &since
	if _, err := f.store.UpdatePlayer(context.Background(), p); err != nil {
		t.Fatalf("update player: %v", err)
	}

	if f.svc.HasRequiredGroups(context.Background(), gatedService(7)) {
		t.Fatal("a gated service fails closed immediately, without the grace delay")
	}
	if !f.svc.HasRequiredGroups(context.Background(), gatedService()) {
		t.Fatal("an open service is unaffected by deactivation")
	}
}

func TestCoreGroupsRespectsDelay(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{Enabled: true, Delay: time.Hour})

	since := time.Now().Add(-time.Minute)
	p := player.Player{
		Groups:            []player.Group{{ID: 7, Name: "g"}},
		TokenInvalidSince: &since,
	}
	if groups := f.svc.CoreGroups(p); len(groups) != 1 {
		t.Fatalf("within the delay groups remain visible: %v", groups)
	}

	past := time.Now().Add(-2 * time.Hour)
	p.TokenInvalidSince = &past
	if groups := f.svc.CoreGroups(p); len(groups) != 0 {
		t.Fatalf("past the delay groups are suppressed: %v", groups)
	}
}

func TestImplementationUnknownPlugin(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	svc := service.Service{
		ID:                1,
		ConfigurationFile: &service.PluginConfigFile{Plugin: "unknown"},
	}
	if f.svc.Implementation(svc) != nil {
		t.Fatal("an unknown implementation id resolves to nil")
	}
}

func TestImplementationRegisteredFactory(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	var gotCfg plugin.Configuration
	f.registry.Register("forum", plugin.Info{}, func(_ *logger.Logger, cfg plugin.Configuration) (plugin.Plugin, error) {
		gotCfg = cfg
		return &fakePlugin{}, nil
	})

	svc := service.Service{
		ID: 5,
		ConfigurationFile: &service.PluginConfigFile{
			Plugin:         "forum",
			RequiredGroups: []int64{7, 0, -1},
			ConfigData:     "payload",
		},
	}
	impl := f.svc.Implementation(svc)
	if impl == nil {
		t.Fatal("registered factory should resolve")
	}
	if gotCfg.ServiceID != 5 || gotCfg.ConfigurationData != "payload" {
		t.Fatalf("unexpected snapshot: %+v", gotCfg)
	}
	if len(gotCfg.RequiredGroups) != 1 || gotCfg.RequiredGroups[0] != 7 {
		t.Fatalf("non-positive group ids should be dropped: %v", gotCfg.RequiredGroups)
	}
}

func TestImplementationFactoryFailure(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	f.registry.Register("broken", plugin.Info{}, func(*logger.Logger, plugin.Configuration) (plugin.Plugin, error) {
		return nil, stderrors.New("construction failed")
	})
	f.registry.Register("panics", plugin.Info{}, func(*logger.Logger, plugin.Configuration) (plugin.Plugin, error) {
		panic("factory bug")
	})

	for _, id := range []string{"broken", "panics"} {
		svc := service.Service{ConfigurationFile: &service.PluginConfigFile{Plugin: id}}
		if f.svc.Implementation(svc) != nil {
			t.Fatalf("%s should resolve to nil", id)
		}
	}
}

func TestImplementationScript(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	dir := t.TempDir()
	source := `function getAccounts(characters) { return []; }`
	if err := os.WriteFile(filepath.Join(dir, plugin.ScriptFileName), []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	svc := service.Service{
		ID:                1,
		ConfigurationFile: &service.PluginConfigFile{Script: plugin.ScriptFileName, Directory: dir},
	}
	if f.svc.Implementation(svc) == nil {
		t.Fatal("script implementation should resolve")
	}

	missing := service.Service{
		ID:                2,
		ConfigurationFile: &service.PluginConfigFile{Script: "nope.js", Directory: dir},
	}
	if f.svc.Implementation(missing) != nil {
		t.Fatal("missing script resolves to nil")
	}
}

func TestImplementationScriptPrefix(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	dir := t.TempDir()
	source := `function getAccounts(characters) { return []; }`
	if err := os.WriteFile(filepath.Join(dir, "impl.js"), []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	svc := service.Service{
		ID: 1,
		ConfigurationFile: &service.PluginConfigFile{
			Script:       "shared/impl.js",
			ScriptPrefix: "shared",
			Directory:    dir,
		},
	}
	if f.svc.Implementation(svc) == nil {
		t.Fatal("prefixed script should resolve through the registered path")
	}

	// A second resolution goes through the merged, already-registered path.
	if f.svc.Implementation(svc) == nil {
		t.Fatal("repeat resolution should still work")
	}
	if paths := f.registry.ScriptPaths("shared/"); len(paths) != 1 {
		t.Fatalf("prefix registration must be idempotent: %v", paths)
	}
}

func TestImplementationNoEntryPoint(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	svc := service.Service{ConfigurationFile: &service.PluginConfigFile{}}
	if f.svc.Implementation(svc) != nil {
		t.Fatal("a configuration without plugin or script resolves to nil")
	}
}

func TestAccountsEmptyCharacterList(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	got, err := f.svc.Accounts(context.Background(), &fakePlugin{}, nil, false)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result: %v", got)
	}
}

func TestAccountsFiltersRecords(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	impl := &fakePlugin{getAccounts: func(context.Context, []plugin.Character) ([]plugin.Account, error) {
		return []plugin.Account{
			{CharacterID: 100, Username: "good"},
			{CharacterID: 0},
			{CharacterID: 999, Username: "not requested"},
		}, nil
	}}

	got, err := f.svc.Accounts(context.Background(), impl, []player.Character{{ID: 100}}, true)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(got) != 1 || got[0].CharacterID != 100 {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestAccountsPluginDomainErrorPropagates(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	impl := &fakePlugin{getAccounts: func(context.Context, []plugin.Character) ([]plugin.Account, error) {
		return nil, plugin.NewError("service unavailable")
	}}

	_, err := f.svc.Accounts(context.Background(), impl, []player.Character{{ID: 100}}, false)
	var pluginErr *plugin.Error
	if !stderrors.As(err, &pluginErr) {
		t.Fatalf("expected a plugin domain error, got %v", err)
	}
}

func TestAccountsRuntimeFailureYieldsEmpty(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	impl := &fakePlugin{getAccounts: func(context.Context, []plugin.Character) ([]plugin.Account, error) {
		return nil, stderrors.New("connection refused")
	}}
	got, err := f.svc.Accounts(context.Background(), impl, []player.Character{{ID: 100}}, false)
	if err != nil {
		t.Fatalf("runtime failures are swallowed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result: %v", got)
	}
}

func TestAccountsPanicIsolated(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	impl := &fakePlugin{getAccounts: func(context.Context, []plugin.Character) ([]plugin.Account, error) {
		panic("plugin bug")
	}}
	got, err := f.svc.Accounts(context.Background(), impl, []player.Character{{ID: 100}}, false)
	if err != nil {
		t.Fatalf("a panicking plugin must not fail the host: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result: %v", got)
	}
}

func TestAccountsDeadlineApplied(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})
	f.svc.WithCallTimeout(50 * time.Millisecond)

	impl := &fakePlugin{getAccounts: func(ctx context.Context, _ []plugin.Character) ([]plugin.Account, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("plugin call should carry a deadline")
		}
		if time.Until(deadline) > time.Second {
			t.Fatalf("deadline too far out: %v", deadline)
		}
		return nil, nil
	}}
	if _, err := f.svc.Accounts(context.Background(), impl, []player.Character{{ID: 100}}, false); err != nil {
		t.Fatalf("accounts: %v", err)
	}
}

func TestNotifyConfigurationChangeSwallowsErrors(t *testing.T) {
	f := newFixture(t, accounts.DeactivationPolicy{})

	f.registry.Register("notify", plugin.Info{}, func(*logger.Logger, plugin.Configuration) (plugin.Plugin, error) {
		return &fakePlugin{onChange: func(context.Context) error {
			return plugin.NewError("reload failed")
		}}, nil
	})

	svc := service.Service{ConfigurationFile: &service.PluginConfigFile{Plugin: "notify"}}
	// Must not panic or propagate anything.
	f.svc.NotifyConfigurationChange(context.Background(), svc)
}
