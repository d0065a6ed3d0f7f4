// Package registration resolves persisted service configurations into live
// plugin implementations and brokers calls to them. A defective
// implementation must never take the host down: every call into plugin code
// is isolated, and resolution failures surface as "no implementation", not as
// errors.
package registration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/services/accounts"
	"github.com/step-security-bot/neucore/internal/metrics"
	"github.com/step-security-bot/neucore/internal/plugin"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// DefaultCallTimeout bounds every plugin invocation. A plugin doing its own
// network I/O must not stall a host request indefinitely.
const DefaultCallTimeout = 30 * time.Second

// SessionFunc resolves the authenticated character id for a request context.
type SessionFunc func(ctx context.Context) (int64, bool)

// Service implements service registration: group gating, implementation
// resolution and account lookups.
type Service struct {
	accounts    *accounts.Service
	registry    *plugin.Registry
	session     SessionFunc
	log         *logger.Logger
	callTimeout time.Duration
}

// New constructs a registration service.
func New(accountsSvc *accounts.Service, registry *plugin.Registry, session SessionFunc, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registration")
	}
	if session == nil {
		session = func(context.Context) (int64, bool) { return 0, false }
	}
	return &Service{
		accounts:    accountsSvc,
		registry:    registry,
		session:     session,
		log:         log,
		callTimeout: DefaultCallTimeout,
	}
}

// WithCallTimeout overrides the plugin invocation deadline.
func (s *Service) WithCallTimeout(d time.Duration) *Service {
	if d > 0 {
		s.callTimeout = d
	}
	return s
}

// HasRequiredGroups decides whether the authenticated character's player may
// see and use the service. A service without required groups is open to
// everyone; a gated service additionally fails closed as soon as the player's
// groups are deactivated, without waiting for the grace delay.
func (s *Service) HasRequiredGroups(ctx context.Context, svc service.Service) bool {
	characterID, ok := s.session(ctx)
	if !ok {
		return false
	}

	p, _, err := s.accounts.PlayerOfCharacter(ctx, characterID)
	if err != nil {
		return false
	}

	cfg := svc.Configuration()

	if len(cfg.RequiredGroups) > 0 && s.accounts.GroupsDeactivated(p, true) {
		return false
	}

	hasOneGroup := len(cfg.RequiredGroups) == 0
	for _, groupID := range cfg.RequiredGroups {
		if groupID > 0 && p.HasGroup(groupID) {
			hasOneGroup = true
		}
	}
	return hasOneGroup
}

// CoreGroups returns the plugin-facing group list for a player. Unlike the
// access gate this respects the grace delay, so a plugin does not strip
// affiliations during a short token lapse.
func (s *Service) CoreGroups(p player.Player) []plugin.Group {
	if s.accounts.GroupsDeactivated(p, false) {
		return []plugin.Group{}
	}
	return p.CoreGroups()
}

// Implementation resolves a service's configuration into a live plugin
// instance. It returns nil when the service currently has no usable
// implementation: an unknown entry point, a failed capability probe or a
// construction error are all recoverable conditions, reported through the
// log, never raised.
func (s *Service) Implementation(svc service.Service) plugin.Plugin {
	cfg := svc.Configuration()

	prefix := cfg.ScriptPrefix
	if prefix != "" && cfg.Directory != "" {
		prefix = s.registry.AddScriptPath(prefix, cfg.Directory)
	}

	snapshot := plugin.Configuration{
		ServiceID:         svc.ID,
		RequiredGroups:    coerceGroupIDs(cfg.RequiredGroups),
		ConfigurationData: cfg.ConfigData,
	}
	implLog := s.log.WithField("service_id", svc.ID)

	if cfg.Plugin != "" {
		factory, ok := s.registry.Get(cfg.Plugin)
		if !ok {
			implLog.WithField("plugin", cfg.Plugin).Info("no implementation registered")
			return nil
		}
		impl, err := s.construct(factory, implLog, snapshot)
		if err != nil {
			implLog.WithError(err).WithField("plugin", cfg.Plugin).Error("plugin construction failed")
			return nil
		}
		return impl
	}

	if cfg.Script != "" {
		path := s.resolveScript(cfg, prefix)
		if path == "" {
			implLog.WithField("script", cfg.Script).Info("script implementation not found")
			return nil
		}
		impl, err := plugin.NewScriptPlugin(implLog, snapshot, path)
		if err != nil {
			implLog.WithError(err).WithField("script", path).Error("script plugin rejected")
			return nil
		}
		return impl
	}

	return nil
}

// Accounts queries the implementation for account records of the given
// characters. All characters must belong to the same player; the caller is
// responsible for that. Malformed records and records for characters that
// were not requested are dropped. Only a plugin domain error propagates;
// every other failure is logged and yields an empty result.
func (s *Service) Accounts(
	ctx context.Context,
	impl plugin.Plugin,
	characters []player.Character,
	logErrorOnCharacterMismatch bool,
) ([]plugin.Account, error) {
	if len(characters) == 0 {
		return []plugin.Account{}, nil
	}

	coreCharacters := make([]plugin.Character, 0, len(characters))
	requestedIDs := make(map[int64]bool, len(characters))
	for _, c := range characters {
		coreCharacters = append(coreCharacters, c.ToCoreCharacter())
		requestedIDs[c.ID] = true
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.safeGetAccounts(callCtx, impl, coreCharacters)
	if err != nil {
		var pluginErr *plugin.Error
		if errors.As(err, &pluginErr) {
			metrics.RecordPluginCall("get_accounts", "domain_error", time.Since(start))
			return nil, pluginErr
		}
		metrics.RecordPluginCall("get_accounts", "failure", time.Since(start))
		s.log.WithError(err).Error("plugin account lookup failed")
		return []plugin.Account{}, nil
	}
	metrics.RecordPluginCall("get_accounts", "success", time.Since(start))

	accountData := make([]plugin.Account, 0, len(result))
	for _, account := range result {
		if account.CharacterID <= 0 {
			s.log.Error("plugin returned an account record without a character id")
			continue
		}
		if !requestedIDs[account.CharacterID] {
			if logErrorOnCharacterMismatch {
				s.log.WithField("character_id", account.CharacterID).
					Error("plugin returned an account record for a character that was not requested")
			}
			continue
		}
		accountData = append(accountData, account)
	}
	return accountData, nil
}

// NotifyConfigurationChange tells a service's live implementation that its
// configuration changed. Best effort: the persisted change already succeeded,
// so every failure here, including plugin domain errors, is only logged.
func (s *Service) NotifyConfigurationChange(ctx context.Context, svc service.Service) {
	impl := s.Implementation(svc)
	if impl == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	err := s.safeNotify(callCtx, impl)
	if err != nil {
		metrics.RecordPluginCall("configuration_change", "failure", time.Since(start))
		s.log.WithError(err).WithField("service_id", svc.ID).
			Error("plugin configuration-change notification failed")
		return
	}
	metrics.RecordPluginCall("configuration_change", "success", time.Since(start))
}

// construct invokes a factory with panic isolation.
func (s *Service) construct(factory plugin.Factory, log *logger.Logger, cfg plugin.Configuration) (impl plugin.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			impl = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return factory(log, cfg)
}

// safeGetAccounts invokes the account lookup with panic isolation.
func (s *Service) safeGetAccounts(ctx context.Context, impl plugin.Plugin, characters []plugin.Character) (result []plugin.Account, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return impl.GetAccounts(ctx, characters)
}

// safeNotify invokes the configuration-change hook with panic isolation.
func (s *Service) safeNotify(ctx context.Context, impl plugin.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return impl.OnConfigurationChange(ctx)
}

// resolveScript locates the script file for a configuration. A script
// reference of the form "prefix/name" is searched in the paths registered for
// that prefix; a bare reference resolves inside the service's own directory.
func (s *Service) resolveScript(cfg service.Configuration, prefix string) string {
	script := cfg.Script
	if script == "" {
		script = plugin.ScriptFileName
	}

	if prefix != "" && strings.HasPrefix(script, prefix) {
		relative := strings.TrimPrefix(script, prefix)
		for _, base := range s.registry.ScriptPaths(prefix) {
			candidate := filepath.Join(base, relative)
			if fileExists(candidate) {
				return candidate
			}
		}
		return ""
	}

	if cfg.Directory == "" {
		return ""
	}
	candidate := filepath.Join(cfg.Directory, script)
	if !fileExists(candidate) {
		return ""
	}
	return candidate
}

// coerceGroupIDs copies the required-group list, dropping entries that cannot
// identify a group.
func coerceGroupIDs(groups []int64) []int64 {
	out := make([]int64, 0, len(groups))
	for _, id := range groups {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
