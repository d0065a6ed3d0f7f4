package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/services/accounts"
	loginsvc "github.com/step-security-bot/neucore/internal/app/services/logins"
	"github.com/step-security-bot/neucore/internal/app/services/registration"
	"github.com/step-security-bot/neucore/internal/app/services/serviceadmin"
	"github.com/step-security-bot/neucore/internal/app/storage"
	"github.com/step-security-bot/neucore/internal/app/storage/memory"
	"github.com/step-security-bot/neucore/internal/app/system"
	"github.com/step-security-bot/neucore/internal/plugin"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Services storage.ServiceStore
	Logins   storage.LoginStore
	Players  storage.PlayerStore
}

// Options carries the application wiring that is not a store.
type Options struct {
	Registry        *plugin.Registry
	Session         registration.SessionFunc
	Policy          accounts.DeactivationPolicy
	PluginDir       string
	UpdaterSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts     *accounts.Service
	Registration *registration.Service
	ServiceAdmin *serviceadmin.Service
	Logins       *loginsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Services == nil {
		stores.Services = mem
	}
	if stores.Logins == nil {
		stores.Logins = mem
	}
	if stores.Players == nil {
		stores.Players = mem
	}
	if opts.Registry == nil {
		opts.Registry = plugin.NewRegistry()
	}

	manager := system.NewManager()

	accountsService := accounts.New(stores.Players, stores.Logins, opts.Policy, log)
	registrationService := registration.New(accountsService, opts.Registry, opts.Session, log)
	adminService := serviceadmin.New(stores.Services, registrationService, opts.PluginDir, log)
	loginsService := loginsvc.New(stores.Logins, log)

	if err := ensureInternalLogins(context.Background(), stores.Logins); err != nil {
		return nil, fmt.Errorf("seed internal logins: %w", err)
	}

	for _, name := range []string{"registration", "service-admin", "logins"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	updater := accounts.NewGroupUpdater(accountsService, opts.UpdaterSchedule, log)
	if err := manager.Register(updater); err != nil {
		return nil, fmt.Errorf("register %s: %w", updater.Name(), err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		Accounts:     accountsService,
		Registration: registrationService,
		ServiceAdmin: adminService,
		Logins:       loginsService,
	}, nil
}

// ensureInternalLogins creates the fixed internal login profiles that the rest
// of the system assumes exist.
func ensureInternalLogins(ctx context.Context, store storage.LoginStore) error {
	for _, name := range evelogin.InternalNames {
		_, err := store.GetLoginByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if _, err := store.CreateLogin(ctx, evelogin.Login{Name: name}); err != nil {
			return err
		}
	}
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
