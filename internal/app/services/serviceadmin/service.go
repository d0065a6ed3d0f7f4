// Package serviceadmin implements the administrative surface for service
// records: create, rename, delete, configuration edits and the listing of
// installed plugin descriptors.
package serviceadmin

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/services/registration"
	"github.com/step-security-bot/neucore/internal/app/storage"
	"github.com/step-security-bot/neucore/internal/errors"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// DescriptorFileName is the plugin descriptor expected in every plugin
// directory.
const DescriptorFileName = "plugin.yml"

// Service manages service records on behalf of the service-admin role. Role
// enforcement happens upstream in the HTTP layer.
type Service struct {
	store        storage.ServiceStore
	registration *registration.Service
	installDir   string
	log          *logger.Logger
}

// New constructs a service-admin service. installDir is the operator-managed
// plugin installation directory; empty disables descriptor listing.
func New(store storage.ServiceStore, reg *registration.Service, installDir string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("service-admin")
	}
	return &Service{store: store, registration: reg, installDir: installDir, log: log}
}

// List returns all services ordered by name.
func (s *Service) List(ctx context.Context) ([]service.Summary, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, errors.Internal("list services", err)
	}
	summaries := make([]service.Summary, 0, len(services))
	for _, svc := range services {
		summaries = append(summaries, svc.Summary())
	}
	return summaries, nil
}

// ListAll returns all services with their full configurations, ordered by
// name.
func (s *Service) ListAll(ctx context.Context) ([]service.Service, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, errors.Internal("list services", err)
	}
	return services, nil
}

// Get returns one service with its full configuration.
func (s *Service) Get(ctx context.Context, id int64) (service.Service, error) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return service.Service{}, s.storeError(err, id)
	}
	return svc, nil
}

// Create persists a new service with the given name.
func (s *Service) Create(ctx context.Context, name string) (service.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return service.Service{}, errors.Validation("service name is missing")
	}

	svc, err := s.store.CreateService(ctx, service.Service{Name: name})
	if err != nil {
		return service.Service{}, errors.Internal("create service", err)
	}
	s.log.WithField("service_id", svc.ID).WithField("name", name).Info("service created")
	return svc, nil
}

// Rename changes a service's name.
func (s *Service) Rename(ctx context.Context, id int64, name string) (service.Service, error) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return service.Service{}, s.storeError(err, id)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return service.Service{}, errors.Validation("service name is missing")
	}

	svc.Name = name
	updated, err := s.store.UpdateService(ctx, svc)
	if err != nil {
		return service.Service{}, errors.Internal("rename service", err)
	}
	return updated, nil
}

// Delete removes a service record.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteService(ctx, id); err != nil {
		return s.storeError(err, id)
	}
	s.log.WithField("service_id", id).Info("service deleted")
	return nil
}

// SaveConfiguration validates and persists an administrator-supplied
// configuration document, then notifies the live implementation. The
// notification runs only after the persisted update succeeded and can never
// fail the request: the save already happened.
func (s *Service) SaveConfiguration(ctx context.Context, id int64, configuration string) error {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return s.storeError(err, id)
	}

	if !gjson.Valid(configuration) || !gjson.Parse(configuration).IsObject() {
		return errors.Validation("configuration is not a JSON object")
	}
	cfg, err := service.ConfigFromJSON([]byte(configuration))
	if err != nil {
		return errors.Validation(err.Error())
	}

	svc.ConfigurationDatabase = &cfg
	if _, err := s.store.UpdateService(ctx, svc); err != nil {
		return errors.Internal("save configuration", err)
	}

	s.registration.NotifyConfigurationChange(ctx, svc)
	return nil
}

// ListConfigurations scans the plugin installation directory and parses every
// plugin.yml it finds. One unparseable descriptor fails the whole listing: a
// broken plugin install is an operator error that should surface loudly, not
// disappear from the list.
func (s *Service) ListConfigurations(ctx context.Context) ([]service.PluginConfigFile, error) {
	if s.installDir == "" {
		return []service.PluginConfigFile{}, nil
	}

	entries, err := os.ReadDir(s.installDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []service.PluginConfigFile{}, nil
		}
		return nil, errors.Internal("read plugin directory", err)
	}

	configurations := make([]service.PluginConfigFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		descriptor := filepath.Join(s.installDir, entry.Name(), DescriptorFileName)
		data, err := os.ReadFile(descriptor)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Internal(fmt.Sprintf("read %s", descriptor), err)
		}

		var cfg service.PluginConfigFile
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Internal(fmt.Sprintf("parse %s", descriptor), err)
		}
		cfg.Directory = filepath.Join(s.installDir, entry.Name())
		configurations = append(configurations, cfg)
	}
	return configurations, nil
}

func (s *Service) storeError(err error, id int64) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound(fmt.Sprintf("service %d not found", id))
	}
	return errors.Internal("service lookup", err)
}
