// Package httpapi exposes the application services over REST.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/step-security-bot/neucore/internal/app"
	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/errors"
	"github.com/step-security-bot/neucore/internal/middleware"
	"github.com/step-security-bot/neucore/internal/plugin"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/api/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/api/services/{id:[0-9]+}/accounts", h.serviceAccounts).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/service-admin").Subrouter()
	admin.Use(requireRole(middleware.RoleServiceAdmin))
	admin.HandleFunc("/list", h.adminList).Methods(http.MethodGet)
	admin.HandleFunc("/configurations", h.adminConfigurations).Methods(http.MethodGet)
	admin.HandleFunc("/create", h.adminCreate).Methods(http.MethodPost)
	admin.HandleFunc("/{id:[0-9]+}", h.adminGet).Methods(http.MethodGet)
	admin.HandleFunc("/{id:[0-9]+}/rename", h.adminRename).Methods(http.MethodPut)
	admin.HandleFunc("/{id:[0-9]+}/delete", h.adminDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/{id:[0-9]+}/save-configuration", h.adminSaveConfiguration).Methods(http.MethodPut)

	settings := r.PathPrefix("/api/settings/eve-login").Subrouter()
	settings.Use(requireRole(middleware.RoleSettingsManager))
	settings.HandleFunc("/list", h.loginList).Methods(http.MethodGet)
	settings.HandleFunc("/add", h.loginAdd).Methods(http.MethodPost)
	settings.HandleFunc("/{id:[0-9]+}/delete", h.loginDelete).Methods(http.MethodDelete)
	settings.HandleFunc("/{id:[0-9]+}/tokens", h.loginTokens).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listServices returns the services visible to the session player, sorted by
// name. A service whose group requirement the player does not meet is simply
// absent, not an error.
func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.ServiceAdmin.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	visible := make([]service.Summary, 0, len(services))
	for _, svc := range services {
		if !svc.Configuration().Active {
			continue
		}
		if h.app.Registration.HasRequiredGroups(r.Context(), svc) {
			visible = append(visible, svc.Summary())
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

// serviceAccounts returns the plugin account records for every character on
// the session player's account.
func (h *handler) serviceAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.app.ServiceAdmin.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if !h.app.Registration.HasRequiredGroups(r.Context(), svc) {
		writeError(w, errors.Forbidden("group requirements not met"))
		return
	}

	impl := h.app.Registration.Implementation(svc)
	if impl == nil {
		writeJSON(w, http.StatusOK, []plugin.Account{})
		return
	}

	characterID, _ := middleware.CharacterID(r.Context())
	p, _, err := h.app.Accounts.PlayerOfCharacter(r.Context(), characterID)
	if err != nil {
		writeError(w, errors.NotFound("character not found"))
		return
	}
	characters, err := h.app.Accounts.Characters(r.Context(), p.ID)
	if err != nil {
		writeError(w, errors.Internal("list characters", err))
		return
	}

	accounts, err := h.app.Registration.Accounts(r.Context(), impl, characters, true)
	if err != nil {
		h.log.WithError(err).WithField("service_id", id).Error("plugin account lookup failed")
		writeError(w, errors.Internal("service implementation failed", err))
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) adminList(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.ServiceAdmin.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *handler) adminConfigurations(w http.ResponseWriter, r *http.Request) {
	configurations, err := h.app.ServiceAdmin.ListConfigurations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurations)
}

func (h *handler) adminGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	svc, err := h.app.ServiceAdmin.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *handler) adminCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation(err.Error()))
		return
	}
	svc, err := h.app.ServiceAdmin.Create(r.Context(), payload.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (h *handler) adminRename(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation(err.Error()))
		return
	}
	svc, err := h.app.ServiceAdmin.Rename(r.Context(), id, payload.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *handler) adminDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.app.ServiceAdmin.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminSaveConfiguration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload struct {
		Configuration string `json:"configuration"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation(err.Error()))
		return
	}
	if err := h.app.ServiceAdmin.SaveConfiguration(r.Context(), id, payload.Configuration); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) loginList(w http.ResponseWriter, r *http.Request) {
	logins, err := h.app.Logins.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logins)
}

// loginAdd accepts a full login object, including the list-typed eveRoles
// field the API itself emits, so listed logins can be posted back unchanged.
func (h *handler) loginAdd(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := decodeJSON(r.Body, &data); err != nil {
		writeError(w, errors.Validation(err.Error()))
		return
	}
	if !evelogin.ValidLoginData(data) {
		writeError(w, errors.Validation("invalid login data"))
		return
	}

	roles := make([]string, 0)
	for _, entry := range data["eveRoles"].([]interface{}) {
		role, ok := entry.(string)
		if !ok {
			writeError(w, errors.Validation("invalid login data"))
			return
		}
		roles = append(roles, role)
	}

	login := evelogin.Login{
		Name:        data["name"].(string),
		Description: data["description"].(string),
		EsiScopes:   data["esiScopes"].(string),
	}
	login.SetEveRoles(roles)

	created, err := h.app.Logins.Create(r.Context(), login)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) loginDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.app.Logins.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) loginTokens(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tokens, err := h.app.Logins.Tokens(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// requireRole guards a subrouter behind a session role.
func requireRole(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !middleware.HasRole(r.Context(), role) {
				writeError(w, errors.Forbidden("missing role "+role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation("invalid id")
	}
	return id, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": svcErr.Message})
}
