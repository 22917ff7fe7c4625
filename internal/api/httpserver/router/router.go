// Package router wires the orchestration services onto HTTP endpoints.
// The handlers are a thin JSON shell; business rules live in the
// services.
package router

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openapim/devportal/internal/app/domain/api"
	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/identity"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/services/applications"
	"github.com/openapim/devportal/internal/app/services/approvals"
	"github.com/openapim/devportal/internal/app/services/keys"
	"github.com/openapim/devportal/internal/app/services/subscriptions"
	"github.com/openapim/devportal/internal/app/services/tags"
	"github.com/openapim/devportal/internal/metrics"
	"github.com/openapim/devportal/internal/middleware"
	"github.com/openapim/devportal/pkg/logger"
)

// Deps holds everything the router exposes.
type Deps struct {
	Log           *logger.Logger
	Metrics       *metrics.Metrics
	Subscriptions *subscriptions.Service
	Applications  *applications.Service
	Keys          *keys.Service
	Tags          *tags.Service
	Approvals     *approvals.Service
	Auth          *middleware.AuthMiddleware
	CORS          *middleware.CORSMiddleware
	// CallbackToken is the shared secret an external workflow engine must
	// present on the callback endpoint. Empty rejects all callbacks.
	CallbackToken string
}

// New builds the HTTP handler tree.
func New(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	h := &handlers{deps: d}

	r.HandleFunc("/tags", h.listTags).Methods(http.MethodGet)

	r.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications", h.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}", h.updateApplication).Methods(http.MethodPut)
	r.HandleFunc("/applications/{id}", h.removeApplication).Methods(http.MethodDelete)

	r.HandleFunc("/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions", h.subscribe).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions", h.updateSubscription).Methods(http.MethodPut)
	r.HandleFunc("/subscriptions", h.unsubscribe).Methods(http.MethodDelete)

	r.HandleFunc("/applications/{name}/keys", h.requestKeys).Methods(http.MethodPost)
	r.HandleFunc("/applications/{name}/keys/complete", h.completeKeys).Methods(http.MethodPost)
	r.HandleFunc("/keys/regenerate", h.regenerateKeys).Methods(http.MethodPost)

	r.HandleFunc("/workflows/callback", h.workflowCallback).Methods(http.MethodPost)

	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}
	if d.Log != nil {
		r.Use(middleware.Logging(d.Log))
	}

	var handler http.Handler = r
	if d.Auth != nil {
		handler = d.Auth.Handler(handler)
	}
	if d.CORS != nil {
		handler = d.CORS.Handler(handler)
	}
	return handler
}

type handlers struct {
	deps Deps
}

func (h *handlers) caller(r *http.Request) (identity.RequestContext, bool) {
	return middleware.RequestContextFrom(r.Context())
}

type apiRef struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

func (ref apiRef) identifier() api.Identifier {
	return api.Identifier{Provider: ref.Provider, Name: ref.Name, Version: ref.Version}
}

func (h *handlers) listTags(w http.ResponseWriter, r *http.Request) {
	tagList, err := h.deps.Tags.Tags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tagList)
}

func (h *handlers) listApplications(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}
	apps, err := h.deps.Applications.List(r.Context(), rc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *handlers) createApplication(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		Name        string `json:"name"`
		Tier        string `json:"tier"`
		CallbackURL string `json:"callback_url"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.deps.Applications.Create(r.Context(), rc, body.Name, body.Tier, body.CallbackURL, body.Description)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": status})
}

func (h *handlers) updateApplication(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		Name        string `json:"name"`
		Tier        string `json:"tier"`
		CallbackURL string `json:"callback_url"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	app := application.Application{
		ID:          mux.Vars(r)["id"],
		Name:        body.Name,
		Tier:        body.Tier,
		CallbackURL: body.CallbackURL,
		Description: body.Description,
	}
	updated, err := h.deps.Applications.Update(r.Context(), rc, app)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) removeApplication(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	if err := h.deps.Applications.Remove(r.Context(), rc, mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}
	subs, err := h.deps.Subscriptions.ListSubscriptions(r.Context(), rc.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		API           apiRef `json:"api"`
		Tier          string `json:"tier"`
		ApplicationID string `json:"application_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.deps.Subscriptions.Subscribe(r.Context(), rc, body.API.identifier(), body.Tier, body.ApplicationID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": status})
}

func (h *handlers) updateSubscription(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		API           apiRef `json:"api"`
		Tier          string `json:"tier"`
		ApplicationID string `json:"application_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.deps.Subscriptions.UpdateSubscription(r.Context(), rc, body.API.identifier(), body.ApplicationID, body.Tier); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		API           apiRef `json:"api"`
		ApplicationID string `json:"application_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.deps.Subscriptions.Unsubscribe(r.Context(), rc, body.API.identifier(), body.ApplicationID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type keyResult struct {
	State           string   `json:"key_state"`
	AccessToken     string   `json:"access_token,omitempty"`
	ConsumerKey     string   `json:"consumer_key,omitempty"`
	ConsumerSecret  string   `json:"consumer_secret,omitempty"`
	ValiditySecs    int64    `json:"validity_secs,omitempty"`
	TokenScope      string   `json:"token_scope,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	RegenerateAvail bool     `json:"enable_regenerate"`
}

func toKeyResult(res keys.Result) keyResult {
	return keyResult{
		State:           res.State,
		AccessToken:     res.AccessToken,
		ConsumerKey:     res.ConsumerKey,
		ConsumerSecret:  res.ConsumerSecret,
		ValiditySecs:    res.ValiditySecs,
		TokenScope:      res.TokenScope,
		AllowedDomains:  res.AllowedDomains,
		RegenerateAvail: res.RegenerateAvail,
	}
}

func (h *handlers) requestKeys(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		KeyType        string   `json:"key_type"`
		CallbackURL    string   `json:"callback_url"`
		AllowedDomains []string `json:"allowed_domains"`
		Validity       string   `json:"validity"`
		Scopes         string   `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	keyType, err := application.ParseKeyType(body.KeyType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.Keys.RequestRegistration(r.Context(), rc, mux.Vars(r)["name"], keyType,
		body.CallbackURL, body.AllowedDomains, body.Validity, body.Scopes)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResult(res))
}

func (h *handlers) completeKeys(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		KeyType    string `json:"key_type"`
		TokenScope string `json:"token_scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	keyType, err := application.ParseKeyType(body.KeyType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.Keys.CompleteRegistration(r.Context(), rc, mux.Vars(r)["name"], keyType, body.TokenScope)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResult(res))
}

func (h *handlers) regenerateKeys(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("no caller identity"))
		return
	}

	var body struct {
		ApplicationName string   `json:"application_name"`
		Scopes          string   `json:"scopes"`
		OldAccessToken  string   `json:"old_access_token"`
		AllowedDomains  []string `json:"allowed_domains"`
		ConsumerKey     string   `json:"consumer_key"`
		ConsumerSecret  string   `json:"consumer_secret"`
		Validity        string   `json:"validity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.Keys.Regenerate(r.Context(), rc, body.ApplicationName, body.Scopes,
		body.OldAccessToken, body.AllowedDomains, body.ConsumerKey, body.ConsumerSecret, body.Validity)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResult(res))
}

// workflowCallback receives asynchronous outcome reports from an external
// workflow engine. The endpoint flips ledger rows to terminal status, so
// the engine must authenticate with the configured shared token.
func (h *handlers) workflowCallback(w http.ResponseWriter, r *http.Request) {
	if !h.callbackAuthorized(r) {
		writeError(w, http.StatusUnauthorized, errors.New("invalid callback token"))
		return
	}

	var body struct {
		Kind      string `json:"kind"`
		SubjectID string `json:"subject_id"`
		KeyType   string `json:"key_type,omitempty"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind, err := parseKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := workflow.Request{
		Kind:      kind,
		SubjectID: body.SubjectID,
		KeyType:   application.KeyType(body.KeyType),
	}
	if err := h.deps.Approvals.Complete(r.Context(), req, workflow.Status(body.Status)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) callbackAuthorized(r *http.Request) bool {
	if h.deps.CallbackToken == "" {
		return false
	}
	given := r.Header.Get("X-Callback-Token")
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.deps.CallbackToken)) == 1
}

func parseKind(s string) (workflow.Kind, error) {
	for _, kind := range []workflow.Kind{
		workflow.SubscriptionCreation,
		workflow.ApplicationCreation,
		workflow.RegistrationProduction,
		workflow.RegistrationSandbox,
	} {
		if kind.String() == s {
			return kind, nil
		}
	}
	return 0, errors.New("unknown workflow kind: " + s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, subscription.ErrInvalidTier),
		errors.Is(err, application.ErrInactive):
		return http.StatusBadRequest
	case errors.Is(err, subscription.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, application.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, application.ErrNotApproved):
		return http.StatusPreconditionFailed
	case errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
