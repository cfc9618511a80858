package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go_certagent/internal/auth"
	"go_certagent/internal/httpx"
	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/all"
	"go_certagent/internal/plugins/targets"
	"go_certagent/internal/renewal"
	"go_certagent/internal/resolver"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	store *renewal.Service
	err   error
	args  plugin.Args
}

func (f *fakeRunner) RunByID(ctx context.Context, id string, args plugin.Args) (*renewal.Renewal, renewal.RenewResult, error) {
	f.args = args
	r, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, renewal.RenewResult{}, err
	}
	if f.err != nil {
		return r, renewal.Failed(time.Now(), f.err), f.err
	}
	return r, renewal.RenewResult{Success: true}, nil
}

type apiHarness struct {
	router *gin.Engine
	store  *renewal.Service
	runner *fakeRunner
	issuer *auth.Issuer
	id     string
}

func newAPIHarness(t *testing.T) *apiHarness {
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	httpx.Log = log

	reg, err := all.Registry()
	require.NoError(t, err)
	store := renewal.NewService(renewal.NewFileBackend(t.TempDir()), reg, renewal.DefaultPeriod, log)

	ren := &renewal.Renewal{
		FriendlyName: "www",
		Options: resolver.Selection{
			Target: &targets.ManualOptions{Hosts: []string{"www.example.com"}},
			Stores: []plugin.Options{},
		},
	}
	require.NoError(t, store.Save(context.Background(), ren, renewal.RenewResult{Success: true, Identifiers: []string{"www.example.com"}}))

	issuer, err := auth.NewIssuer("secret", "certagent", time.Hour)
	require.NoError(t, err)

	runner := &fakeRunner{store: store}
	r := gin.New()
	SetupRouter(r, Deps{Store: store, Runner: runner, Registry: reg, Issuer: issuer})
	return &apiHarness{router: r, store: store, runner: runner, issuer: issuer, id: ren.ID}
}

func (h *apiHarness) do(t *testing.T, method, path, body string, scopes ...string) (*httptest.ResponseRecorder, httpx.Response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if scopes != nil {
		token, _, err := h.issuer.GenerateToken("ops", scopes, 0)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var resp httpx.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestPing(t *testing.T) {
	h := newAPIHarness(t)
	w, resp := h.do(t, http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, httpx.CodeSuccess, resp.Code)
}

func TestAuthRequired(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		header string
		status int
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized, httpx.CodeUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized, httpx.CodeUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized, httpx.CodeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/renewals", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)

			var resp httpx.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	w, resp := h.do(t, http.MethodPost, "/api/v1/renewals/"+h.id+"/run", "", auth.ScopeRead)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, httpx.CodeForbidden, resp.Code)
}

func TestListAndGet(t *testing.T) {
	h := newAPIHarness(t)

	w, resp := h.do(t, http.MethodGet, "/api/v1/renewals", "", auth.ScopeRead)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	item := data["items"].([]any)[0].(map[string]any)
	assert.Equal(t, h.id, item["id"])
	assert.Equal(t, false, item["due"])
	assert.Equal(t, []any{"manual"}, item["plugins"].(map[string]any)["target"])

	w, resp = h.do(t, http.MethodGet, "/api/v1/renewals/"+h.id, "", auth.ScopeRead)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.(map[string]any)["history"], 1)

	w, resp = h.do(t, http.MethodGet, "/api/v1/renewals/missing", "", auth.ScopeRead)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, httpx.CodeNotFound, resp.Code)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		err    error
		status int
		code   int
	}{
		{"success", "", nil, http.StatusOK, httpx.CodeSuccess},
		{"unknown", "missing", nil, http.StatusNotFound, httpx.CodeNotFound},
		{"locked", "", renewal.ErrLocked, http.StatusConflict, httpx.CodeStateConflict},
		{"failed", "", errors.New("ca down"), http.StatusBadGateway, httpx.CodeRenewalFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			h.runner.err = tt.err
			id := tt.id
			if id == "" {
				id = h.id
			}
			w, resp := h.do(t, http.MethodPost, "/api/v1/renewals/"+id+"/run", `{"args":{"host":"a"}}`, auth.ScopeRun)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	h := newAPIHarness(t)
	_, _ = h.do(t, http.MethodPost, "/api/v1/renewals/"+h.id+"/run", `{"args":{"host":"a"}}`, auth.ScopeRun)
	assert.Equal(t, plugin.Args{"host": "a"}, h.runner.args)

	w, resp := h.do(t, http.MethodPost, "/api/v1/renewals/"+h.id+"/run", `{"args":`, auth.ScopeRun)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, httpx.CodeParamInvalid, resp.Code)
}

func TestCancel(t *testing.T) {
	h := newAPIHarness(t)

	w, _ := h.do(t, http.MethodPost, "/api/v1/renewals/"+h.id+"/cancel", "", auth.ScopeRun)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := h.store.Get(context.Background(), h.id)
	assert.ErrorIs(t, err, renewal.ErrNotFound)

	w, _ = h.do(t, http.MethodPost, "/api/v1/renewals/"+h.id+"/cancel", "", auth.ScopeRun)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMe(t *testing.T) {
	h := newAPIHarness(t)
	w, resp := h.do(t, http.MethodGet, "/api/v1/me", "", auth.ScopeRead, auth.ScopeRun)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "ops", data["subject"])
	assert.Equal(t, []any{auth.ScopeRead, auth.ScopeRun}, data["scopes"])
}
