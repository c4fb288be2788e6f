package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sewaghar/internal/auth"
	"github.com/example/sewaghar/internal/lifecycle"
	"github.com/example/sewaghar/internal/models"
	"github.com/example/sewaghar/internal/routing"
	"github.com/example/sewaghar/internal/storage"
	"github.com/example/sewaghar/internal/telemetry"
)

type testAPI struct {
	server    *httptest.Server
	auth      *auth.Manager
	telemetry telemetry.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	tele := telemetry.NewMemoryStore()
	am := auth.NewManager("test-secret", time.Hour)

	srv := NewServer(Deps{
		Lifecycle: lifecycle.NewService(store, logger),
		Telemetry: tele,
		Routing:   routing.NewClient(""),
		Auth:      am,
		Logger:    logger,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testAPI{server: ts, auth: am, telemetry: tele}
}

func (a *testAPI) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := a.auth.Issue(auth.Identity{ID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func submitBody() map[string]any {
	return map[string]any{
		"title":          "Paint living room",
		"description":    "Two coats, walls only",
		"category":       "Painting",
		"location":       "Bhaktapur",
		"wage":           1500,
		"contact_number": "9800000001",
	}
}

func TestSubmitRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, "POST", "/api/v1/requests", "", submitBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitRequiresCustomerRole(t *testing.T) {
	api := newTestAPI(t)
	provider := api.token(t, "prov-1", auth.RoleProvider)
	resp, _ := api.do(t, "POST", "/api/v1/requests", provider, submitBody())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitValidationError(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)
	body := submitBody()
	body["wage"] = 0
	resp, _ := api.do(t, "POST", "/api/v1/requests", customer, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectsInvalidToken(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, "POST", "/api/v1/requests", "garbage-token", submitBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)
	provider := api.token(t, "prov-1", auth.RoleProvider)

	resp, data := api.do(t, "POST", "/api/v1/requests", customer, submitBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created models.ServiceRequest
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, models.StatusPending, created.Status)

	// Provider sees it in the available feed.
	resp, data = api.do(t, "GET", "/api/v1/requests/available", provider, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail []models.ServiceRequest
	require.NoError(t, json.Unmarshal(data, &avail))
	require.Len(t, avail, 1)

	resp, data = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/accept", provider, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var accepted models.ServiceRequest
	require.NoError(t, json.Unmarshal(data, &accepted))
	assert.Equal(t, models.StatusAccepted, accepted.Status)

	// Second accept hits the conflict guard.
	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/accept", api.token(t, "prov-2", auth.RoleProvider), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Only the customer completes.
	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/complete", provider, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/complete", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	// Accepting a completed request is an invalid state, not a conflict.
	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/accept", provider, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, data = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/rating", customer, map[string]any{"score": 5, "comment": "great work"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var summary models.RatingSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, int64(1), summary.Count)

	// Second rating on the same request is rejected.
	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/rating", customer, map[string]any{"score": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, data = api.do(t, "GET", "/api/v1/users/prov-1/ratings", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Ratings []models.Rating      `json:"ratings"`
		Summary models.RatingSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out.Ratings, 1)
	assert.InDelta(t, 5.0, out.Summary.Mean, 1e-9)
}

func TestDeclineRemovesFromAvailableFeed(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)
	provider := api.token(t, "prov-1", auth.RoleProvider)

	resp, data := api.do(t, "POST", "/api/v1/requests", customer, submitBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.ServiceRequest
	require.NoError(t, json.Unmarshal(data, &created))

	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/decline", provider, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	// Declines are idempotent.
	resp, _ = api.do(t, "POST", "/api/v1/requests/"+created.ID+"/decline", provider, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = api.do(t, "GET", "/api/v1/requests/available", provider, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail []models.ServiceRequest
	require.NoError(t, json.Unmarshal(data, &avail))
	assert.Empty(t, avail)
}

func TestPublishAndQueryLocation(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)
	provider := api.token(t, "prov-1", auth.RoleProvider)

	resp, _ := api.do(t, "POST", "/internal/provider/locations", provider, map[string]any{
		"latitude":  27.7172,
		"longitude": 85.3240,
		"status":    "en_route",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data := api.do(t, "GET", "/api/v1/providers/prov-1/location", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loc models.ProviderLocation
	require.NoError(t, json.Unmarshal(data, &loc))
	assert.Equal(t, "prov-1", loc.ProviderID)
	assert.Equal(t, models.ProviderEnRoute, loc.Status)

	resp, _ = api.do(t, "GET", "/api/v1/providers/prov-9/location", customer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	path := fmt.Sprintf("/api/v1/providers/nearby?lat=%f&lon=%f&radius_km=5", 27.7172, 85.3240)
	resp, data = api.do(t, "GET", path, customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nearby []models.ProviderLocation
	require.NoError(t, json.Unmarshal(data, &nearby))
	require.Len(t, nearby, 1)
	assert.Equal(t, "prov-1", nearby[0].ProviderID)
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)
	resp, _ := api.do(t, "GET", "/api/v1/providers/nearby", customer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouteFallbackWithoutAPIKey(t *testing.T) {
	api := newTestAPI(t)
	customer := api.token(t, "cust-1", auth.RoleCustomer)

	path := "/api/v1/route?from_lat=27.7172&from_lon=85.3240&to_lat=27.6644&to_lon=85.3188"
	resp, data := api.do(t, "GET", path, customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var route models.RouteInfo
	require.NoError(t, json.Unmarshal(data, &route))
	assert.Len(t, route.Points, 2)
	assert.Zero(t, route.DurationSeconds)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp, data := api.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(data))
}
