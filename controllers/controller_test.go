package controller_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dripline/metrics"
	"dripline/models"
	"dripline/routes"
	"dripline/sequence"
	"dripline/store"
	"dripline/transport"
	"dripline/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testApp struct {
	app   *fiber.App
	store *store.MemoryStore
	token string
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	seq := sequence.New(st, transport.NewConsole(logger),
		sequence.WithLogger(logger),
		sequence.WithMetrics(m),
		sequence.WithSender("hello@studio.test", "Studio"),
	)

	app := fiber.New()
	routes.SetupRoutes(app, routes.Dependencies{
		Sequencer: seq,
		Leads:     st,
		Logger:    logger,
		JWTSecret: testSecret,
		Metrics:   m,
		Gatherer:  reg,
		RateLimit: 1000,
	})

	token, err := utils.GenerateJWTToken("operator-1", testSecret, time.Hour)
	require.NoError(t, err)

	return &testApp{app: app, store: st, token: token}
}

func (ta *testApp) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ta.token)

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (ta *testApp) createLead(t *testing.T, address string) string {
	t.Helper()
	r := &models.Recipient{ContactAddress: address, Name: "Ada", Company: "Acme"}
	require.NoError(t, ta.store.Create(context.Background(), r))
	return r.ID
}

func TestHealthCheck(t *testing.T) {
	ta := setupTestApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RequiresToken(t *testing.T) {
	ta := setupTestApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err = ta.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateLead(t *testing.T) {
	ta := setupTestApp(t)

	status, body := ta.do(t, http.MethodPost, "/api/v1/leads", `{"contact_address":" Ada@Acme.com ","name":"Ada","company":"Acme"}`)
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ada@acme.com", data["contact_address"])
	assert.Equal(t, "inactive", data["sequence_status"])
	assert.NotEmpty(t, data["id"])

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads", `{"contact_address":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	// leads without an address can be stored but never started
	status, body = ta.do(t, http.MethodPost, "/api/v1/leads", `{"name":"No Email"}`)
	require.Equal(t, http.StatusCreated, status)
	id := body["data"].(map[string]interface{})["id"].(string)

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/sequence", `{"action":"start"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestGetLeads_Paginates(t *testing.T) {
	ta := setupTestApp(t)
	for _, addr := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		ta.createLead(t, addr)
	}

	status, body := ta.do(t, http.MethodGet, "/api/v1/leads?page=1&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["limit"])
	assert.Len(t, body["data"], 2)
}

func TestGetLead(t *testing.T) {
	ta := setupTestApp(t)
	id := ta.createLead(t, "a@x.com")

	status, body := ta.do(t, http.MethodGet, "/api/v1/leads/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["data"].(map[string]interface{})["id"])

	status, _ = ta.do(t, http.MethodGet, "/api/v1/leads/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSequenceLifecycle(t *testing.T) {
	ta := setupTestApp(t)
	id := ta.createLead(t, "a@x.com")
	path := "/api/v1/leads/" + id + "/sequence"

	status, body := ta.do(t, http.MethodPost, path, `{"action":"start"}`)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["emailSent"])
	assert.Equal(t, "active", data["recipient"].(map[string]interface{})["sequence_status"])

	status, _ = ta.do(t, http.MethodPost, path, `{"action":"start"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = ta.do(t, http.MethodPost, path, `{"action":"pause"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = ta.do(t, http.MethodPost, path, `{"action":"resume"}`)
	require.Equal(t, http.StatusOK, status)

	for i := 0; i < 2; i++ {
		status, _ = ta.do(t, http.MethodPost, path, `{"action":"skip"}`)
		require.Equal(t, http.StatusOK, status)
	}
	status, body = ta.do(t, http.MethodPost, path, `{"action":"skip"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Sequence already complete", body["error"])

	status, body = ta.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, float64(3), data["currentStep"])
	assert.Equal(t, float64(3), data["totalSteps"])
	assert.Len(t, data["sentEmails"], 3)
}

func TestSequenceAction_Errors(t *testing.T) {
	ta := setupTestApp(t)
	id := ta.createLead(t, "a@x.com")

	status, _ := ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/sequence", `{"action":"restart"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/sequence", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/sequence", `{"action":"pause"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads/missing/sequence", `{"action":"start"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ta.do(t, http.MethodGet, "/api/v1/leads/missing/sequence", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendManualEmail(t *testing.T) {
	ta := setupTestApp(t)
	id := ta.createLead(t, "a@x.com")

	status, body := ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/emails", `{"subject":"Checking in","html":"<p>Hi</p>"}`)
	require.Equal(t, http.StatusCreated, status)
	record := body["data"].(map[string]interface{})["record"].(map[string]interface{})
	assert.Equal(t, "manual", record["template_key"])
	assert.Equal(t, false, record["is_sequence_step"])

	status, _ = ta.do(t, http.MethodPost, "/api/v1/leads/"+id+"/emails", `{"subject":"Missing body"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ta.do(t, http.MethodGet, "/api/v1/leads/"+id+"/sequence", "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "inactive", data["status"])
	assert.Equal(t, float64(0), data["currentStep"])
}

func TestMetricsEndpoint(t *testing.T) {
	ta := setupTestApp(t)
	ta.do(t, http.MethodGet, "/api/v1/leads", "")

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}
