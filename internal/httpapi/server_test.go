package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/classifier"
	"github.com/marketpulse/engine/internal/engine"
	"github.com/marketpulse/engine/internal/liquidity"
	"github.com/marketpulse/engine/internal/logx"
	"github.com/marketpulse/engine/internal/metrics"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/scheduler"
)

type nopSender struct{}

func (nopSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) { return tgbotapi.Message{}, nil }

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	log := logx.New()
	met := metrics.New()
	sched := scheduler.New(scheduler.DefaultConfig(), log)
	analyzer := liquidity.New(50, nil)
	clf := classifier.New(classifier.ProfileAggressive)
	sink := notify.NewSink(nopSender{}, 1, zerolog.Nop())

	eng := engine.New(engine.DefaultConfig("ETHUSDT"), log, met, sched, analyzer, clf, sink)
	s := New(Config{WebhookSecurityToken: token}, eng, met)
	return s
}

func doRequest(s *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsServiceIdentity(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "marketpulse-engine", body["service"])
	assert.Equal(t, false, body["running"])
}

func TestStatusReturns503BeforeReady(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusReturns200AfterReady(t *testing.T) {
	s := newTestServer(t, "secret")
	s.SetReady(true)
	rec := doRequest(s, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerformanceReturns503BeforeReady(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodGet, "/performance", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookRejectsMissingBearerToken(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodPost, "/webhook/whale-transactions", []byte(`{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsWrongToken(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodPost, "/webhook/whale-transactions", []byte(`{}`),
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookAcceptsValidTokenAndCountsTransactions(t *testing.T) {
	s := newTestServer(t, "secret")
	payload := []byte(`{"matchingTransactions":[{"hash":"0xabc","value":"1000000000000000000","from":"0xfrom","to":"0xto"}]}`)

	rec := doRequest(s, http.MethodPost, "/webhook/whale-transactions", payload,
		map[string]string{"Authorization": "Bearer secret"})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["transactions"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(s, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
