package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glucowatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhook_IngestsReading(t *testing.T) {
	svc, readings, _ := newReadingServiceFixture()
	h := NewWebhookHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/readings",
		strings.NewReader(`{"athleteId":"athlete-1","value":250,"unit":"mg/dL"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope Result[readingResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "HIGH", envelope.Result.Status)
	require.Len(t, readings.readings, 1)
	assert.Equal(t, domain.SourceDexcom, readings.readings[0].Source)
}

func TestWebhook_DuplicateIgnored(t *testing.T) {
	svc, readings, _ := newReadingServiceFixture()
	readings.readings = []*domain.Reading{
		{ReadingID: "r-1", AthleteID: "athlete-1", Value: 110, RecordedAt: time.Now().Add(-2 * time.Minute), Source: domain.SourceDexcom},
	}
	h := NewWebhookHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/readings",
		strings.NewReader(`{"athleteId":"athlete-1","value":110}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "warning", envelope.Type)
	assert.Len(t, readings.readings, 1, "duplicate must not be persisted")
}

func TestWebhook_NegativeValueRejected(t *testing.T) {
	svc, readings, _ := newReadingServiceFixture()
	h := NewWebhookHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/readings",
		strings.NewReader(`{"athleteId":"athlete-1","value":-5}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, readings.readings)
}
