package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRefresher struct {
	result service.PipelineResult
	calls  int
}

func (f *fakeRefresher) PollAthlete(ctx context.Context, athleteID string) service.PipelineResult {
	f.calls++
	return f.result
}

func doRefresh(t *testing.T, h *PollHandler, body string) (*httptest.ResponseRecorder, Result[json.RawMessage]) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/poll/refresh", strings.NewReader(body))
	req.Header.Set("X-User-Id", "parent-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var envelope Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

func TestRefresh_Success(t *testing.T) {
	refresher := &fakeRefresher{result: service.ResultSuccess(&domain.Reading{
		ReadingID:  "r-1",
		AthleteID:  "athlete-1",
		Value:      110,
		Unit:       "mg/dL",
		Status:     domain.StatusOK,
		Source:     domain.SourceDexcom,
		RecordedAt: time.Now(),
	})}
	h := NewPollHandler(refresher, zap.NewNop())

	rec, envelope := doRefresh(t, h, `{"athleteId":"athlete-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, envelope.Code)
	assert.Equal(t, 1, refresher.calls)
}

func TestRefresh_NoNewData(t *testing.T) {
	h := NewPollHandler(&fakeRefresher{result: service.ResultNoNewData()}, zap.NewNop())

	rec, envelope := doRefresh(t, h, `{"athleteId":"athlete-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warning", envelope.Type)
	assert.Contains(t, envelope.Message, "has not updated yet")
}

func TestRefresh_NeedsReauth(t *testing.T) {
	h := NewPollHandler(&fakeRefresher{result: service.ResultNeedsReauth("reauth needed")}, zap.NewNop())

	rec, envelope := doRefresh(t, h, `{"athleteId":"athlete-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultReauth, envelope.Code)
}

func TestRefresh_Collision(t *testing.T) {
	h := NewPollHandler(&fakeRefresher{result: service.ResultError("poll already in progress")}, zap.NewNop())

	rec, envelope := doRefresh(t, h, `{"athleteId":"athlete-1"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "error", envelope.Type)
}

func TestRefresh_MissingAthleteID(t *testing.T) {
	refresher := &fakeRefresher{}
	h := NewPollHandler(refresher, zap.NewNop())

	rec, _ := doRefresh(t, h, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, refresher.calls)
}
