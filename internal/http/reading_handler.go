package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/repository"
	"glucowatch/internal/service"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// readingResponse 读数响应 DTO
type readingResponse struct {
	ReadingID      string     `json:"readingId"`
	AthleteID      string     `json:"athleteId"`
	RecordedBy     string     `json:"recordedBy"`
	Value          float64    `json:"value"`
	Unit           string     `json:"unit"`
	RecordedAt     time.Time  `json:"recordedAt"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

func toReadingResponse(r *domain.Reading) *readingResponse {
	if r == nil {
		return nil
	}
	return &readingResponse{
		ReadingID:      r.ReadingID,
		AthleteID:      r.AthleteID,
		RecordedBy:     r.RecordedBy,
		Value:          r.Value,
		Unit:           r.Unit,
		RecordedAt:     r.RecordedAt,
		Source:         string(r.Source),
		Status:         string(r.Status),
		AcknowledgedAt: r.AcknowledgedAt,
	}
}

// ReadingHandler 读数相关端点
//   - POST /api/v1/readings              手动录入
//   - GET  /api/v1/readings              历史查询
//   - GET  /api/v1/readings/export       xlsx 导出
//   - POST /api/v1/readings/{id}/ack     运动员确认 LOW 读数
type ReadingHandler struct {
	readings *service.ReadingService
	logger   *zap.Logger
}

// NewReadingHandler 创建 ReadingHandler
func NewReadingHandler(readings *service.ReadingService, logger *zap.Logger) *ReadingHandler {
	return &ReadingHandler{readings: readings, logger: logger}
}

// Register 挂载路由
func (h *ReadingHandler) Register(r *Router) {
	r.Handle("/api/v1/readings", h)
	r.Handle("/api/v1/readings/", h)
}

func (h *ReadingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/readings")

	switch {
	case path == "" || path == "/":
		switch r.Method {
		case http.MethodPost:
			h.create(w, r)
		case http.MethodGet:
			h.list(w, r)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		}
	case path == "/export" && r.Method == http.MethodGet:
		h.export(w, r)
	case strings.HasSuffix(path, "/ack") && r.Method == http.MethodPost:
		readingID := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/ack")
		h.acknowledge(w, r, readingID)
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// create 手动录入（value 允许字符串或数字，由服务层校验）
func (h *ReadingHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req struct {
		AthleteID  string `json:"athleteId"`
		Value      any    `json:"value"`
		Unit       string `json:"unit"`
		RecordedAt string `json:"recordedAt"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	rawValue := ""
	if req.Value != nil {
		rawValue = fmt.Sprintf("%v", req.Value)
	}

	var recordedAt time.Time
	if req.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid recordedAt: expected RFC3339"))
			return
		}
		recordedAt = t
	}

	result, err := h.readings.ManualEntry(r.Context(), req.AthleteID, userID, rawValue, req.Unit, recordedAt)
	if err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("Manual entry failed",
			zap.String("athlete_id", req.AthleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to record reading"))
		return
	}

	if result.NoNewData {
		writeJSON(w, http.StatusOK, Warn[any]("duplicate reading ignored", nil))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toReadingResponse(result.Reading)))
}

func (h *ReadingHandler) list(w http.ResponseWriter, r *http.Request) {
	athleteID := r.URL.Query().Get("athleteId")
	if athleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}
	hours := parseInt(r.URL.Query().Get("hours"), 24)

	readings, err := h.readings.History(r.Context(), athleteID, time.Duration(hours)*time.Hour)
	if err != nil {
		h.logger.Error("Failed to list readings",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list readings"))
		return
	}

	items := make([]*readingResponse, 0, len(readings))
	for _, reading := range readings {
		items = append(items, toReadingResponse(reading))
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// export xlsx 导出（家长离线查看/分享给教练）
func (h *ReadingHandler) export(w http.ResponseWriter, r *http.Request) {
	athleteID := r.URL.Query().Get("athleteId")
	if athleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}
	hours := parseInt(r.URL.Query().Get("hours"), 24)

	readings, err := h.readings.History(r.Context(), athleteID, time.Duration(hours)*time.Hour)
	if err != nil {
		h.logger.Error("Failed to load readings for export",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export readings"))
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	_ = f.SetSheetRow(sheet, "A1", &[]any{"Recorded At", "Value", "Unit", "Status", "Source", "Acknowledged At"})
	for i, reading := range readings {
		ackAt := ""
		if reading.AcknowledgedAt != nil {
			ackAt = reading.AcknowledgedAt.Format(time.RFC3339)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(sheet, cell, &[]any{
			reading.RecordedAt.Format(time.RFC3339),
			reading.Value,
			reading.Unit,
			string(reading.Status),
			string(reading.Source),
			ackAt,
		})
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=readings-%s.xlsx", athleteID))
	if err := f.Write(w); err != nil {
		h.logger.Error("Failed to write xlsx",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}
}

func (h *ReadingHandler) acknowledge(w http.ResponseWriter, r *http.Request, readingID string) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	if readingID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("reading ID is required"))
		return
	}

	if err := h.readings.Acknowledge(r.Context(), userID, readingID); err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusForbidden, Fail(err.Error()))
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("reading not found"))
			return
		}
		h.logger.Error("Failed to acknowledge reading",
			zap.String("reading_id", readingID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to acknowledge reading"))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
