package httpapi

import (
	"errors"
	"net/http"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/repository"

	"go.uber.org/zap"
)

type preferencesResponse struct {
	UserID        string    `json:"userId"`
	LowThreshold  float64   `json:"lowThreshold"`
	HighThreshold float64   `json:"highThreshold"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toPreferencesResponse(p *domain.Preferences) *preferencesResponse {
	return &preferencesResponse{
		UserID:        p.UserID,
		LowThreshold:  p.LowThreshold,
		HighThreshold: p.HighThreshold,
		UpdatedAt:     p.UpdatedAt,
	}
}

// PreferencesHandler GET/PUT /api/v1/preferences
// 不存在时返回默认 {70,180}（真正的懒创建发生在首次分类时）
type PreferencesHandler struct {
	prefs  repository.PreferencesRepository
	logger *zap.Logger
}

// NewPreferencesHandler 创建 PreferencesHandler
func NewPreferencesHandler(prefs repository.PreferencesRepository, logger *zap.Logger) *PreferencesHandler {
	return &PreferencesHandler{prefs: prefs, logger: logger}
}

// Register 挂载路由
func (h *PreferencesHandler) Register(r *Router) {
	r.Handle("/api/v1/preferences", h)
}

func (h *PreferencesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
	}
}

func (h *PreferencesHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	if q := r.URL.Query().Get("userId"); q != "" {
		userID = q
	}

	prefs, err := h.prefs.GetPreferences(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, Ok(toPreferencesResponse(domain.DefaultPreferences(userID))))
			return
		}
		h.logger.Error("Failed to load preferences",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load preferences"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toPreferencesResponse(prefs)))
}

func (h *PreferencesHandler) put(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID        string  `json:"userId"`
		LowThreshold  float64 `json:"lowThreshold"`
		HighThreshold float64 `json:"highThreshold"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.UserID != "" {
		userID = req.UserID
	}
	if req.LowThreshold <= 0 || req.HighThreshold <= 0 {
		writeJSON(w, http.StatusBadRequest, Fail("thresholds must be positive"))
		return
	}
	if req.LowThreshold >= req.HighThreshold {
		writeJSON(w, http.StatusBadRequest, Fail("lowThreshold must be below highThreshold"))
		return
	}

	prefs := &domain.Preferences{
		UserID:        userID,
		LowThreshold:  req.LowThreshold,
		HighThreshold: req.HighThreshold,
	}
	if err := h.prefs.SavePreferences(r.Context(), prefs); err != nil {
		h.logger.Error("Failed to save preferences",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to save preferences"))
		return
	}

	h.logger.Info("Preferences updated",
		zap.String("user_id", userID),
		zap.Float64("low_threshold", req.LowThreshold),
		zap.Float64("high_threshold", req.HighThreshold),
	)
	writeJSON(w, http.StatusOK, Ok(toPreferencesResponse(prefs)))
}
