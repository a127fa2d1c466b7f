package httpapi

import (
	"net/http"
	"strings"

	"glucowatch/internal/dexcom"
	"glucowatch/internal/repository"
	"glucowatch/internal/service"
	"glucowatch/internal/store"

	"go.uber.org/zap"
)

// ReauthClearer OAuth 重连成功后恢复该运动员的自动轮询
type ReauthClearer interface {
	ClearReauth(athleteID string)
}

// DexcomHandler Dexcom OAuth 连接管理
//   - GET    /api/v1/dexcom/connect   构建授权跳转地址
//   - GET    /api/v1/dexcom/callback  授权码换 token 并保存
//   - DELETE /api/v1/dexcom/link      断开连接
type DexcomHandler struct {
	tokens    *service.TokenService
	client    *dexcom.Client
	users     repository.UsersRepository
	poller    ReauthClearer
	kv        store.KV
	keyPrefix string
	keySuffix string
	logger    *zap.Logger
}

// NewDexcomHandler 创建 DexcomHandler
func NewDexcomHandler(
	tokens *service.TokenService,
	client *dexcom.Client,
	users repository.UsersRepository,
	poller ReauthClearer,
	kv store.KV,
	keyPrefix, keySuffix string,
	logger *zap.Logger,
) *DexcomHandler {
	return &DexcomHandler{
		tokens:    tokens,
		client:    client,
		users:     users,
		poller:    poller,
		kv:        kv,
		keyPrefix: keyPrefix,
		keySuffix: keySuffix,
		logger:    logger,
	}
}

// Register 挂载路由
func (h *DexcomHandler) Register(r *Router) {
	r.Handle("/api/v1/dexcom/", h)
}

func (h *DexcomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/dexcom")

	switch {
	case path == "/connect" && r.Method == http.MethodGet:
		h.connect(w, r)
	case path == "/callback" && r.Method == http.MethodGet:
		h.callback(w, r)
	case path == "/link" && r.Method == http.MethodDelete:
		h.unlink(w, r)
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// connect 家长为运动员发起授权；state 携带 (parent, athlete) 归属
func (h *DexcomHandler) connect(w http.ResponseWriter, r *http.Request) {
	parentID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	athleteID := r.URL.Query().Get("athleteId")
	if athleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}

	state := parentID + ":" + athleteID
	writeJSON(w, http.StatusOK, Ok(map[string]string{"url": h.client.AuthorizeURL(state)}))
}

// callback 授权码换 token，保存连接，恢复自动轮询
func (h *DexcomHandler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, Fail("code and state are required"))
		return
	}

	parts := strings.SplitN(state, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeJSON(w, http.StatusBadRequest, Fail("malformed state"))
		return
	}
	parentID, athleteID := parts[0], parts[1]

	if _, err := h.tokens.SaveFromExchange(r.Context(), parentID, athleteID, code); err != nil {
		h.logger.Error("Dexcom code exchange failed",
			zap.String("parent_id", parentID),
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, Fail("failed to exchange authorization code"))
		return
	}

	// 关联关系随连接一起建立（重复 link 为幂等 upsert）
	if err := h.users.LinkParentAthlete(r.Context(), parentID, athleteID); err != nil {
		h.logger.Warn("Failed to link parent and athlete",
			zap.String("parent_id", parentID),
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}

	h.poller.ClearReauth(athleteID)
	writeJSON(w, http.StatusOK, Ok(map[string]string{"athleteId": athleteID}))
}

func (h *DexcomHandler) unlink(w http.ResponseWriter, r *http.Request) {
	parentID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	athleteID := r.URL.Query().Get("athleteId")
	if athleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}

	if err := h.tokens.Unlink(r.Context(), parentID, athleteID); err != nil {
		h.logger.Error("Failed to unlink Dexcom connection",
			zap.String("parent_id", parentID),
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to unlink"))
		return
	}

	// 断开后缓存的最新状态不再可信，立即失效而不是等 TTL
	if err := h.kv.Del(r.Context(), h.keyPrefix+athleteID+h.keySuffix); err != nil {
		h.logger.Warn("Failed to evict cached status",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
