package httpapi

import (
	"net/http"
	"strings"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// userResponse 用户响应 DTO（绝不回传 password hash）
type userResponse struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *domain.User) *userResponse {
	return &userResponse{
		UserID:    u.UserID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

// UserHandler 用户管理端点
//   - POST /api/v1/users     创建用户（管理端）
//   - GET  /api/v1/athletes  当前家长关联的运动员列表
type UserHandler struct {
	users  repository.UsersRepository
	logger *zap.Logger
}

// NewUserHandler 创建 UserHandler
func NewUserHandler(users repository.UsersRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Register 挂载路由
func (h *UserHandler) Register(r *Router) {
	r.Handle("/api/v1/users", h)
	r.Handle("/api/v1/athletes", h)
}

func (h *UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/users" && r.Method == http.MethodPost:
		h.create(w, r)
	case r.URL.Path == "/api/v1/athletes" && r.Method == http.MethodGet:
		h.listAthletes(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
	}
}

func (h *UserHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("name and email are required"))
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, Fail("password must be at least 8 characters"))
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail("failed to create user"))
		return
	}

	user := &domain.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         role,
	}
	userID, err := h.users.CreateUser(r.Context(), user)
	if err != nil {
		h.logger.Error("Failed to create user",
			zap.String("email", user.Email),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to create user"))
		return
	}

	h.logger.Info("User created",
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	writeJSON(w, http.StatusOK, Ok(map[string]string{"userId": userID}))
}

func (h *UserHandler) listAthletes(w http.ResponseWriter, r *http.Request) {
	parentID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	athletes, err := h.users.ListAthletesOfParent(r.Context(), parentID)
	if err != nil {
		h.logger.Error("Failed to list athletes",
			zap.String("parent_id", parentID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list athletes"))
		return
	}

	items := make([]*userResponse, 0, len(athletes))
	for _, athlete := range athletes {
		items = append(items, toUserResponse(athlete))
	}
	writeJSON(w, http.StatusOK, Ok(items))
}
