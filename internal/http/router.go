package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router stdlib ServeMux 封装（避免引入第三方路由依赖）
// 各 handler 自己做方法/子路径分发，Router 只负责挂载和健康检查
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewRouter 创建 Router
func NewRouter(logger *zap.Logger) *Router {
	r := &Router{mux: http.NewServeMux(), logger: logger}
	r.mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	return r
}

// Handle 挂载路由
func (rt *Router) Handle(pattern string, h http.Handler) {
	rt.mux.Handle(pattern, h)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}
