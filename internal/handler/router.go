package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-diary/backend/internal/config"
	"github.com/zhouzirui/voice-diary/backend/internal/handler/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/handler/weekly"
	middlewarePkg "github.com/zhouzirui/voice-diary/backend/internal/middleware"
	diaryService "github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	weeklyService "github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/pkg/utils"
)

const healthPingTimeout = 2 * time.Second

// Pinger 是健康检查依赖的存储探活接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.ServerConfig, db Pinger, diarySvc *diaryService.Service, weeklySvc *weeklyService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", handleHealth(db))

	r.Route("/api", func(api chi.Router) {
		diary.New(diarySvc).RegisterRoutes(api)
		weekly.New(weeklySvc).RegisterRoutes(api)
	})

	return r
}

// handleHealth 探测存储连通性，失败时返回 503
func handleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Printf("[health] store ping failed: %v", err)
				utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
