package weekly

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	diarymodel "github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	weeklyService "github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/pkg/utils"
)

// Handler 周报的HTTP处理器
type Handler struct {
	svc *weeklyService.Service
}

// New 创建周报处理器
func New(svc *weeklyService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册周报路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/weekly-review", h.handleWeeklyReview)
}

type weeklyResponse struct {
	Days []diarymodel.WeeklyDay `json:"days"`
}

// handleWeeklyReview 返回最近 7 天的情绪序列，tz 可覆盖默认时区
func (h *Handler) handleWeeklyReview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	deviceID := strings.TrimSpace(query.Get("deviceId"))
	if deviceID == "" {
		utils.RespondError(w, http.StatusBadRequest, weeklyService.ErrDeviceIDRequired.Error())
		return
	}

	var loc *time.Location
	if tz := strings.TrimSpace(query.Get("tz")); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "tz must be an IANA time zone name")
			return
		}
		loc = parsed
	}

	days, err := h.svc.Week(r.Context(), deviceID, loc)
	if err != nil && utils.RequestExpired(r) {
		log.Printf("[weekly] request deadline exceeded: %v", err)
		return
	}
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, weeklyResponse{Days: days})
	case errors.Is(err, weeklyService.ErrDeviceIDRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		utils.RespondInternalError(w, "weekly", err)
	}
}
