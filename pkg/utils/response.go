package utils

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondInternalError 记录真实错误，只向客户端返回通用信息。
func RespondInternalError(w http.ResponseWriter, area string, err error) {
	log.Printf("[%s] internal error: %v", area, err)
	RespondError(w, http.StatusInternalServerError, "internal server error")
}

// RequestExpired 报告请求本身的 deadline 是否已过。此时 middleware.Timeout 负责写 504，handler 不再写响应。
func RequestExpired(r *http.Request) bool {
	return errors.Is(r.Context().Err(), context.DeadlineExceeded)
}
