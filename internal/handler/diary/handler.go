package diary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	diarymodel "github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	diaryService "github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
	"github.com/zhouzirui/voice-diary/backend/pkg/utils"
)

// MaxUploadBytes 是单次音频上传的上限。
const MaxUploadBytes = 32 << 20

// Handler 日记会话的HTTP处理器
type Handler struct {
	svc            *diaryService.Service
	maxUploadBytes int64
}

// New 创建日记处理器
func New(svc *diaryService.Service) *Handler {
	return &Handler{svc: svc, maxUploadBytes: MaxUploadBytes}
}

// RegisterRoutes 注册 /diary 下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/diary", func(r chi.Router) {
		r.Post("/start", h.handleStart)
		r.Post("/respond", h.handleRespond)
		r.Post("/reflect", h.handleReflect)
		r.Post("/end", h.handleEnd)
		r.Post("/analyze", h.handleAnalyze)
	})
}

type startRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

type endRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type analyzeRequest struct {
	Transcript string `json:"transcript" validate:"required"`
}

// handleStart 开启新会话
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload startRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.svc.Start(r.Context(), payload.DeviceID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, result)
}

// handleRespond 处理一轮语音输入
func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	upload, err := readUpload(w, r, h.maxUploadBytes)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	result, err := h.svc.Respond(r.Context(), sessionID, upload.data, upload.mimeType)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleReflect 无状态版本，历史由客户端携带
func (h *Handler) handleReflect(w http.ResponseWriter, r *http.Request) {
	upload, err := readUpload(w, r, h.maxUploadBytes)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	history, err := parseHistory(r.FormValue("history"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.svc.Reflect(r.Context(), history, upload.data, upload.mimeType)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleEnd 结束会话并返回情绪摘要
func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var payload endRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.svc.End(r.Context(), payload.SessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleAnalyze 对文本做情绪分析
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload analyzeRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.svc.Analyze(r.Context(), payload.Transcript)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

type upload struct {
	data     []byte
	mimeType string
}

var errBadMultipart = errors.New("invalid multipart form")

// readUpload 解析 multipart 表单并读取 audio 字段。
// 缺少 audio 时返回空数据，由服务层给出校验错误。
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, err
		}
		return upload{}, fmt.Errorf("%w: %v", errBadMultipart, err)
	}
	if r.MultipartForm != nil {
		// 音频已读入内存，表单的临时文件可以立即清理
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		return upload{}, nil
	}
	if err != nil {
		return upload{}, fmt.Errorf("%w: %v", errBadMultipart, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, fmt.Errorf("%w: read audio: %v", errBadMultipart, err)
	}
	return upload{data: data, mimeType: partMimeType(header)}, nil
}

func partMimeType(header *multipart.FileHeader) string {
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		return speech.MimeTypeFromFilename(header.Filename)
	}
	return mimeType
}

// parseHistory 解析客户端携带的对话历史。字段缺失视为空历史。
func parseHistory(raw string) ([]diarymodel.Turn, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var history []diarymodel.Turn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("%w: history: %v", utils.ErrInvalidRequest, err)
	}
	for i := range history {
		if err := utils.ValidateStruct(&history[i]); err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", diaryService.ErrInvalidHistory, i, err)
		}
	}
	return history, nil
}

// respondServiceError 把服务层错误映射为 HTTP 状态码。
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if utils.RequestExpired(r) {
		log.Printf("[diary] request deadline exceeded: %v", err)
		return
	}

	switch {
	case errors.As(err, new(*http.MaxBytesError)):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
	case isValidation(err):
		utils.RespondError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, store.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, diaryService.ErrSessionClosed):
		utils.RespondError(w, http.StatusConflict, "session already ended")
	case errors.Is(err, diaryService.ErrTurnInProgress):
		utils.RespondError(w, http.StatusConflict, diaryService.ErrTurnInProgress.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		utils.RespondInternalError(w, "diary", err)
	}
}

var validationErrors = []error{
	diaryService.ErrDeviceIDRequired,
	diaryService.ErrSessionIDRequired,
	diaryService.ErrAudioRequired,
	diaryService.ErrTranscriptRequired,
	diaryService.ErrInvalidHistory,
	speech.ErrEmptyAudio,
	speech.ErrUnsupportedFormat,
	errBadMultipart,
}

func isValidation(err error) bool {
	if utils.IsBadRequest(err) {
		return true
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// validationMessage 只返回简短信息，不暴露解析细节。
func validationMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrInvalidRequest):
		return utils.ErrInvalidRequest.Error()
	case errors.Is(err, errBadMultipart):
		return errBadMultipart.Error()
	case errors.Is(err, speech.ErrEmptyAudio):
		return diaryService.ErrAudioRequired.Error()
	case errors.Is(err, speech.ErrUnsupportedFormat):
		return speech.ErrUnsupportedFormat.Error()
	default:
		return err.Error()
	}
}
