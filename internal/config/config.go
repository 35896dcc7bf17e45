package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Transcribe TranscribeConfig
	Database   DatabaseConfig
	Diary      DiaryConfig
	Weekly     WeeklyConfig
	Lock       LockConfig
	Sweeper    SweeperConfig
	DemoMode   bool
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	transcribe, err := loadTranscribeConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	diary, err := loadDiaryConfig()
	if err != nil {
		return nil, err
	}

	weekly, err := loadWeeklyConfig()
	if err != nil {
		return nil, err
	}

	lock, err := loadLockConfig()
	if err != nil {
		return nil, err
	}

	sweeper, err := loadSweeperConfig()
	if err != nil {
		return nil, err
	}

	demo, err := parseBoolEnv("DEMO_MODE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		AI:         ai,
		Transcribe: transcribe,
		Database:   database,
		Diary:      diary,
		Weekly:     weekly,
		Lock:       lock,
		Sweeper:    sweeper,
		DemoMode:   demo,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址、CORS 白名单与请求超时。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	timeoutMS := 30000
	if override, err := parseOptionalIntEnv("REQUEST_TIMEOUT_MS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return ServerConfig{}, fmt.Errorf("invalid REQUEST_TIMEOUT_MS value %d: must be positive", *override)
		}
		timeoutMS = *override
	}

	return ServerConfig{
		Addr:           addr,
		AllowedOrigins: parseListEnv("CORS_ALLOWED_ORIGINS"),
		RequestTimeout: time.Duration(timeoutMS) * time.Millisecond,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		// 反思回复限制在 100 字以内，256 token 足够。
		defaultTokens := 256
		maxTokens = &defaultTokens
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// Transcription providers.
const (
	ProviderOpenAI     = "openai"
	ProviderVolcengine = "volcengine"
	ProviderDemo       = "demo"
)

// TranscribeConfig 描述语音识别服务配置。
type TranscribeConfig struct {
	Provider string
	Language string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AppID       string
	AccessToken string
	Timeout     time.Duration
}

func loadTranscribeConfig() (TranscribeConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("TRANSCRIBE_PROVIDER", ProviderOpenAI))
	switch provider {
	case ProviderOpenAI, ProviderVolcengine, ProviderDemo:
	default:
		return TranscribeConfig{}, fmt.Errorf("invalid TRANSCRIBE_PROVIDER value %q", provider)
	}

	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return TranscribeConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return TranscribeConfig{
		Provider:      provider,
		Language:      getEnvOrDefault("TRANSCRIBE_LANGUAGE", "ja"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   getEnvOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		AppID:         strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:   accessToken,
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// NewTranscriber 按 Provider 创建语音识别客户端。
func (c TranscribeConfig) NewTranscriber() (speech.Transcriber, error) {
	switch c.Provider {
	case ProviderDemo:
		return speech.NewDemoTranscriber(nil), nil
	case ProviderOpenAI:
		return speech.NewOpenAITranscriber(speech.OpenAIConfig{
			APIKey:   c.OpenAIAPIKey,
			BaseURL:  c.OpenAIBaseURL,
			Model:    c.OpenAIModel,
			Language: c.Language,
		})
	case ProviderVolcengine:
		return speech.NewVolcengineTranscriber(speech.VolcengineConfig{
			AppID:       c.AppID,
			AccessToken: c.AccessToken,
			Language:    c.Language,
			Timeout:     c.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown transcribe provider %q", c.Provider)
	}
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig 描述持久化后端。
type DatabaseConfig struct {
	Driver     string
	URL        string
	SQLitePath string
	Verbose    bool
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", DriverMemory))
	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	switch driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if url == "" {
			return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DATABASE_DRIVER value %q", driver)
	}

	verbose, err := parseBoolEnv("DATABASE_LOG_QUERIES", false)
	if err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		Driver:     driver,
		URL:        url,
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "voice-diary.sqlite"),
		Verbose:    verbose,
	}, nil
}

// DiaryConfig 描述会话流程参数。
type DiaryConfig struct {
	Greeting                string
	ClosingPhrase           string
	EndingMinAssistantTurns int
	MaxReplyRunes           int
}

func loadDiaryConfig() (DiaryConfig, error) {
	minTurns := 3
	if override, err := parseOptionalIntEnv("DIARY_ENDING_MIN_ASSISTANT_TURNS"); err != nil {
		return DiaryConfig{}, err
	} else if override != nil {
		if *override < 1 {
			minTurns = 1
		} else {
			minTurns = *override
		}
	}

	maxRunes := 100
	if override, err := parseOptionalIntEnv("DIARY_MAX_REPLY_RUNES"); err != nil {
		return DiaryConfig{}, err
	} else if override != nil {
		maxRunes = *override
	}

	return DiaryConfig{
		Greeting:                getEnvOrDefault("DIARY_GREETING", "こんばんは。今日はどんな一日でしたか？"),
		ClosingPhrase:           getEnvOrDefault("DIARY_CLOSING_PHRASE", "ゆっくり休んでね"),
		EndingMinAssistantTurns: minTurns,
		MaxReplyRunes:           maxRunes,
	}, nil
}

// WeeklyConfig 描述周报的日期边界。
type WeeklyConfig struct {
	Location *time.Location
}

func loadWeeklyConfig() (WeeklyConfig, error) {
	name := getEnvOrDefault("WEEKLY_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return WeeklyConfig{}, fmt.Errorf("invalid WEEKLY_TIMEZONE value %q: %w", name, err)
	}
	return WeeklyConfig{Location: loc}, nil
}

// LockConfig 描述单会话并发回合锁。RedisURL 为空时使用进程内锁。
type LockConfig struct {
	RedisURL string
	TTL      time.Duration
}

func loadLockConfig() (LockConfig, error) {
	ttl, err := parseDurationEnv("TURN_LOCK_TTL", time.Minute)
	if err != nil {
		return LockConfig{}, err
	}
	return LockConfig{
		RedisURL: strings.TrimSpace(os.Getenv("TURN_LOCK_REDIS_URL")),
		TTL:      ttl,
	}, nil
}

// SweeperConfig 描述遗留会话清理任务。Schedule 为空表示关闭。
type SweeperConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

func loadSweeperConfig() (SweeperConfig, error) {
	staleAfter, err := parseDurationEnv("SESSION_STALE_AFTER", 12*time.Hour)
	if err != nil {
		return SweeperConfig{}, err
	}

	schedule := "@every 30m"
	if raw, ok := os.LookupEnv("SESSION_SWEEP_CRON"); ok {
		schedule = strings.TrimSpace(raw)
	}

	return SweeperConfig{Schedule: schedule, StaleAfter: staleAfter}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
