package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voice-diary/backend/internal/config"
	"github.com/zhouzirui/voice-diary/backend/internal/service/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 emotion")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	mimeType := flag.String("mime", "", "音频 MIME 类型，默认根据扩展名推断")
	provider := flag.String("provider", "", "覆盖 TRANSCRIBE_PROVIDER: openai, volcengine, demo")
	text := flag.String("text", "", "emotion 模式的输入文本")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		tc := cfg.Transcribe
		if *provider != "" {
			tc.Provider = strings.ToLower(*provider)
		}
		runASR(ctx, tc, *audioPath, *mimeType)
	case "emotion":
		runEmotion(ctx, cfg.AI, *text)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=emotion 指定测试模式")
	}
}

func runASR(ctx context.Context, tc config.TranscribeConfig, audioPath, mimeType string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}
	if mimeType == "" {
		mimeType = speech.MimeTypeFromFilename(audioPath)
	}

	transcriber, err := tc.NewTranscriber()
	if err != nil {
		log.Fatalf("创建识别客户端失败: %v", err)
	}

	log.Printf("开始进行 ASR 测试: provider=%s mime=%s language=%s size=%d", tc.Provider, mimeType, tc.Language, len(audio))

	start := time.Now()
	result, err := transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q elapsed=%s", result, time.Since(start).Round(time.Millisecond))
}

func runEmotion(ctx context.Context, aiCfg config.AIConfig, text string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("emotion 模式需要通过 -text 提供待分析文本")
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("创建模型失败: %v", err)
	}
	analyzer, err := emotion.NewService(ctx, chatModel)
	if err != nil {
		log.Fatalf("创建情绪分析服务失败: %v", err)
	}

	result, err := analyzer.Analyze(ctx, text)
	if err != nil {
		log.Fatalf("情绪分析失败: %v", err)
	}

	log.Printf("情绪分析成功: label=%s score=%.2f valence=%.2f summary=%q", result.Label, result.Score, result.Valence, result.Summary)
}
