package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/client"
	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

func main() {
	configPath := flag.String("config", "diary.toml", "TOML 配置文件路径")
	serverURL := flag.String("server", "", "覆盖 server_url")
	mode := flag.String("mode", "", "覆盖 mode: stateless 或 session")
	files := flag.String("files", "", "逗号分隔的音频文件，设置后按顺序回放而不是录音")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *files != "" {
		cfg.Recorder.Kind = "files"
		cfg.Recorder.Files = strings.Split(*files, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg cliConfig) error {
	timeout, err := cfg.timeout()
	if err != nil {
		return err
	}
	loc, err := cfg.location()
	if err != nil {
		return err
	}
	deviceID, err := cfg.deviceID()
	if err != nil {
		return err
	}
	recorder, err := cfg.newRecorder()
	if err != nil {
		return err
	}

	api := client.NewClient(cfg.ServerURL, timeout)
	entries := client.NewEntryStore(cfg.EntriesPath)
	ctrl, err := client.NewController(api, recorder, entries, client.Options{
		Mode:     client.Mode(cfg.Mode),
		DeviceID: deviceID,
		Location: loc,
	})
	if err != nil {
		return err
	}

	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("server %s unavailable: %w", cfg.ServerURL, err)
	}

	greeting, err := ctrl.Begin(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("AI: %s\n", greeting)
	printHelp()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		switch line {
		case "":
			if err := toggleRecording(ctx, ctrl); err != nil {
				log.Printf("[diary] %v", err)
				fmt.Println("通信エラーが発生しました。もう一度お試しください")
			}
		case "end":
			entry, err := ctrl.Finish(ctx)
			switch {
			case errors.Is(err, client.ErrNothingToSummarize):
				fmt.Println("まだ何も話していません")
			case err != nil:
				log.Printf("[diary] finish failed: %v", err)
			default:
				printEntry(entry)
			}
		case "week":
			printWeek(ctx, api, entries, deviceID, cfg.Timezone, loc)
		case "new":
			greeting, err := ctrl.Begin(ctx)
			if err != nil {
				log.Printf("[diary] begin failed: %v", err)
				continue
			}
			fmt.Printf("AI: %s\n", greeting)
		case "q", "quit":
			return nil
		default:
			printHelp()
		}
	}
}

func toggleRecording(ctx context.Context, ctrl *client.Controller) error {
	if !ctrl.Recording() {
		if err := ctrl.StartRecording(ctx); err != nil {
			return err
		}
		fmt.Println("● 録音中… Enter で停止")
		return nil
	}

	outcome, err := ctrl.StopRecording(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("あなた: %s\n", outcome.Transcript)
	fmt.Printf("AI: %s\n", outcome.AIMessage)
	if outcome.Entry != nil {
		printEntry(*outcome.Entry)
	}
	return nil
}

func printEntry(entry client.Entry) {
	fmt.Printf("\n--- %s ---\n", entry.Date)
	fmt.Printf("気分: %s (強さ %.2f, 快 %.2f)\n", entry.EmotionLabel, entry.EmotionScore, entry.EmotionValence)
	fmt.Printf("%s\n", entry.Summary)
	fmt.Println("new で新しい日記、q で終了")
}

func printWeek(ctx context.Context, api *client.Client, entries *client.EntryStore, deviceID, tz string, loc *time.Location) {
	local, err := entries.Weekly(time.Now().In(loc))
	if err != nil {
		log.Printf("[diary] load local entries failed: %v", err)
	}
	byDate := make(map[string]client.Entry, len(local))
	for _, e := range local {
		byDate[e.Date] = e
	}

	days, err := api.Weekly(ctx, deviceID, tz)
	if err != nil {
		log.Printf("[diary] weekly review failed: %v", err)
		return
	}

	fmt.Println("日付        色        サーバー      端末")
	for _, day := range days {
		server := "-"
		if day.EmotionLabel != nil {
			server = *day.EmotionLabel
		}
		device := "-"
		if e, ok := byDate[day.Date]; ok {
			device = e.EmotionLabel
		}
		fmt.Printf("%s  %s  %-12s  %s\n", day.Date, dayColor(day), server, device)
	}
}

// dayColor 返回图表颜色，没有数据的日期用默认色。
func dayColor(day diary.WeeklyDay) string {
	if day.Color == nil {
		return emotion.DefaultColor
	}
	return *day.Color
}

func printHelp() {
	fmt.Println("Enter: 録音開始/停止  end: 話し終えた  week: 1週間  new: 新しい日記  q: 終了")
}
