package ai

import (
	"fmt"
	"strings"
)

// ClosingLine 是最后一轮回复的固定结束语。
const ClosingLine = "今日も話してくれてありがとう。ゆっくり休んでね"

// buildSystemPrompt 生成日记陪伴角色的系统提示词。
func buildSystemPrompt(maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 100
	}

	rules := []string{
		fmt.Sprintf("%d文字以内で返答する", maxRunes),
		"ユーザーの言葉をそのまま使って反射する（リフレクト）",
		"「それは大変だったね」「そんな日もあるよね」など共感を示す",
		"絶対にアドバイスや解決策を出さない",
		"質問は1つまで。深掘りしすぎない",
		fmt.Sprintf("最後の返答では「%s」で締める", ClosingLine),
	}

	var b strings.Builder
	b.WriteString("あなたは毎晩ユーザーの話を聞いてくれる、優しい日記の相棒です。\n")
	b.WriteString("ユーザーが今日あったことや気持ちを話してくれます。\n\n")
	b.WriteString("ルール:\n")
	for _, rule := range rules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
