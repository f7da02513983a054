package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPromptLength は、1回の生成で受け付けるプロンプトの最大文字数です
	MaxPromptLength = 1500
	// DefaultLabelLength は、一覧表示用にプロンプトを短縮する際の文字数です
	DefaultLabelLength = 50
)

// ValidatePrompt は、前後の空白を除いたプロンプトを検証して返します
// 文字数はバイト数ではなくルーン数で数えます
func ValidatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", ErrEmptyPrompt
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxPromptLength {
		return "", fmt.Errorf("%w: %d文字 (上限 %d文字)", ErrPromptTooLong, n, MaxPromptLength)
	}
	return trimmed, nil
}

// ShortenPrompt は、プロンプトを指定した文字数に収まるよう短縮します
func ShortenPrompt(prompt string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultLabelLength
	}
	prompt = strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(prompt) <= maxLength {
		return prompt
	}

	runes := []rune(prompt)
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return strings.TrimSpace(string(runes[:maxLength-3])) + "..."
}
