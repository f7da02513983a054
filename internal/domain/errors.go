package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ドメイン固有のエラー型を定義
var (
	// ErrEmptyPrompt は、プロンプトが空の場合のエラーです
	ErrEmptyPrompt = errors.New("プロンプトが空です")

	// ErrPromptTooLong は、プロンプトが上限文字数を超えている場合のエラーです
	ErrPromptTooLong = errors.New("プロンプトが長すぎます")

	// ErrChatNotFound は、指定されたチャットが存在しない場合のエラーです
	ErrChatNotFound = errors.New("チャットが見つかりません")

	// ErrMessageNotFound は、指定されたメッセージが存在しない場合のエラーです
	ErrMessageNotFound = errors.New("メッセージが見つかりません")

	// ErrNotImageMessage は、画像メッセージ以外を再生成しようとした場合のエラーです
	ErrNotImageMessage = errors.New("画像メッセージではありません")

	// ErrEmptyResult は、生成結果に利用可能な画像が含まれていない場合のエラーです
	ErrEmptyResult = errors.New("画像データが含まれていません")
)

// ErrorKind は、生成失敗の分類です
type ErrorKind string

const (
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindGeneric        ErrorKind = "generic"
)

// GenerationError は、分類済みの生成エラーです
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewGenerationError は、分類を指定してGenerationErrorを作成します
func NewGenerationError(kind ErrorKind, message string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: err}
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Classify は、任意のエラーを4つの分類のいずれかに振り分けます
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindGeneric
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Kind != "" {
		return genErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorKindNetwork
	}

	return classifyByMessage(err.Error())
}

// classifyByMessage は、型情報で判別できないエラーをメッセージから推定します
func classifyByMessage(msg string) ErrorKind {
	msg = strings.ToLower(msg)

	timeoutKeywords := []string{
		"timeout",
		"deadline exceeded",
		"context deadline exceeded",
		"took too long",
		"timed out",
	}
	for _, keyword := range timeoutKeywords {
		if strings.Contains(msg, keyword) {
			return ErrorKindTimeout
		}
	}

	authKeywords := []string{
		"api key",
		"api_key",
		"unauthorized",
		"unauthenticated",
		"permission denied",
		"401",
		"403",
	}
	for _, keyword := range authKeywords {
		if strings.Contains(msg, keyword) {
			return ErrorKindAuthentication
		}
	}

	networkKeywords := []string{
		"network",
		"connection refused",
		"connection reset",
		"no such host",
		"failed to fetch",
	}
	for _, keyword := range networkKeywords {
		if strings.Contains(msg, keyword) {
			return ErrorKindNetwork
		}
	}

	return ErrorKindGeneric
}

// UserMessage は、分類ごとのユーザー向けメッセージを返します
func UserMessage(kind ErrorKind) string {
	switch kind {
	case ErrorKindTimeout:
		return "The image generation took too long to respond. Please try again."
	case ErrorKindNetwork:
		return "Could not reach the image service. Check your connection and try again."
	case ErrorKindAuthentication:
		return "The image service rejected the API key. Check your credentials."
	default:
		return "Image generation failed. Please try again."
	}
}

// DescribeError は、エラーの分類とユーザー向けメッセージを返します
func DescribeError(err error) (ErrorKind, string) {
	kind := Classify(err)
	if kind == ErrorKindGeneric && err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) && genErr.Message != "" {
			return kind, genErr.Message
		}
	}
	return kind, UserMessage(kind)
}
