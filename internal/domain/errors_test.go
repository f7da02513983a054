package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"testing"
)

type fakeNetError struct {
	timeout bool
}

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

var _ net.Error = fakeNetError{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"nil", nil, ErrorKindGeneric},
		{"deadline exceeded", context.DeadlineExceeded, ErrorKindTimeout},
		{"wrapped deadline", fmt.Errorf("生成失敗: %w", context.DeadlineExceeded), ErrorKindTimeout},
		{"net timeout", fakeNetError{timeout: true}, ErrorKindTimeout},
		{"net error", fakeNetError{}, ErrorKindNetwork},
		{"url error", &url.Error{Op: "Post", URL: "https://example.com", Err: errors.New("dial failed")}, ErrorKindNetwork},
		{"typed auth", NewGenerationError(ErrorKindAuthentication, "bad key", nil), ErrorKindAuthentication},
		{"wrapped typed", fmt.Errorf("x: %w", NewGenerationError(ErrorKindNetwork, "offline", nil)), ErrorKindNetwork},
		{"timeout keyword", errors.New("request timed out"), ErrorKindTimeout},
		{"auth keyword", errors.New("invalid API key provided"), ErrorKindAuthentication},
		{"network keyword", errors.New("connection refused"), ErrorKindNetwork},
		{"other", errors.New("internal server error"), ErrorKindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %s, 期待値 %s", tt.err, got, tt.expected)
			}
		})
	}
}

func TestUserMessageIsDistinctForTimeout(t *testing.T) {
	timeout := UserMessage(ErrorKindTimeout)
	if timeout == UserMessage(ErrorKindGeneric) {
		t.Error("タイムアウトのメッセージが汎用エラーと同じです")
	}
	if want := "took too long to respond"; !strings.Contains(timeout, want) {
		t.Errorf("タイムアウトのメッセージに %q が含まれていません: %s", want, timeout)
	}
}

func TestDescribeError(t *testing.T) {
	kind, msg := DescribeError(NewGenerationError(ErrorKindGeneric, "Server error: 500", nil))
	if kind != ErrorKindGeneric || msg != "Server error: 500" {
		t.Errorf("予期しない結果: %s %s", kind, msg)
	}

	kind, msg = DescribeError(context.DeadlineExceeded)
	if kind != ErrorKindTimeout || msg != UserMessage(ErrorKindTimeout) {
		t.Errorf("予期しない結果: %s %s", kind, msg)
	}
}

func TestGenerationErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewGenerationError(ErrorKindNetwork, "offline", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrapで元のエラーが取得できません")
	}
}
