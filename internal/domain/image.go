package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// filenamePrefix は、保存する画像ファイル名の接頭辞です
const filenamePrefix = "imagechat"

// GeneratedImage は、生成クライアントから受け取った画像を保存する際の情報です
type GeneratedImage struct {
	Prompt      string
	Data        []byte
	MimeType    string
	GeneratedAt time.Time
}

// Filename は、プロンプトと生成時刻から保存用のファイル名を返します
func (g GeneratedImage) Filename() string {
	return FilenameFromPrompt(g.Prompt, ExtensionForMimeType(g.MimeType), g.GeneratedAt)
}

// FilenameFromPrompt は、プロンプトの先頭3語からファイル名を作成します
// 例: "A Red Fox, at dawn" -> "imagechat-a-red-fox-1700000000000.png"
func FilenameFromPrompt(prompt, ext string, at time.Time) string {
	words := strings.Fields(prompt)
	if len(words) > 3 {
		words = words[:3]
	}

	slug := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return '-'
	}, strings.Join(words, "-"))
	slug = collapseDashes(slug)
	if slug == "" {
		slug = "image"
	}

	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s-%s-%d.%s", filenamePrefix, slug, at.UnixMilli(), strings.TrimPrefix(ext, "."))
}

// ExtensionForMimeType は、MIMEタイプに対応する拡張子を返します
func ExtensionForMimeType(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

func collapseDashes(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "-")
}
