package venice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"unicode"

	"imagechat/internal/domain"
)

// ListModels は、画像生成に使えるモデルの一覧を取得します
func (c *Client) ListModels(ctx context.Context) ([]domain.CatalogEntry, error) {
	items, err := c.fetchList(ctx, endpointModels, "models")
	if err != nil {
		return nil, err
	}

	entries := make([]domain.CatalogEntry, 0, len(items))
	for _, raw := range items {
		entry, ok := parseModel(raw)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	log.Printf("Venice APIからモデル一覧を取得しました: %d件", len(entries))
	return entries, nil
}

// ListStyles は、スタイルプリセットの一覧を取得します
func (c *Client) ListStyles(ctx context.Context) ([]domain.CatalogEntry, error) {
	items, err := c.fetchList(ctx, endpointStyles, "styles")
	if err != nil {
		return nil, err
	}

	entries := make([]domain.CatalogEntry, 0, len(items))
	for _, raw := range items {
		entry, ok := parseStyle(raw)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	log.Printf("Venice APIからスタイル一覧を取得しました: %d件", len(entries))
	return entries, nil
}

// fetchList は一覧系のエンドポイントを呼び出し、要素の配列を取り出します
// 応答は {"data": [...]}, {"<key>": [...]}, または配列そのもののいずれかです
func (c *Client) fetchList(ctx context.Context, endpoint, key string) ([]json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return extractList(body, key)
}

func extractList(body []byte, key string) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("一覧の解析に失敗: %w", err)
	}
	for _, k := range []string{"data", key} {
		raw, ok := wrapped[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("一覧の形式が不正です")
}

// parseModel は、文字列またはオブジェクトのモデル情報を変換します
func parseModel(raw json.RawMessage) (domain.CatalogEntry, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return domain.CatalogEntry{}, false
		}
		return domain.CatalogEntry{ID: id, Name: formatLabel(id)}, true
	}

	var obj struct {
		ID          string `json:"id"`
		ModelID     string `json:"model_id"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.CatalogEntry{}, false
	}

	id = firstNonEmpty(obj.ID, obj.ModelID, obj.Name)
	if id == "" {
		return domain.CatalogEntry{}, false
	}
	label := firstNonEmpty(obj.DisplayName, obj.Name, id)
	return domain.CatalogEntry{ID: id, Name: formatLabel(label)}, true
}

// parseStyle は、文字列またはオブジェクトのスタイル情報を変換します
// スタイルはAPIに渡す値をそのまま表示名として使います
func parseStyle(raw json.RawMessage) (domain.CatalogEntry, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if name == "" {
			return domain.CatalogEntry{}, false
		}
		return domain.CatalogEntry{ID: name, Name: name}, true
	}

	var obj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.CatalogEntry{}, false
	}
	name = firstNonEmpty(obj.Name, obj.ID)
	if name == "" {
		return domain.CatalogEntry{}, false
	}
	return domain.CatalogEntry{ID: name, Name: name}, true
}

// formatLabel は "venice-sd35" を "Venice Sd35" のような表示名に変換します
func formatLabel(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "-", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
