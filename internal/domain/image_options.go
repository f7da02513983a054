package domain

import "fmt"

// ImageStyle は、カタログが取得できない場合に使うスタイルプリセットです
type ImageStyle int

const (
	ImageStylePhotographic ImageStyle = iota
	ImageStyleDigitalArt
	ImageStyleCinematic
	ImageStyleAnime
	ImageStyleFantasyArt
	ImageStyleNeonPunk
	ImageStyleRetro
	ImageStyleAbstract
	ImageStyleRealistic
)

// ImageModel は、カタログが取得できない場合に使うモデルです
type ImageModel int

const (
	ImageModelVeniceSD35 ImageModel = iota
	ImageModelLustifySDXL
)

// ImageSize は、よく使われる画像サイズのプリセットです
type ImageSize int

const (
	ImageSizeSquare ImageSize = iota
	ImageSizeLandscape
	ImageSizePortrait
	ImageSizeWide
	ImageSizeTall
)

// optionData は、各選択肢の値と表示名を保持します
type optionData struct {
	Value       string
	DisplayName string
}

// imageStyles は各ImageStyleのデータを定義します
var imageStyles = []optionData{
	{"Photographic", "写真風"},
	{"Digital Art", "デジタルアート風"},
	{"Cinematic", "映画風"},
	{"Anime", "アニメ風"},
	{"Fantasy Art", "ファンタジーアート風"},
	{"Neon Punk", "ネオンパンク風"},
	{"Retro", "レトロ風"},
	{"Abstract", "抽象画風"},
	{"Realistic", "リアル"},
}

// imageModels は各ImageModelのデータを定義します
var imageModels = []optionData{
	{"venice-sd35", "Venice SD 3.5"},
	{"lustify-sdxl", "Lustify SDXL"},
}

// imageSizes は各ImageSizeの幅と高さを定義します
var imageSizes = []struct {
	Width, Height int
}{
	{1024, 1024},
	{1280, 1024},
	{1024, 1280},
	{1280, 720},
	{720, 1280},
}

// String はImageStyleのAPI上の値を返します
func (s ImageStyle) String() string {
	if int(s) >= 0 && int(s) < len(imageStyles) {
		return imageStyles[s].Value
	}
	return "Photographic"
}

// DisplayName はImageStyleの日本語名を返します
func (s ImageStyle) DisplayName() string {
	if int(s) >= 0 && int(s) < len(imageStyles) {
		return imageStyles[s].DisplayName
	}
	return "写真風"
}

// String はImageModelのIDを返します
func (m ImageModel) String() string {
	if int(m) >= 0 && int(m) < len(imageModels) {
		return imageModels[m].Value
	}
	return "venice-sd35"
}

// DisplayName はImageModelの表示名を返します
func (m ImageModel) DisplayName() string {
	if int(m) >= 0 && int(m) < len(imageModels) {
		return imageModels[m].DisplayName
	}
	return "Venice SD 3.5"
}

// Dimensions はImageSizeの幅と高さを返します
func (s ImageSize) Dimensions() (int, int) {
	if int(s) >= 0 && int(s) < len(imageSizes) {
		return imageSizes[s].Width, imageSizes[s].Height
	}
	return 1024, 1024
}

// String はImageSizeを "幅x高さ" の形式で返します
func (s ImageSize) String() string {
	w, h := s.Dimensions()
	return fmt.Sprintf("%dx%d", w, h)
}

// AllImageStyles はすべてのImageStyleを返します
func AllImageStyles() []ImageStyle {
	return []ImageStyle{
		ImageStylePhotographic,
		ImageStyleDigitalArt,
		ImageStyleCinematic,
		ImageStyleAnime,
		ImageStyleFantasyArt,
		ImageStyleNeonPunk,
		ImageStyleRetro,
		ImageStyleAbstract,
		ImageStyleRealistic,
	}
}

// AllImageModels はすべてのImageModelを返します
func AllImageModels() []ImageModel {
	return []ImageModel{
		ImageModelVeniceSD35,
		ImageModelLustifySDXL,
	}
}

// AllImageSizes はすべてのImageSizeを返します
func AllImageSizes() []ImageSize {
	return []ImageSize{
		ImageSizeSquare,
		ImageSizeLandscape,
		ImageSizePortrait,
		ImageSizeWide,
		ImageSizeTall,
	}
}

// CatalogEntry は、モデルやスタイルの選択肢1件です
type CatalogEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog は、生成サービスから取得したモデルとスタイルの一覧です
type Catalog struct {
	Models   []CatalogEntry `json:"models"`
	Styles   []CatalogEntry `json:"styles"`
	Fallback bool           `json:"fallback"`
}

// FallbackModels は、モデル一覧が取得できない場合の既定値を返します
func FallbackModels() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(imageModels))
	for _, m := range AllImageModels() {
		entries = append(entries, CatalogEntry{ID: m.String(), Name: m.DisplayName()})
	}
	return entries
}

// FallbackStyles は、スタイル一覧が取得できない場合の既定値を返します
func FallbackStyles() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(imageStyles))
	for _, s := range AllImageStyles() {
		entries = append(entries, CatalogEntry{ID: s.String(), Name: s.DisplayName()})
	}
	return entries
}
