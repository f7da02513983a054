package domain

// DefaultNegativePrompt は、ネガティブプロンプトの既定値です
const DefaultNegativePrompt = "blurry, low quality, bad anatomy, worst quality, deformed, ugly, text, watermark, signature"

// Settings は、画像生成パラメータを表す値オブジェクトです
// アプリケーション全体で1つだけ存在し、チャットごとには持ちません
type Settings struct {
	Model          string  `json:"model" toml:"model"`
	Width          int     `json:"width" toml:"width"`
	Height         int     `json:"height" toml:"height"`
	Steps          int     `json:"steps" toml:"steps"`
	SafeMode       bool    `json:"safeMode" toml:"safe_mode"`
	HideWatermark  bool    `json:"hideWatermark" toml:"hide_watermark"`
	CfgScale       float64 `json:"cfgScale" toml:"cfg_scale"`
	StylePreset    string  `json:"stylePreset" toml:"style_preset"`
	NegativePrompt string  `json:"negativePrompt" toml:"negative_prompt"`
}

// DefaultSettings は、デフォルトの画像生成設定を返します
func DefaultSettings() Settings {
	return Settings{
		Model:          "venice-sd35",
		Width:          1024,
		Height:         1024,
		Steps:          30,
		SafeMode:       false,
		HideWatermark:  true,
		CfgScale:       7.0,
		StylePreset:    "Photographic",
		NegativePrompt: DefaultNegativePrompt,
	}
}

// SettingsPatch は、Settingsの部分更新を表します
// nilでないフィールドだけが上書きされます
type SettingsPatch struct {
	Model          *string
	Width          *int
	Height         *int
	Steps          *int
	SafeMode       *bool
	HideWatermark  *bool
	CfgScale       *float64
	StylePreset    *string
	NegativePrompt *string
}

// IsEmpty は、パッチに更新対象のフィールドが1つもないかを判定します
func (p SettingsPatch) IsEmpty() bool {
	return p == SettingsPatch{}
}

// Merge は、パッチを浅くマージした新しいSettingsを返します
func (s Settings) Merge(p SettingsPatch) Settings {
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Width != nil {
		s.Width = *p.Width
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
	if p.Steps != nil {
		s.Steps = *p.Steps
	}
	if p.SafeMode != nil {
		s.SafeMode = *p.SafeMode
	}
	if p.HideWatermark != nil {
		s.HideWatermark = *p.HideWatermark
	}
	if p.CfgScale != nil {
		s.CfgScale = *p.CfgScale
	}
	if p.StylePreset != nil {
		s.StylePreset = *p.StylePreset
	}
	if p.NegativePrompt != nil {
		s.NegativePrompt = *p.NegativePrompt
	}
	return s
}
