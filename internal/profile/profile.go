// Package profile holds the selectors, label texts and signal fragments used
// to read the video service's UI. The built-in profile targets Flow; a YAML
// file can override any part of it when the UI changes.
package profile

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile describes one version of the service UI
type Profile struct {
	BaseURL         string   `yaml:"base_url"`
	Origin          string   `yaml:"origin"`
	ProjectPath     string   `yaml:"project_path"`
	LoginMarkers    []string `yaml:"login_markers"`
	ArtifactPattern string   `yaml:"artifact_pattern"`
	MediaSelector   string   `yaml:"media_selector"`

	Prompt     PromptProfile     `yaml:"prompt"`
	Submit     SubmitProfile     `yaml:"submit"`
	NewProject NewProjectProfile `yaml:"new_project"`
	Signals    SignalProfile     `yaml:"signals"`
	Settings   SettingsProfile   `yaml:"settings"`
	Menu       MenuProfile       `yaml:"menu"`
	Upscale    UpscaleProfile    `yaml:"upscale"`
}

// PromptProfile locates the prompt input
type PromptProfile struct {
	Selectors    []string      `yaml:"selectors"`
	Placeholders []string      `yaml:"placeholders"`
	Fallback     string        `yaml:"fallback"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
}

// SubmitProfile locates the control that starts a generation
type SubmitProfile struct {
	Selector      string        `yaml:"selector"`
	Texts         []string      `yaml:"texts"`
	ExcludeTexts  []string      `yaml:"exclude_texts"`
	Attempts      int           `yaml:"attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// NewProjectProfile locates the "new project" control
type NewProjectProfile struct {
	Selector string   `yaml:"selector"`
	Texts    []string `yaml:"texts"`
}

// SignalProfile lists the text and markup that reveal generation state
type SignalProfile struct {
	ErrorFragments      []string `yaml:"error_fragments"`
	ErrorSelectors      []string `yaml:"error_selectors"`
	ProgressFragments   []string `yaml:"progress_fragments"`
	PercentPattern      string   `yaml:"percent_pattern"`
	ProgressBarSelector string   `yaml:"progress_bar_selector"`
	PlayTexts           []string `yaml:"play_texts"`
	PlaySelector        string   `yaml:"play_selector"`
	PlayLabels          []string `yaml:"play_labels"`
	// VideoSelector matches players whose media has not loaded yet while a
	// card is still generating
	VideoSelector string `yaml:"video_selector"`
}

// SettingsProfile drives the generation settings panel
type SettingsProfile struct {
	OpenTexts      []string            `yaml:"open_texts"`
	ButtonSelector string              `yaml:"button_selector"`
	OptionSelector string              `yaml:"option_selector"`
	AspectLabels   map[string][]string `yaml:"aspect_labels"`
	ModelMarker    string              `yaml:"model_marker"`
}

// MenuProfile drives a result card's overflow menu
type MenuProfile struct {
	MoreSelector  string   `yaml:"more_selector"`
	MoreTexts     []string `yaml:"more_texts"`
	ItemSelector  string   `yaml:"item_selector"`
	DeleteTexts   []string `yaml:"delete_texts"`
	DownloadTexts []string `yaml:"download_texts"`
	UpscaledTexts []string `yaml:"upscaled_texts"`
	OriginalTexts []string `yaml:"original_texts"`
}

// UpscaleProfile recognizes the upscale notifications
type UpscaleProfile struct {
	NotificationSelector string        `yaml:"notification_selector"`
	ActionSelector       string        `yaml:"action_selector"`
	PendingTexts         []string      `yaml:"pending_texts"`
	DoneTexts            []string      `yaml:"done_texts"`
	Timeout              time.Duration `yaml:"timeout"`
	Interval             time.Duration `yaml:"interval"`
}

// Default returns the built-in Flow profile
func Default() *Profile {
	return &Profile{
		BaseURL:         "https://labs.google/fx/vi/tools/flow",
		Origin:          "https://labs.google",
		ProjectPath:     "/project/",
		LoginMarkers:    []string{"accounts.google.com", "signin", "ServiceLogin"},
		ArtifactPattern: `https://storage\.googleapis\.com/ai-sandbox-videofx/video/[a-f0-9\-]+`,
		MediaSelector:   "video, video source",
		Prompt: PromptProfile{
			Selectors: []string{`textarea[node="72"]`},
			Placeholders: []string{
				"Tạo một video bằng văn bản",
				"Tạo một video",
				"Create a video",
			},
			Fallback:    "textarea",
			SettleDelay: time.Second,
		},
		Submit: SubmitProfile{
			Selector:      `button, [role="button"]`,
			Texts:         []string{"arrow_forward", "Tạo", "Generate", "Create"},
			ExcludeTexts:  []string{"Trình tạo cảnh", "Scene builder", "Dự án mới", "New project"},
			Attempts:      15,
			RetryInterval: time.Second,
		},
		NewProject: NewProjectProfile{
			Selector: `button, [role="button"], a`,
			Texts:    []string{"+ Dự án mới", "Dự án mới", "+ New project", "New project"},
		},
		Signals: SignalProfile{
			ErrorFragments: []string{
				"không tạo được",
				"failed to generate",
				"thất bại",
				"lỗi",
				"something went wrong",
			},
			ErrorSelectors:      []string{`[role="alert"]`},
			ProgressFragments:   []string{"generating", "đang tạo"},
			PercentPattern:      `\b(\d{1,3})%`,
			ProgressBarSelector: `[role="progressbar"]`,
			PlayTexts:           []string{"play_arrow"},
			PlaySelector:        `button, [role="button"]`,
			PlayLabels:          []string{"play", "phát"},
			VideoSelector:       "video",
		},
		Settings: SettingsProfile{
			OpenTexts:      []string{"Cài đặt", "Settings", "tune"},
			ButtonSelector: `button, [role="combobox"]`,
			OptionSelector: `[role="menuitem"], [role="option"]`,
			AspectLabels: map[string][]string{
				"16:9": {"16:9", "Khổ ngang", "Landscape"},
				"9:16": {"9:16", "Khổ dọc", "Portrait"},
				"1:1":  {"1:1", "Vuông", "Square"},
			},
			ModelMarker: "Veo",
		},
		Menu: MenuProfile{
			MoreSelector:  `button[aria-haspopup="menu"], button, [role="button"]`,
			MoreTexts:     []string{"more_vert"},
			ItemSelector:  `[role="menuitem"], button, li`,
			DeleteTexts:   []string{"Xoá", "Xóa", "Delete"},
			DownloadTexts: []string{"Tải xuống", "Download"},
			UpscaledTexts: []string{"Đã tăng độ phân giải (1080p)", "Upscaled (1080p)", "1080p"},
			OriginalTexts: []string{"Kích thước gốc (720p)", "Original size (720p)", "720p"},
		},
		Upscale: UpscaleProfile{
			NotificationSelector: "li",
			ActionSelector:       `li button, li a, li [role="button"], li span`,
			PendingTexts:         []string{"Đang tăng độ phân giải", "Upscaling"},
			DoneTexts:            []string{"Đã xong việc tăng độ phân giải", "Upscaling complete"},
			Timeout:              3 * time.Minute,
			Interval:             3 * time.Second,
		},
	}
}

// Load reads a YAML override on top of the built-in profile. An empty path
// returns the default.
func Load(path string) (*Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read UI profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse UI profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile's patterns compile and required fields exist
func (p *Profile) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("UI profile: base_url is required")
	}
	if _, err := regexp.Compile(p.ArtifactPattern); err != nil {
		return fmt.Errorf("UI profile: artifact_pattern: %w", err)
	}
	if _, err := regexp.Compile(p.Signals.PercentPattern); err != nil {
		return fmt.Errorf("UI profile: percent_pattern: %w", err)
	}
	return nil
}

// WorkspaceURL returns the URL of a workspace
func (p *Profile) WorkspaceURL(id string) string {
	return strings.TrimRight(p.BaseURL, "/") + p.ProjectPath + id
}

// WorkspaceIDFromURL extracts the workspace id from a URL, or ""
func (p *Profile) WorkspaceIDFromURL(url string) string {
	i := strings.Index(url, p.ProjectPath)
	if i < 0 {
		return ""
	}
	id := url[i+len(p.ProjectPath):]
	if j := strings.IndexAny(id, "/?#"); j >= 0 {
		id = id[:j]
	}
	return id
}

// IsLoginURL reports whether url is an authentication redirect
func (p *Profile) IsLoginURL(url string) bool {
	for _, m := range p.LoginMarkers {
		if strings.Contains(url, m) {
			return true
		}
	}
	return false
}
