package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>値上げのお知らせ</p>",
			wantContains: []string{"<p>値上げのお知らせ</p>"},
		},
		{
			name:         "aタグが許可される",
			input:        `<a href="https://example.com/pricing">料金ページ</a>`,
			wantContains: []string{"<a", "href", "https://example.com/pricing", "料金ページ", "</a>"},
		},
		{
			name:         "ulタグとliタグが許可される",
			input:        "<ul><li>Starter</li><li>Pro</li></ul>",
			wantContains: []string{"<ul>", "<li>", "Starter", "Pro", "</li>", "</ul>"},
		},
		{
			name:         "strongタグが許可される",
			input:        "<strong>月額$29</strong>",
			wantContains: []string{"<strong>月額$29</strong>"},
		},
		{
			name:         "imgタグがhttps srcで許可される",
			input:        `<img src="https://example.com/chart.png" alt="価格推移">`,
			wantContains: []string{"<img", "src", "https://example.com/chart.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_ForbiddenTags は禁止タグが除去されることを検証する。
func TestSanitize_ForbiddenTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantAbsent   []string
		wantContains []string
	}{
		{
			name:         "scriptタグが除去される",
			input:        `<p>テスト</p><script>alert('xss')</script><p>安全</p>`,
			wantAbsent:   []string{"<script", "</script>", "alert"},
			wantContains: []string{"テスト", "安全"},
		},
		{
			name:         "iframeタグが除去される",
			input:        `<p>テスト</p><iframe src="https://evil.com"></iframe>`,
			wantAbsent:   []string{"<iframe", "</iframe>", "evil.com"},
			wantContains: []string{"テスト"},
		},
		{
			name:         "styleタグが除去される",
			input:        `<p>テスト</p><style>body{display:none}</style>`,
			wantAbsent:   []string{"<style", "</style>", "display:none"},
			wantContains: []string{"テスト"},
		},
		{
			name:         "許可されていないタグ（div）が除去される",
			input:        `<div><p>テスト</p></div>`,
			wantAbsent:   []string{"<div", "</div>"},
			wantContains: []string{"<p>テスト</p>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_OnEventAttributes はon*イベント属性が除去されることを検証する。
func TestSanitize_OnEventAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "onclickが除去される",
			input:      `<p onclick="alert('xss')">テスト</p>`,
			wantAbsent: []string{"onclick", "alert"},
		},
		{
			name:       "onerrorが除去される",
			input:      `<img src="https://example.com/img.png" onerror="alert('xss')">`,
			wantAbsent: []string{"onerror", "alert"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_ImgHTTPSOnly はimgタグのsrc属性がhttpsスキームのみ許可されることを検証する。
func TestSanitize_ImgHTTPSOnly(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<img src="http://example.com/image.png" alt="危険な画像">`)
	if strings.Contains(got, "http://example.com/image.png") {
		t.Errorf("http imgは拒否されるべき: %q", got)
	}

	got = sanitizer.Sanitize(`<img src="javascript:alert('xss')" alt="XSS">`)
	if strings.Contains(got, "javascript:") {
		t.Errorf("javascript URIは拒否されるべき: %q", got)
	}
}

// TestSanitize_AnchorAttributes はaタグにtarget="_blank"とrel属性が自動付与されることを検証する。
func TestSanitize_AnchorAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<a href="https://example.com/pricing">料金ページ</a>`)

	for _, want := range []string{`target="_blank"`, "noopener", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("結果に %q が含まれていない: %q", want, got)
		}
	}
}

// TestSanitize_EmptyInput は空文字列の入力を安全に処理できることを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, expected empty string", got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力（冪等性）を検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>Proプラン<strong>$49</strong></p><a href="https://example.com">詳細</a>`

	result1 := sanitizer.Sanitize(input)
	result2 := sanitizer.Sanitize(result1) // 二重サニタイズ

	if result1 != result2 {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 二重=%q", result1, result2)
	}
}

// TestStripTags はプラン名・価格ラベルから全タグが除去されることを検証する。
func TestStripTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "spanタグが除去される",
			input: `<span class="plan-name">Starter</span>`,
			want:  "Starter",
		},
		{
			name:  "scriptタグと中身が除去される",
			input: `Pro<script>alert('xss')</script>`,
			want:  "Pro",
		},
		{
			name:  "プレーンテキストはそのまま",
			input: "Enterprise",
			want:  "Enterprise",
		},
		{
			name:  "前後の空白が除去される",
			input: "  $29/mo  ",
			want:  "$29/mo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.StripTags(tt.input); got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestContentSanitizerInterface はContentSanitizerServiceインターフェースの適合を検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
