package security

import (
	"testing"
	"time"
)

// ValidateRedirectTargetが安全なURLを許可することを検証
func TestValidateRedirectTarget_AllowsPublicURLs(t *testing.T) {
	guard := NewRedirectGuard()

	tests := []string{
		"https://example.com/portal",
		"http://example.com/welcome?device=aa:bb:cc:dd:ee:ff",
		"https://8.8.8.8/page",
	}

	for _, u := range tests {
		if err := guard.ValidateRedirectTarget(u); err != nil {
			t.Errorf("ValidateRedirectTarget(%q) = %v, want nil", u, err)
		}
	}
}

// ValidateRedirectTargetが危険なURLを拒否することを検証
func TestValidateRedirectTarget_BlocksDangerousURLs(t *testing.T) {
	guard := NewRedirectGuard()

	tests := []struct {
		name string
		url  string
	}{
		{"空URL", ""},
		{"javascriptスキーム", "javascript:alert(1)"},
		{"ホストなし", "https://"},
		{"ループバックIP", "http://127.0.0.1/admin"},
		{"プライベートIP", "http://10.0.0.5/internal"},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/"},
		{"localhost", "http://localhost:8080/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateRedirectTarget(tt.url); err == nil {
				t.Errorf("ValidateRedirectTarget(%q) = nil, want error", tt.url)
			}
		})
	}
}

// NewSafeClientがタイムアウト付きのクライアントを返すことを検証
func TestNewSafeClient_ReturnsClient(t *testing.T) {
	guard := NewRedirectGuard()

	client := guard.NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("expected non-nil http client")
	}
}

// Sanitizeがタグを除去しプレーンテキストを残すことを検証
func TestDisplaySanitizer_StripsTags(t *testing.T) {
	sanitizer := NewDisplaySanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "Joe&#39;s Pizza", "Joe&#39;s Pizza"},
		{"scriptタグ", `<script>alert(1)</script>Pizza`, "Pizza"},
		{"imgタグ", `Cafe <img src=x onerror=alert(1)>Aroma`, "Cafe Aroma"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Sanitizeが冪等であることを検証
func TestDisplaySanitizer_Idempotent(t *testing.T) {
	sanitizer := NewDisplaySanitizer()

	input := `<b>Joe's</b> Pizza`
	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)

	if once != twice {
		t.Errorf("Sanitize not idempotent: %q != %q", once, twice)
	}
}
