package crawl

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot response detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a response for challenge pages and JavaScript-only
// shells. A blocked page is treated as a fetch failure.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "checking your browser"),
		strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "cf-challenge"):
		return BlockCloudflare
	case strings.Contains(lower, "g-recaptcha"),
		strings.Contains(lower, "h-captcha"),
		strings.Contains(lower, "captcha-container"):
		return BlockCaptcha
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return BlockJSShell
		}
	}
	return BlockNone
}
