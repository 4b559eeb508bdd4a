package sources

import (
	"fmt"
	"strings"
)

// ConfigString returns the trimmed string value for key from source.Config or a fallback.
func ConfigString(src Source, key, fallback string) string {
	if src.Config != nil {
		if raw, ok := src.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey = "user_agent"
	ConfigAcceptKey    = "accept"
	ConfigHeadersKey   = "headers"
	ConfigDataKey      = "data_key"
)

const defaultAccept = "application/json"

// Headers builds the request headers for a source: user agent and accept
// shortcuts plus any free-form entries under config.headers.
func Headers(src Source) map[string]string {
	headers := map[string]string{
		"Accept": ConfigString(src, ConfigAcceptKey, defaultAccept),
	}
	if v := ConfigString(src, ConfigUserAgentKey, ""); v != "" {
		headers["User-Agent"] = v
	}

	extra, _ := src.Config[ConfigHeadersKey].(map[string]any)
	for k, v := range extra {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			headers[k] = s
		}
	}
	return headers
}
