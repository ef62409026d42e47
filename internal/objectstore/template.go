package objectstore

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// KeyVars are the values substituted into a path template.
type KeyVars struct {
	ID        string
	MediaType string
	Ext       string
	Date      time.Time
}

var placeholders = []string{"{id}", "{media_type}", "{ext}", "{date}"}

// RenderKey substitutes vars into template. Values are percent-escaped so
// they cannot introduce extra path segments and distinct ids never render to
// the same key.
func RenderKey(template string, vars KeyVars) (string, error) {
	template = strings.TrimSpace(template)
	if !strings.Contains(template, "{id}") {
		return "", errors.New("path template must contain {id}")
	}
	if strings.TrimSpace(vars.ID) == "" {
		return "", errors.New("path template: id is required")
	}
	id := escapeSegment(vars.ID)
	mediaType := escapeSegment(strings.TrimSpace(vars.MediaType))
	if mediaType == "" {
		mediaType = "unknown"
	}
	ext := strings.ToLower(escapeSegment(strings.TrimSpace(vars.Ext)))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	date := vars.Date
	if date.IsZero() {
		date = time.Now()
	}

	replacer := strings.NewReplacer(
		"{id}", id,
		"{media_type}", mediaType,
		"{ext}", ext,
		"{date}", date.UTC().Format("2006-01-02"),
	)
	key := path.Clean(replacer.Replace(template))
	if strings.Contains(key, "{") {
		return "", fmt.Errorf("path template %q has an unknown placeholder (supported: %s)", template, strings.Join(placeholders, ", "))
	}
	return strings.TrimLeft(key, "/"), nil
}

// ExtensionFromURL returns the file extension of the last path segment of
// rawURL, ignoring the query string, or fallback when there is none.
func ExtensionFromURL(rawURL, fallback string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	ext := path.Ext(trimmed)
	if len(ext) < 2 || len(ext) > 6 {
		return fallback
	}
	return strings.ToLower(ext)
}

// escapeSegment percent-escapes value for use inside one path segment. Dots
// are escaped too when the whole value is "." or "..".
func escapeSegment(value string) string {
	escaped := url.PathEscape(value)
	if strings.Trim(escaped, ".") == "" {
		escaped = strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}
