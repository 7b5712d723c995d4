package fetch

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const fallbackFilename = "icon"

// SuggestFilename 依次尝试 Content-Disposition、最终请求 URL 的路径末段，
// 缺少扩展名时根据 Content-Type 补齐。
func SuggestFilename(resp *http.Response) string {
	name := dispositionFilename(resp.Header.Get("Content-Disposition"))
	if name == "" && resp.Request != nil && resp.Request.URL != nil {
		name = urlFilename(resp.Request.URL)
	}
	if name == "" {
		name = fallbackFilename
	}
	if path.Ext(name) == "" {
		name += extensionFor(resp.Header.Get("Content-Type"))
	}
	return name
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return cleanName(params["filename"])
}

func urlFilename(u *url.URL) string {
	base := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return cleanName(base)
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

func extensionFor(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
