package feed

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// ThumbnailURL 依次尝试 media:thumbnail、media:group、图片类 media:content、
// item 图片、图片附件、iTunes 图片以及正文中的第一张 <img>。
// 相对地址按条目链接解析，非 http/https 地址被跳过。
func ThumbnailURL(it *gofeed.Item) string {
	if it == nil {
		return ""
	}
	for _, candidate := range candidates(it) {
		if u := absoluteHTTP(candidate, it.Link); u != "" {
			return u
		}
	}
	return ""
}

func candidates(it *gofeed.Item) []string {
	var out []string
	if media, ok := it.Extensions["media"]; ok {
		out = append(out, mediaThumbnails(media)...)
		for _, group := range media["group"] {
			out = append(out, mediaThumbnails(group.Children)...)
		}
	}
	if it.Image != nil {
		out = append(out, it.Image.URL)
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			out = append(out, enc.URL)
		}
	}
	if it.ITunesExt != nil {
		out = append(out, it.ITunesExt.Image)
	}
	for _, html := range []string{it.Content, it.Description} {
		out = append(out, firstImage(html))
	}
	return out
}

func mediaThumbnails(media map[string][]ext.Extension) []string {
	var out []string
	for _, thumb := range media["thumbnail"] {
		out = append(out, thumb.Attrs["url"])
	}
	for _, content := range media["content"] {
		if content.Attrs["medium"] == "image" || strings.HasPrefix(content.Attrs["type"], "image/") {
			out = append(out, content.Attrs["url"])
		}
	}
	return out
}

// firstImage 返回 HTML 片段中第一张图片的 src。
func firstImage(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

func absoluteHTTP(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if baseURL, err := url.Parse(strings.TrimSpace(base)); err == nil && baseURL.IsAbs() {
		ref = baseURL.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
