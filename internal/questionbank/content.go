package questionbank

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractContent removes <img> tags from an HTML fragment and returns the
// remaining markup together with the image sources in document order. Other
// formatting tags (sup, sub, b, br...) are left untouched.
func ExtractContent(fragment string) (string, []string) {
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return strings.TrimSpace(fragment), nil
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	var images []string

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String()), images

		case html.StartTagToken, html.SelfClosingTagToken:
			// Raw is invalidated by TagName and TagAttr.
			raw := string(z.Raw())
			name, hasAttr := z.TagName()
			if string(name) != "img" {
				b.WriteString(raw)
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "src" && len(val) > 0 {
					images = append(images, string(val))
				}
			}

		default:
			b.Write(z.Raw())
		}
	}
}
