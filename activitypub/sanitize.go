package activitypub

import "github.com/microcosm-cc/bluemonday"

// contentPolicy is the HTML policy applied to every remote content and
// summary field before storage. Only a small whitelist of inline tags
// survives; everything else is stripped, the inner text kept.
var contentPolicy = buildContentPolicy()

func buildContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "br", "em", "strong", "u")
	p.AllowAttrs("href", "rel", "class").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "class").OnElements("img")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}

// SanitizeContent strips disallowed HTML from remote text. The operation
// is idempotent: sanitizing already sanitized content is a no-op.
func SanitizeContent(content string) string {
	return contentPolicy.Sanitize(content)
}
