// Package sanitize cleans stored activity text before it is displayed. Field
// values come from the host (post titles, meta values, user agents) and may
// carry markup; the feed shows them as plain text, while event titles keep a
// small set of inline formatting tags.
package sanitize

import (
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
)

var (
	strict     *bluemonday.Policy
	inline     *bluemonday.Policy
	policyOnce sync.Once
)

// policies initializes the shared policies on first use.
func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policyOnce.Do(func() {
		strict = bluemonday.StrictPolicy()

		inline = bluemonday.NewPolicy()
		inline.AllowElements("b", "strong", "i", "em", "code", "span")
		inline.AllowAttrs("class").OnElements("span", "code")
	})
	return strict, inline
}

// Text strips all markup and returns plain text. Entities are decoded so the
// result can be escaped exactly once by whatever renders it.
func Text(input string) string {
	if input == "" {
		return ""
	}
	p, _ := policies()
	return html.UnescapeString(p.Sanitize(input))
}

// HTML keeps inline formatting tags and drops everything else, including
// script, links and event handlers. The output is safe for templ.Raw.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	_, p := policies()
	return p.Sanitize(input)
}

// Fields returns a copy of fields with every name and value passed through
// Text. Update banners are kept as-is.
func Fields(fields []flatten.Field) []flatten.Field {
	out := make([]flatten.Field, len(fields))
	for i, f := range fields {
		if f.Name == flatten.BannerField {
			out[i] = f
			continue
		}
		out[i] = flatten.Field{Name: Text(f.Name), Value: Text(f.Value)}
	}
	return out
}
