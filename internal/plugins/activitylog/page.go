package activitylog

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
)

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;width:100%}
th,td{border-bottom:1px solid #e4e7eb;padding:.5rem;text-align:left;vertical-align:top}
.sev-warning{color:#b7791f}.sev-error{color:#c53030}.sev-critical{color:#fff;background:#c53030}
.count{font-size:.8em;color:#616e7c}details{font-size:.85em}nav a{margin-right:1rem}`

// ActivityPage renders the HTML feed. Every interpolated value goes through
// templ.EscapeString.
func ActivityPage(page *FeedPage, q FeedQuery) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		e := templ.EscapeString

		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Activity log</title><style>`)
		b.WriteString(pageStyle)
		b.WriteString(`</style></head><body><h1>Activity log</h1>`)
		fmt.Fprintf(&b, `<p>%d records</p>`, page.Total)

		if len(page.Entries) == 0 {
			b.WriteString(`<p>No activity recorded yet.</p>`)
		} else {
			b.WriteString(`<table><thead><tr><th>When</th><th>Event</th><th>Severity</th><th>User</th><th>IP</th><th>Message</th></tr></thead><tbody>`)
			for _, entry := range page.Entries {
				b.WriteString(`<tr>`)
				fmt.Fprintf(&b, `<td><time datetime="%s">%s</time></td>`,
					e(entry.UpdatedAt.UTC().Format(time.RFC3339)), e(entry.UpdatedAt.UTC().Format("2006-01-02 15:04")))
				fmt.Fprintf(&b, `<td>%s <span class="count">#%d %s/%s</span></td>`,
					e(entry.EventTitle), entry.EventID, e(entry.EventGroup), e(entry.EventSlug))
				fmt.Fprintf(&b, `<td class="sev-%s">%s</td>`, e(entry.Severity), e(entry.Severity))
				fmt.Fprintf(&b, `<td>%s</td>`, e(strconv.FormatInt(entry.UserID, 10)))
				fmt.Fprintf(&b, `<td>%s</td>`, e(entry.SourceIP))

				b.WriteString(`<td>`)
				b.WriteString(e(entry.Summary))
				if entry.LogCounter > 1 {
					fmt.Fprintf(&b, ` <span class="count">×%d</span>`, entry.LogCounter)
				}
				writeFields(&b, "Details", entry.MessageFields)
				b.WriteString(`</td></tr>`)
			}
			b.WriteString(`</tbody></table>`)
		}

		b.WriteString(`<nav>`)
		if page.Page > 1 {
			fmt.Fprintf(&b, `<a href="%s">Newer</a>`, e(pageLink(q, page.Page-1)))
		}
		if page.Page < page.TotalPages() {
			fmt.Fprintf(&b, `<a href="%s">Older</a>`, e(pageLink(q, page.Page+1)))
		}
		b.WriteString(`</nav></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeFields(b *strings.Builder, label string, fields []flatten.Field) {
	if len(fields) == 0 {
		return
	}
	e := templ.EscapeString
	fmt.Fprintf(b, `<details><summary>%s</summary><dl>`, e(label))
	for _, f := range fields {
		if f.Name == flatten.BannerField {
			fmt.Fprintf(b, `<dt>updated</dt><dd>%s</dd>`, e(f.Value))
			continue
		}
		fmt.Fprintf(b, `<dt>%s</dt><dd>%s</dd>`, e(f.Name), e(f.Value))
	}
	b.WriteString(`</dl></details>`)
}

// pageLink keeps the active filters on pagination links.
func pageLink(q FeedQuery, page int) string {
	v := url.Values{}
	if q.EventID > 0 {
		v.Set("event_id", strconv.Itoa(q.EventID))
	}
	if q.Group != "" {
		v.Set("group", q.Group)
	}
	if q.ObjectID > 0 {
		v.Set("object_id", strconv.FormatInt(q.ObjectID, 10))
	}
	if q.UserID > 0 {
		v.Set("user_id", strconv.FormatInt(q.UserID, 10))
	}
	if q.Severity != "" {
		v.Set("severity", q.Severity)
	}
	v.Set("page", strconv.Itoa(page))
	return "/activity?" + v.Encode()
}
