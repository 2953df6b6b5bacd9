package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

// ErrorPage renders a minimal HTML error page.
func ErrorPage(code int, message string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%d %s</title></head>`+
				`<body style="font-family:system-ui,sans-serif;margin:2rem"><h1>%d %s</h1><p>%s</p></body></html>`,
			code, templ.EscapeString(http.StatusText(code)),
			code, templ.EscapeString(http.StatusText(code)),
			templ.EscapeString(message),
		)
		return err
	})
}
