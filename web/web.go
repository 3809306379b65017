// Package web holds the embedded screens and stylesheet served by the
// front-end. Templates are parsed once at startup and handed to gin.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/docchain/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

var (
	markdownOnce sync.Once
	markdownMD   goldmark.Markdown
)

// getMarkdown returns the shared converter. Raw HTML in document content is
// omitted and dangerous link schemes are dropped by goldmark's defaults.
func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownMD = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownMD
}

// Markdown renders document content to HTML.
func Markdown(source string) template.HTML {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(source) + "</pre>")
	}
	return template.HTML(buf.String())
}

// FuncMap is available to every screen.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"markdown": Markdown,
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("Jan 2, 2006")
		},
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("Jan 2, 2006 15:04:05")
		},
		"actionLabel": ActionLabel,
		"statusLabel": func(s model.Status) string {
			return capitalize(string(s))
		},
	}
}

// ActionLabel is the human text for a history action.
func ActionLabel(a model.Action) string {
	switch a {
	case model.ActionCreate:
		return "Created"
	case model.ActionView:
		return "Viewed"
	case model.ActionApprove:
		return "Approved"
	case model.ActionReject:
		return "Rejected"
	default:
		return capitalize(string(a))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Templates parses every embedded screen.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(FuncMap()).ParseFS(templateFiles, "templates/*.html")
}

// Static serves the stylesheet under /static.
func Static() http.FileSystem {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}
