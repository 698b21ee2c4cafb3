package article

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"classhub/internal/models"
)

//go:embed templates/article.html
var pageTemplate string

// Renderer turns Markdown into a standalone HTML page. Raw HTML in the source
// is not passed through.
type Renderer struct {
	md   goldmark.Markdown
	page *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		page: template.Must(template.New("article").Parse(pageTemplate)),
	}
}

func (r *Renderer) Render(a models.Article, source []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := r.md.Convert(source, &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	err := r.page.Execute(&out, struct {
		Title   string
		Author  string
		Created string
		Body    template.HTML
	}{
		Title:   a.Title,
		Author:  a.AuthorName,
		Created: a.CreatedAt.UTC().Format("2006-01-02 15:04"),
		Body:    template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return out.Bytes(), nil
}
