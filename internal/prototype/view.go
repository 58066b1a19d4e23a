package prototype

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

const viewTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}} - flowtrace</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #1f2328; }
    pre { padding: 1rem; overflow-x: auto; border-radius: 6px; background: #f6f8fa; }
    .meta { color: #656d76; font-size: 0.9rem; }
  </style>
</head>
<body>
  <p class="meta">{{.Key}} &middot; mode {{.Mode}}</p>
  <article>
    {{.Content}}
  </article>
</body>
</html>`

var viewTmpl = template.Must(template.New("bundle").Parse(viewTemplate))

type viewData struct {
	Title   string
	Key     string
	Mode    Mode
	Content template.HTML
}

// RenderHTML renders the bundle in dir as a standalone HTML page: the
// report (or a heading), the build prompt and the highlighted script.
func RenderHTML(dir string) ([]byte, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	var src strings.Builder
	if report, ok := readOptional(dir, m.Optional["gpt_report"]); ok {
		src.WriteString(report)
		src.WriteString("\n\n")
	} else {
		fmt.Fprintf(&src, "# %s\n\n", m.DisplayName)
	}
	if prompt, ok := readOptional(dir, m.Optional["cursor_prompt"]); ok {
		src.WriteString("## Build prompt\n\n```text\n")
		src.WriteString(strings.TrimRight(prompt, "\n"))
		src.WriteString("\n```\n\n")
	}
	script, err := os.ReadFile(filepath.Join(dir, ScriptFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	if len(script) > 0 {
		src.WriteString("## Script\n\n```python\n")
		src.Write(bytes.TrimRight(script, "\n"))
		src.WriteString("\n```\n")
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(src.String()), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var out bytes.Buffer
	err = viewTmpl.Execute(&out, viewData{
		Title:   m.DisplayName,
		Key:     m.Key,
		Mode:    m.Mode,
		Content: template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering bundle page: %w", err)
	}
	return out.Bytes(), nil
}

func readOptional(dir string, f OptionalFile) (string, bool) {
	if !f.Exists || f.Path == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(f.Path)))
	if err != nil {
		return "", false
	}
	return string(data), true
}
