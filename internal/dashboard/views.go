package dashboard

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates/*.html
var viewsFS embed.FS

// loadTemplatesFromFS parses the fallback page templates under dir.
func loadTemplatesFromFS(fsys fs.FS, dir string) (*template.Template, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, err
	}
	return template.ParseFS(sub, "*.html")
}

// LoadTemplates parses the embedded fallback dashboard.
func LoadTemplates() (*template.Template, error) {
	return loadTemplatesFromFS(viewsFS, "templates")
}

type PageData struct {
	DeviceID      string
	AverageTarget int
	HistorySize   int
}

func renderIndex(tmpl *template.Template, w io.Writer, data PageData) error {
	return tmpl.ExecuteTemplate(w, "index.html", data)
}
