package export

import (
	"bytes"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Parse(reportHTML))

// TemplateData holds data for report template rendering
type TemplateData struct {
	TemplateName   string
	DisclosureType string
	Version        int
	CaseReference  string
	SubmittedAt    time.Time
	ContentHTML    template.HTML
}

// RenderReportHTML renders the disclosure report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.TemplateName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .section { margin: 1.5rem 0; }
    .section h2 { font-size: 1.1em; border-bottom: 1px solid #ddd; padding-bottom: 0.25rem; }
    .answer { margin: 0.75rem 0; }
    .label { font-weight: bold; }
    .value { margin-left: 0.5rem; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{.TemplateName}}</h1>
  <div class="meta">
    {{.DisclosureType}} | Version {{.Version}}{{if .CaseReference}} | {{.CaseReference}}{{end}}
    | Submitted {{.SubmittedAt.Format "Jan 2, 2006 15:04 MST"}}
  </div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
