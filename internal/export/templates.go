package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportHTML))

// TemplateData holds data for report rendering.
type TemplateData struct {
	WorkspaceLabel string
	GeneratedAt    time.Time
	Released       []ReleasedRow
	Rejected       []RejectedRow
	TotalEarnings  float64
	TotalPlays     int64
}

// ReleasedRow is one vault track in the report.
type ReleasedRow struct {
	Title       string
	ArtistName  string
	Genre       string
	ReleaseDate string
	Earnings    float64
	Plays       int64
}

// RejectedRow is one archived track in the report.
type RejectedRow struct {
	Title      string
	ArtistName string
	Reason     string
}

// RenderReportHTML renders the archive report template.
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
  <title>Archive Report - {{.WorkspaceLabel}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0 2rem; }
    th { text-align: left; border-bottom: 1px solid #333; padding: 0.3rem 0.5rem; }
    td { border-bottom: 1px solid #ddd; padding: 0.3rem 0.5rem; }
    .num { text-align: right; }
    .totals { font-weight: bold; }
    .reason { color: #666; font-style: italic; }
  </style>
</head>
<body>
  <h1>Archive Report</h1>
  <div class="meta">{{.WorkspaceLabel}} | generated {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>

  <h2>Released Catalog</h2>
  {{if .Released}}
  <table>
    <tr><th>Title</th><th>Artist</th><th>Genre</th><th>Released</th><th class="num">Earnings</th><th class="num">Plays</th></tr>
    {{range .Released}}
    <tr>
      <td>{{.Title}}</td><td>{{.ArtistName}}</td><td>{{lower .Genre}}</td>
      <td>{{.ReleaseDate}}</td>
      <td class="num">{{printf "%.2f" .Earnings}}</td>
      <td class="num">{{.Plays}}</td>
    </tr>
    {{end}}
    <tr class="totals">
      <td colspan="4">Total</td>
      <td class="num">{{printf "%.2f" .TotalEarnings}}</td>
      <td class="num">{{.TotalPlays}}</td>
    </tr>
  </table>
  {{else}}<p>No released tracks.</p>{{end}}

  <h2>Rejected &amp; Archived</h2>
  {{if .Rejected}}
  <table>
    <tr><th>Title</th><th>Artist</th><th>Reason</th></tr>
    {{range .Rejected}}
    <tr><td>{{.Title}}</td><td>{{.ArtistName}}</td><td class="reason">{{.Reason}}</td></tr>
    {{end}}
  </table>
  {{else}}<p>No archived tracks.</p>{{end}}
</body>
</html>`
