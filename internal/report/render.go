package report

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"sonarboard/internal/domain"
)

// reportData is the root of the rendered report
type reportData struct {
	Period      domain.ReportPeriod
	GeneratedAt time.Time
	Entities    []entitySection
}

// entitySection is one project's block in the report
type entitySection struct {
	Key     string
	Name    string
	Score   float64
	Current domain.MetricValues
	Changes []domain.MetricChange
	Alerts  []domain.Alert
	Trends  []domain.Trend
	Summary string
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":   formatPercent,
	"num":   func(v float64) string { return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".") },
	"title": titlecase,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Arial, sans-serif; color: #333; max-width: 900px; margin: 0 auto; }
  h1 { color: #236a97; border-bottom: 2px solid #236a97; padding-bottom: 8px; }
  h2 { color: #236a97; margin-top: 32px; }
  table { border-collapse: collapse; width: 100%; margin: 12px 0; }
  th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
  th { background: #f4f6f8; }
  .score { font-size: 1.4em; font-weight: bold; }
  .alert { color: #c0392b; }
  .improving { color: #27ae60; }
  .worsening { color: #c0392b; }
  .stable { color: #7f8c8d; }
  .summary { background: #f4f6f8; padding: 12px; border-left: 4px solid #236a97; }
</style>
</head>
<body>
<h1>{{title .Period}} Quality Report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04 UTC"}}</p>
{{if not .Entities}}<p>No projects with recorded metrics.</p>{{end}}
{{range .Entities}}
<h2>{{.Name}} <small>({{.Key}})</small></h2>
<p class="score">Quality score: {{num .Score}}/100</p>
<p class="summary">{{.Summary}}</p>
<table>
  <tr><th>Metric</th><th>Previous</th><th>Current</th><th>Change</th></tr>
  {{range .Changes}}
  <tr>
    <td>{{.Metric}}</td>
    <td>{{num .Previous}}</td>
    <td>{{num .Current}}</td>
    <td>{{pct .}}</td>
  </tr>
  {{end}}
</table>
{{if .Alerts}}
<h3 class="alert">Critical issues</h3>
<table>
  <tr><th>Metric</th><th>Previous</th><th>Current</th><th>Change</th><th>Threshold</th></tr>
  {{range .Alerts}}
  <tr class="alert">
    <td>{{.Metric}}</td>
    <td>{{num .Previous}}</td>
    <td>{{num .Current}}</td>
    <td>{{num .ChangePercent}}%</td>
    <td>{{num .Threshold}}%</td>
  </tr>
  {{end}}
</table>
{{end}}
{{if .Trends}}
<h3>30-day trends</h3>
<table>
  <tr><th>Metric</th><th>Direction</th><th>Mean daily change</th></tr>
  {{range .Trends}}
  <tr>
    <td>{{.Metric}}</td>
    <td class="{{.Direction}}">{{.Direction}}</td>
    <td>{{num .ChangeRate}}</td>
  </tr>
  {{end}}
</table>
{{end}}
{{end}}
</body>
</html>
`))

var alertTemplate = template.Must(template.New("alerts").Funcs(template.FuncMap{
	"num": func(v float64) string { return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".") },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
<h1 style="color: #c0392b;">Quality Alerts</h1>
<table border="1" cellpadding="8" style="border-collapse: collapse;">
  <tr><th>Project</th><th>Metric</th><th>Previous</th><th>Current</th><th>Change</th><th>Threshold</th></tr>
  {{range .}}
  <tr>
    <td>{{.EntityKey}}</td>
    <td>{{.Metric}}</td>
    <td>{{num .Previous}}</td>
    <td>{{num .Current}}</td>
    <td>{{num .ChangePercent}}%</td>
    <td>{{num .Threshold}}%</td>
  </tr>
  {{end}}
</table>
</body>
</html>
`))

// RenderAlerts produces the alert notification email body
func RenderAlerts(alerts []domain.Alert) (string, error) {
	var b strings.Builder
	if err := alertTemplate.Execute(&b, alerts); err != nil {
		return "", err
	}
	return b.String(), nil
}

// render produces the final HTML document
func render(data reportData) (string, error) {
	var b strings.Builder
	if err := reportTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// formatPercent renders a change cell, handling the unbounded case
func formatPercent(c domain.MetricChange) string {
	if c.Unbounded {
		return "new"
	}
	return fmt.Sprintf("%+.1f%%", c.ChangePercent)
}

func titlecase(p domain.ReportPeriod) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
