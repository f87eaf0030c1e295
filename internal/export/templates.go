package export

import (
	"bytes"
	"embed"
	"html/template"
	"math"
	"strconv"
	"strings"
	"time"

	"peritaje/api/internal/appraisal"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"cop":          formatCOP,
		"formatNumber": formatNumber,
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title       string
	Report      appraisal.Report
	GeneratedAt time.Time
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	if data.Title == "" {
		data.Title = "Peritaje inmobiliario"
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatCOP renders an amount in Colombian pesos with dot thousands separators.
func formatCOP(amount float64) string {
	return "$" + groupThousands(int64(math.Round(amount)))
}

func formatNumber(value float64) string {
	if value == math.Trunc(value) {
		return groupThousands(int64(value))
	}
	return strings.Replace(strconv.FormatFloat(value, 'f', 2, 64), ".", ",", 1)
}

func groupThousands(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var out strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out.WriteByte('.')
		}
		out.WriteRune(r)
	}
	return sign + out.String()
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.Report.BasicInfo.City}} | {{.Report.BasicInfo.PropertyType}} | {{.Report.BasicInfo.Address}}</p>
</body>
</html>`
