package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var followUpTemplate = template.Must(template.ParseFS(templateFS, "templates/followup.html"))

type followUpEmailData struct {
	Subject    string
	Paragraphs [][]string
	Agency     string
}

// renderFollowUpHTML wraps a plain-text follow-up in the HTML layout.
// Blank lines split paragraphs; single newlines become <br>.
func renderFollowUpHTML(subject, body, agency string) (string, error) {
	data := followUpEmailData{Subject: subject, Agency: agency}
	for _, block := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		data.Paragraphs = append(data.Paragraphs, strings.Split(block, "\n"))
	}

	var buf bytes.Buffer
	if err := followUpTemplate.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute follow-up email template: %w", err)
	}
	return buf.String(), nil
}
