package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"PositionScanner/internal/domain"
)

// Message is a composed notification email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Composer renders batches into email messages.
type Composer struct {
	siteTitle string
	tmpl      *template.Template
	now       func() time.Time
}

type positionView struct {
	Number   int
	Title    string
	URL      string
	Deadline string
	Keywords string
}

type messageView struct {
	SiteTitle string
	Greeting  string
	Source    string
	Date      string
	Positions []positionView
}

const htmlLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.SiteTitle}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <p>Dear {{.Greeting}},<br>
  here are the new positions advertised on {{.Source}}.<br>{{.Date}}</p>
  {{range .Positions}}
  <div style="border: 1px solid #e5e7eb; border-radius: 6px; padding: 15px; margin: 15px 0;">
    <p><span style="font-weight: bold">Position {{.Number}}:</span> {{.Title}}</p>
    <p><span style="font-weight: bold">Matched Keywords:</span> <span style="color:#68677b">{{.Keywords}}</span></p>
    {{if .Deadline}}<p><span style="font-weight: bold">Apply Before:</span> {{.Deadline}}</p>{{end}}
    {{if .URL}}<p><a href="{{.URL}}">{{.URL}}</a></p>{{end}}
  </div>
  {{end}}
  <p style="font-size: 12px; color: #6b7280;">This email was sent by {{.SiteTitle}}</p>
</body>
</html>`

// NewComposer builds a composer; siteTitle signs every message.
func NewComposer(siteTitle string) *Composer {
	if siteTitle == "" {
		siteTitle = "PositionScanner"
	}
	return &Composer{
		siteTitle: siteTitle,
		tmpl:      template.Must(template.New("notification").Parse(htmlLayout)),
		now:       time.Now,
	}
}

// Compose renders the batch. Positions keep batch order.
func (c *Composer) Compose(batch domain.Batch) (Message, error) {
	view := messageView{
		SiteTitle: c.siteTitle,
		Greeting:  batch.Subscriber.Name(),
		Source:    batch.Source.DisplayName(),
		Date:      c.now().Format("January 02, 2006"),
	}
	for i, m := range batch.Matches {
		view.Positions = append(view.Positions, positionView{
			Number:   i + 1,
			Title:    m.Item.Title,
			URL:      m.Item.URL,
			Deadline: m.Item.Deadline,
			Keywords: strings.Join(m.MatchedKeywords, ", "),
		})
	}

	var html bytes.Buffer
	if err := c.tmpl.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("[%s] %d new position(s) from %s", c.siteTitle, len(batch.Matches), view.Source),
		HTML:    html.String(),
		Text:    renderText(view),
	}, nil
}

func renderText(v messageView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\nhere are the new positions advertised on %s.\n%s\n", v.Greeting, v.Source, v.Date)
	for _, p := range v.Positions {
		fmt.Fprintf(&b, "\nPosition %d: %s\n", p.Number, p.Title)
		fmt.Fprintf(&b, "Matched Keywords: %s\n", p.Keywords)
		if p.Deadline != "" {
			fmt.Fprintf(&b, "Apply Before: %s\n", p.Deadline)
		}
		if p.URL != "" {
			fmt.Fprintf(&b, "%s\n", p.URL)
		}
	}
	fmt.Fprintf(&b, "\nThis email was sent by %s\n", v.SiteTitle)
	return b.String()
}
