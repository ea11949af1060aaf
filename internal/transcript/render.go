package transcript

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const page = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;background:#313338;color:#dbdee1;margin:0;padding:24px}
header{border-bottom:1px solid #4e5058;margin-bottom:16px}
.msg{display:flex;gap:12px;margin:12px 0}
.avatar{width:40px;height:40px;border-radius:50%;background:#5865f2}
.author{font-weight:600;color:#f2f3f5}
.bot{font-size:10px;background:#5865f2;border-radius:3px;padding:1px 4px;margin-left:4px}
.time{font-size:12px;color:#949ba4;margin-left:6px}
.embed{border-left:4px solid #5865f2;background:#2b2d31;padding:8px 12px;margin-top:4px;border-radius:4px}
.field{margin-top:6px}
.footer{font-size:12px;color:#949ba4;margin-top:6px}
a{color:#00a8fc}
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<p>Ticket {{.TicketID}} ({{.Type}}) opened by {{.RequesterID}}{{if .CloseUserID}}, closed by {{.CloseUserID}}{{end}}{{if .CloseReason}}: {{.CloseReason}}{{end}}</p>
<p>#{{.ChannelName}} &middot; generated {{.Generated.Format "2006-01-02 15:04:05 MST"}} &middot; {{len .Entries}} messages</p>
</header>
{{range .Entries}}<div class="msg" id="m-{{.ID}}">
{{if .AuthorAvatar}}<img class="avatar" src="{{.AuthorAvatar}}" alt="">{{else}}<div class="avatar"></div>{{end}}
<div>
<div><span class="author">{{.AuthorName}}</span>{{if .Bot}}<span class="bot">BOT</span>{{end}}<span class="time">{{.At.Format "2006-01-02 15:04"}}</span></div>
{{if .Content}}<div class="content">{{.Content}}</div>{{end}}
{{range .Embeds}}<div class="embed">
{{if .Title}}<div class="author">{{.Title}}</div>{{end}}
{{if .Description}}<div>{{.Description}}</div>{{end}}
{{range .Fields}}<div class="field"><strong>{{.Name}}</strong><div>{{.Value}}</div></div>{{end}}
{{if .Footer}}<div class="footer">{{.Footer}}</div>{{end}}
</div>{{end}}
{{range .Attachments}}<div><a href="{{.URL}}">{{.Name}}</a></div>{{end}}
</div>
</div>
{{end}}</body>
</html>
`

// Renderer turns a Document into HTML. Message and embed text is markdown; raw HTML
// in it is escaped.
type Renderer struct {
	md   goldmark.Markdown
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
	r.tmpl = template.Must(template.New("transcript").Parse(page))
	return r
}

type view struct {
	Document
	Entries []entryView
}

type entryView struct {
	Entry
	Content template.HTML
	Embeds  []embedView
}

type embedView struct {
	Title       string
	Description template.HTML
	Fields      []fieldView
	Footer      string
}

type fieldView struct {
	Name  string
	Value template.HTML
}

func (r *Renderer) Render(doc Document) ([]byte, error) {
	v := view{Document: doc, Entries: make([]entryView, 0, len(doc.Entries))}
	for _, e := range doc.Entries {
		ev := entryView{Entry: e}
		var err error
		if ev.Content, err = r.markdown(e.Content); err != nil {
			return nil, fmt.Errorf("transcript: message %s: %w", e.ID, err)
		}
		for _, em := range e.Embeds {
			emv := embedView{Title: em.Title, Footer: em.Footer}
			if emv.Description, err = r.markdown(em.Description); err != nil {
				return nil, fmt.Errorf("transcript: message %s: %w", e.ID, err)
			}
			for _, f := range em.Fields {
				val, err := r.markdown(f.Value)
				if err != nil {
					return nil, fmt.Errorf("transcript: message %s: %w", e.ID, err)
				}
				emv.Fields = append(emv.Fields, fieldView{Name: f.Name, Value: val})
			}
			ev.Embeds = append(ev.Embeds, emv)
		}
		v.Entries = append(v.Entries, ev)
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("transcript: render: %w", err)
	}
	return buf.Bytes(), nil
}

// markdown converts without html.WithUnsafe, so goldmark drops raw HTML.
func (r *Renderer) markdown(src string) (template.HTML, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
