package export

import (
	"bytes"
	"html/template"
	"sort"
)

type bookmarkFolder struct {
	Name  string
	Sites []Site
}

type bookmarkData struct {
	Folders []bookmarkFolder
	Loose   []Site
}

var bookmarksTemplate = template.Must(template.New("bookmarks").Parse(
	`<!DOCTYPE NETSCAPE-Bookmark-file-1>
<!-- This is an automatically generated file. It will be read and overwritten. DO NOT EDIT! -->
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
<DL><p>
{{- range .Folders}}
    <DT><H3>{{.Name}}</H3>
    <DL><p>
{{- range .Sites}}
        <DT><A HREF="{{.URL}}" ADD_DATE="{{.CreatedAt.Unix}}">{{.Name}}</A>
{{- end}}
    </DL><p>
{{- end}}
{{- range .Loose}}
    <DT><A HREF="{{.URL}}" ADD_DATE="{{.CreatedAt.Unix}}">{{.Name}}</A>
{{- end}}
</DL><p>
`))

// RenderBookmarksHTML renders the archive as a Netscape bookmark file, the
// format browsers accept for re-import. Sites are grouped into folders by
// their first category.
func RenderBookmarksHTML(archive *Archive) (string, error) {
	byFolder := make(map[string][]Site)
	var loose []Site
	for _, site := range archive.Sites {
		if len(site.Categories) == 0 {
			loose = append(loose, site)
			continue
		}
		name := site.Categories[0]
		byFolder[name] = append(byFolder[name], site)
	}

	names := make([]string, 0, len(byFolder))
	for name := range byFolder {
		names = append(names, name)
	}
	sort.Strings(names)

	data := bookmarkData{Loose: loose}
	for _, name := range names {
		data.Folders = append(data.Folders, bookmarkFolder{Name: name, Sites: byFolder[name]})
	}

	var buf bytes.Buffer
	if err := bookmarksTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var printableTemplate = template.Must(template.New("printable").Parse(
	`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Sitestash Export</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #2d7d46; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #ddd; font-size: 0.9em; }
    .url { color: #2d7d46; word-break: break-all; }
    .chip { display: inline-block; padding: 1px 6px; border: 1px solid #ccc; border-radius: 8px; margin-right: 4px; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>Sitestash Export</h1>
  <div class="meta">Exported {{.ExportedAt.Format "Jan 2, 2006"}} &middot; {{len .Sites}} sites</div>
  {{if .Sites}}
  <h2>Sites</h2>
  <table>
    <tr><th>Name</th><th>URL</th><th>Pricing</th><th>Categories</th><th>Tags</th></tr>
    {{range .Sites}}
    <tr>
      <td>{{.Name}}</td>
      <td class="url">{{.URL}}</td>
      <td>{{.Pricing}}</td>
      <td>{{range .Categories}}<span class="chip">{{.}}</span>{{end}}</td>
      <td>{{range .Tags}}<span class="chip">{{.}}</span>{{end}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
  {{if .Categories}}
  <h2>Categories</h2>
  <p>{{range .Categories}}<span class="chip">{{.Name}}</span>{{end}}</p>
  {{end}}
  {{if .Tags}}
  <h2>Tags</h2>
  <p>{{range .Tags}}<span class="chip">{{.Name}}</span>{{end}}</p>
  {{end}}
</body>
</html>`))

// RenderPrintableHTML renders the archive as a printable page for PDF output.
func RenderPrintableHTML(archive *Archive) (string, error) {
	var buf bytes.Buffer
	if err := printableTemplate.Execute(&buf, archive); err != nil {
		return "", err
	}
	return buf.String(), nil
}
