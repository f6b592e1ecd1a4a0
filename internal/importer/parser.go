package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one normalized import record.
type Row struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Pricing    string    `json:"pricing"`
	Categories []Entity  `json:"categories,omitempty"`
	Tags       []Entity  `json:"tags,omitempty"`
	IsFavorite bool      `json:"isFavorite,omitempty"`
	IsPinned   bool      `json:"isPinned,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Supported raw input formats.
const (
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatHTML   = "html"
	FormatNotion = "notion"
)

// Parse parses raw file content in the given format into rows.
func Parse(raw []byte, format string) ([]Row, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		return ParseJSON(raw)
	case FormatCSV, FormatNotion:
		// Notion CSV exports use Name/URL/Tags headers the synonym table
		// already covers.
		return ParseCSV(raw)
	case FormatHTML:
		return ParseNetscape(raw)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
}

// ParseJSON parses a JSON array of loosely-shaped row objects.
func ParseJSON(raw []byte) ([]Row, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse json rows: %w", err)
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, RowFromMap(item))
	}
	return rows, nil
}

// Field synonyms accepted across input shapes.
var fieldSynonyms = map[string]string{
	"name":             "name",
	"title":            "name",
	"url":              "url",
	"link":             "url",
	"href":             "url",
	"category":         "category",
	"categories":       "category",
	"categories_array": "category",
	"tag":              "tag",
	"tags":             "tag",
	"tags_array":       "tag",
	"pricing":          "pricing",
	"pricing_model":    "pricing",
	"is_favorite":      "is_favorite",
	"isfavorite":       "is_favorite",
	"favorite":         "is_favorite",
	"is_pinned":        "is_pinned",
	"ispinned":         "is_pinned",
	"pinned":           "is_pinned",
	"created_at":       "created_at",
	"createdat":        "created_at",
	"description":      "description",
}

// RowFromMap builds a Row from a loosely-shaped object, resolving field
// synonyms and normalizing values.
func RowFromMap(m map[string]any) Row {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if canonical, ok := fieldSynonyms[strings.ToLower(strings.TrimSpace(k))]; ok {
			if _, taken := fields[canonical]; !taken {
				fields[canonical] = v
			}
		}
	}

	row := Row{
		Name:       strings.TrimSpace(asString(fields["name"])),
		URL:        strings.TrimSpace(asString(fields["url"])),
		Pricing:    NormalizePricing(asString(fields["pricing"])),
		Categories: parseEntities(fields["category"]),
		Tags:       parseEntities(fields["tag"]),
		IsFavorite: parseBool(fields["is_favorite"]),
		IsPinned:   parseBool(fields["is_pinned"]),
	}
	if ts := asString(fields["created_at"]); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			row.CreatedAt = t
		}
	}
	return row
}

// ParseCSV parses CSV content with a header row. A header-only file yields
// zero rows, not an error.
func ParseCSV(raw []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		columns[i] = fieldSynonyms[h]
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv row: %w", err)
		}

		m := make(map[string]any)
		for i, value := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			m[columns[i]] = value
		}
		rows = append(rows, RowFromMap(m))
	}
	return rows, nil
}

var (
	anchorRe  = regexp.MustCompile(`(?is)<DT[^>]*>\s*<A\s+([^>]*)>(.*?)</A>`)
	folderRe  = regexp.MustCompile(`(?is)<H3[^>]*>(.*?)</H3>`)
	hrefRe    = regexp.MustCompile(`(?i)HREF="([^"]*)"`)
	addDateRe = regexp.MustCompile(`(?i)ADD_DATE="(\d+)"`)
	tagsRe    = regexp.MustCompile(`(?i)TAGS="([^"]*)"`)
)

// ParseNetscape parses a Netscape bookmark file (the format browsers export).
// Folder headings become the category of the bookmarks that follow them.
func ParseNetscape(raw []byte) ([]Row, error) {
	content := string(raw)

	// Walk anchors and folder headings in document order so each bookmark
	// picks up the most recent folder.
	type marker struct {
		pos    int
		folder string
		attrs  string
		title  string
	}
	var markers []marker
	for _, loc := range folderRe.FindAllStringSubmatchIndex(content, -1) {
		markers = append(markers, marker{
			pos:    loc[0],
			folder: html.UnescapeString(strings.TrimSpace(content[loc[2]:loc[3]])),
		})
	}
	for _, loc := range anchorRe.FindAllStringSubmatchIndex(content, -1) {
		markers = append(markers, marker{
			pos:   loc[0],
			attrs: content[loc[2]:loc[3]],
			title: html.UnescapeString(strings.TrimSpace(content[loc[4]:loc[5]])),
		})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].pos < markers[j].pos })

	var rows []Row
	currentFolder := ""
	for _, m := range markers {
		if m.attrs == "" {
			currentFolder = m.folder
			continue
		}

		href := submatch(hrefRe, m.attrs)
		if href == "" || strings.HasPrefix(href, "place:") || strings.HasPrefix(href, "javascript:") {
			continue
		}

		row := Row{
			Name:    m.title,
			URL:     html.UnescapeString(href),
			Pricing: PricingFreemium,
		}
		if row.Name == "" {
			row.Name = row.URL
		}
		if currentFolder != "" {
			row.Categories = []Entity{{Name: currentFolder}}
		}
		if tags := submatch(tagsRe, m.attrs); tags != "" {
			for _, name := range SplitList(tags) {
				row.Tags = append(row.Tags, Entity{Name: name})
			}
		}
		if ts := submatch(addDateRe, m.attrs); ts != "" {
			if sec, err := strconv.ParseInt(ts, 10, 64); err == nil && sec > 0 {
				row.CreatedAt = time.Unix(sec, 0).UTC()
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
