package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitestash/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	ListSites(ctx context.Context, userID string, filter store.SiteFilter) ([]store.Site, error)
	ListCategories(ctx context.Context, userID string) ([]store.Category, error)
	ListTags(ctx context.Context, userID string) ([]store.Tag, error)
	LoadSiteRelations(ctx context.Context, siteIDs []string) (map[string][]string, map[string][]string, error)
}

// Service provides collection export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format. Request section flags
// select which of sites/categories/tags are included; all-false means all.
func (s *Service) Export(ctx context.Context, userID string, req Request) (*Result, error) {
	if !req.Sites && !req.Categories && !req.Tags {
		req.Sites, req.Categories, req.Tags = true, true, true
	}

	archive, err := s.load(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	stamp := time.Now().Format("2006-01-02")
	switch req.Format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(archive, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export: %w", err)
		}
		return &Result{Data: data, Filename: "sitestash-export-" + stamp + ".json", MimeType: "application/json"}, nil
	case FormatCSV:
		data, err := renderCSV(archive)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: "sitestash-export-" + stamp + ".csv", MimeType: "text/csv"}, nil
	case FormatHTML:
		data, err := RenderBookmarksHTML(archive)
		if err != nil {
			return nil, fmt.Errorf("render bookmarks: %w", err)
		}
		return &Result{Data: []byte(data), Filename: "sitestash-export-" + stamp + ".html", MimeType: "text/html"}, nil
	case FormatPDF:
		page, err := RenderPrintableHTML(archive)
		if err != nil {
			return nil, fmt.Errorf("render printable page: %w", err)
		}
		return exportPDF(page, "sitestash-export-"+stamp)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) load(ctx context.Context, userID string, req Request) (*Archive, error) {
	archive := &Archive{ExportedAt: time.Now().UTC()}

	categories, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	tags, err := s.store.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	categoryNames := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
	}
	tagNames := make(map[string]string, len(tags))
	for _, t := range tags {
		tagNames[t.ID] = t.Name
	}

	if req.Categories {
		for _, c := range categories {
			archive.Categories = append(archive.Categories, Entity{Name: c.Name, Color: c.Color})
		}
	}
	if req.Tags {
		for _, t := range tags {
			archive.Tags = append(archive.Tags, Entity{Name: t.Name, Color: t.Color})
		}
	}

	if req.Sites {
		sites, err := s.store.ListSites(ctx, userID, store.SiteFilter{})
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}

		ids := make([]string, len(sites))
		for i, site := range sites {
			ids[i] = site.ID
		}
		catRels, tagRels, err := s.store.LoadSiteRelations(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load site relations: %w", err)
		}

		for _, site := range sites {
			exported := Site{
				Name:       site.Name,
				URL:        site.URL,
				Pricing:    site.Pricing,
				IsFavorite: site.IsFavorite,
				IsPinned:   site.IsPinned,
				CreatedAt:  site.CreatedAt,
			}
			for _, id := range catRels[site.ID] {
				if name := categoryNames[id]; name != "" {
					exported.Categories = append(exported.Categories, name)
				}
			}
			for _, id := range tagRels[site.ID] {
				if name := tagNames[id]; name != "" {
					exported.Tags = append(exported.Tags, name)
				}
			}
			archive.Sites = append(archive.Sites, exported)
		}
	}

	return archive, nil
}

func renderCSV(archive *Archive) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"name", "url", "pricing", "categories", "tags", "is_favorite", "is_pinned", "created_at"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, site := range archive.Sites {
		record := []string{
			site.Name,
			site.URL,
			site.Pricing,
			strings.Join(site.Categories, ";"),
			strings.Join(site.Tags, ";"),
			fmt.Sprintf("%t", site.IsFavorite),
			fmt.Sprintf("%t", site.IsPinned),
			site.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
