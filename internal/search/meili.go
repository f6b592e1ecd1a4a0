package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSites = "sitestash_sites"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sites index.
// The caller should proceed without Meilisearch if the initial connection
// fails; the health loop will pick it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSites,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSites, err)
	}

	index := m.client.Index(idxSites)
	filterable := []interface{}{"userId", "pricing"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxSites, err)
	}
	searchable := []string{"name", "url"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxSites, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the sites index, always scoped to the query's user.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	filters := []string{fmt.Sprintf("userId = %q", q.UserID)}
	if q.FilterPricing != "" {
		filters = append(filters, fmt.Sprintf("pricing = %q", q.FilterPricing))
	}

	resp, err := m.client.Index(idxSites).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                filters,
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		r := Result{
			ID:      decodeString(hit, "id"),
			Name:    decodeString(hit, "name"),
			URL:     decodeString(hit, "url"),
			Pricing: decodeString(hit, "pricing"),
			Snippet: decodeFormattedString(hit, "name"),
		}
		results = append(results, r)
	}

	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

// IndexSite adds or updates a site in the search index.
func (m *Meili) IndexSite(record SiteRecord) error {
	_, err := m.client.Index(idxSites).AddDocuments([]SiteRecord{record}, nil)
	return err
}

// IndexSites bulk-indexes sites.
func (m *Meili) IndexSites(records []SiteRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSites).AddDocuments(records, nil)
	return err
}

// DeleteSite removes a site from the search index.
func (m *Meili) DeleteSite(id string) error {
	_, err := m.client.Index(idxSites).DeleteDocument(id, nil)
	return err
}

// DeleteSites removes several sites from the search index.
func (m *Meili) DeleteSites(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSites).DeleteDocuments(ids, nil)
	return err
}
