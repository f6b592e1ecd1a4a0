package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sitestash/api/internal/store"
	"sitestash/api/internal/tier"
	"sitestash/api/internal/util"

	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize = 200
	urlLookupBatch   = 50
	fanout           = 15
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	ListCategories(ctx context.Context, userID string) ([]store.Category, error)
	ListTags(ctx context.Context, userID string) ([]store.Tag, error)
	InsertCategory(ctx context.Context, item store.Category) error
	InsertTag(ctx context.Context, item store.Tag) error
	GetCategoryByName(ctx context.Context, userID, name string) (store.Category, error)
	GetTagByName(ctx context.Context, userID, name string) (store.Tag, error)

	CountSites(ctx context.Context, userID string) (int, error)
	CountCategories(ctx context.Context, userID string) (int, error)
	CountTags(ctx context.Context, userID string) (int, error)

	GetSitesByURLs(ctx context.Context, userID string, urls []string) ([]store.Site, error)
	InsertSites(ctx context.Context, items []store.Site) error
	InsertSite(ctx context.Context, item store.Site) error
	UpdateSite(ctx context.Context, userID, siteID string, update store.SiteUpdate) error

	AddSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error
	ReplaceSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error
}

// Options tune a single import run.
type Options struct {
	// ChunkSize caps how many rows are reconciled per pass (default 200).
	ChunkSize int
}

// Pipeline imports normalized rows into a user's collection.
type Pipeline struct {
	store Store
}

func NewPipeline(st Store) *Pipeline {
	return &Pipeline{store: st}
}

// Run imports rows for the user. Rows whose URL matches an existing site
// update that site instead of duplicating it. Rows past the tier's site
// quota are skipped and flagged on the report, never failed. Row-level
// failures are collected into the report.
func (p *Pipeline) Run(ctx context.Context, userID string, userTier tier.Tier, rows []Row, opts Options) (*Report, error) {
	report := &Report{}
	limits := tier.ForTier(userTier)

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	// Drop rows with no URL up front; they can never reconcile.
	valid := make([]Row, 0, len(rows))
	for i, row := range rows {
		if row.URL == "" {
			report.addError(i, "", "row has no url")
			continue
		}
		valid = append(valid, row)
	}
	if len(valid) == 0 {
		return report, nil
	}

	categories, err := p.resolveCategories(ctx, userID, limits, valid, report)
	if err != nil {
		return nil, err
	}
	tags, err := p.resolveTags(ctx, userID, limits, valid, report)
	if err != nil {
		return nil, err
	}

	siteCount, err := p.store.CountSites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count sites: %w", err)
	}

	for start := 0; start < len(valid); start += chunkSize {
		end := start + chunkSize
		if end > len(valid) {
			end = len(valid)
		}
		created, err := p.reconcileChunk(ctx, userID, limits, valid[start:end], siteCount, categories, tags, report)
		if err != nil {
			return nil, err
		}
		siteCount += created
	}

	return report, nil
}

// resolveCategories dedupes the category names referenced by the batch
// (case-insensitive), diffs them against the user's existing categories and
// creates the missing ones, capped by the tier quota. Returns a lowercase
// name -> id map covering both existing and newly created entries.
func (p *Pipeline) resolveCategories(ctx context.Context, userID string, limits tier.Limits, rows []Row, report *Report) (map[string]string, error) {
	existing, err := p.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	byName := make(map[string]string, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c.ID
	}

	var missing []Entity
	for _, row := range rows {
		for _, e := range row.Categories {
			key := strings.ToLower(e.Name)
			if key == "" {
				continue
			}
			if _, ok := byName[key]; ok {
				continue
			}
			byName[key] = "" // reserve so later rows don't re-add
			missing = append(missing, e)
		}
	}

	missing = p.capEntityQuota(missing, limits.Categories, len(existing), "categories", report)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for _, e := range missing {
		g.Go(func() error {
			item := store.Category{
				ID:     util.NewID("cat"),
				UserID: userID,
				Name:   e.Name,
				Color:  e.Color,
			}
			if err := p.store.InsertCategory(gctx, item); err != nil {
				// Lost a duplicate-name race, or a real failure. A lookup
				// settles which.
				found, lookupErr := p.store.GetCategoryByName(gctx, userID, e.Name)
				if lookupErr != nil {
					mu.Lock()
					report.addError(-1, "", fmt.Sprintf("create category %q: %v", e.Name, err))
					mu.Unlock()
					return nil
				}
				item.ID = found.ID
			}
			mu.Lock()
			byName[strings.ToLower(e.Name)] = item.ID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return byName, nil
}

// resolveTags mirrors resolveCategories for tags.
func (p *Pipeline) resolveTags(ctx context.Context, userID string, limits tier.Limits, rows []Row, report *Report) (map[string]string, error) {
	existing, err := p.store.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	byName := make(map[string]string, len(existing))
	for _, t := range existing {
		byName[strings.ToLower(t.Name)] = t.ID
	}

	var missing []Entity
	for _, row := range rows {
		for _, e := range row.Tags {
			key := strings.ToLower(e.Name)
			if key == "" {
				continue
			}
			if _, ok := byName[key]; ok {
				continue
			}
			byName[key] = ""
			missing = append(missing, e)
		}
	}

	missing = p.capEntityQuota(missing, limits.Tags, len(existing), "tags", report)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for _, e := range missing {
		g.Go(func() error {
			item := store.Tag{
				ID:     util.NewID("tag"),
				UserID: userID,
				Name:   e.Name,
				Color:  e.Color,
			}
			if err := p.store.InsertTag(gctx, item); err != nil {
				found, lookupErr := p.store.GetTagByName(gctx, userID, e.Name)
				if lookupErr != nil {
					mu.Lock()
					report.addError(-1, "", fmt.Sprintf("create tag %q: %v", e.Name, err))
					mu.Unlock()
					return nil
				}
				item.ID = found.ID
			}
			mu.Lock()
			byName[strings.ToLower(e.Name)] = item.ID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return byName, nil
}

func (p *Pipeline) capEntityQuota(missing []Entity, limit, current int, kind string, report *Report) []Entity {
	remaining := tier.Remaining(limit, current)
	if remaining < 0 || len(missing) <= remaining {
		return missing
	}
	report.TierLimited = true
	report.TierMessage = appendTierMessage(report.TierMessage,
		fmt.Sprintf("%s limit of %d reached; %d new %s not created", kind, limit, len(missing)-remaining, kind))
	return missing[:remaining]
}

// reconcileChunk creates or updates the sites for one chunk of rows and
// attaches their category/tag relations. Returns how many sites it created.
func (p *Pipeline) reconcileChunk(ctx context.Context, userID string, limits tier.Limits, rows []Row, siteCount int, categories, tags map[string]string, report *Report) (int, error) {
	// Existing sites by URL, looked up in batches.
	urls := make([]string, 0, len(rows))
	seenURL := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !seenURL[row.URL] {
			seenURL[row.URL] = true
			urls = append(urls, row.URL)
		}
	}

	existing := make(map[string]store.Site, len(urls))
	for start := 0; start < len(urls); start += urlLookupBatch {
		end := start + urlLookupBatch
		if end > len(urls) {
			end = len(urls)
		}
		found, err := p.store.GetSitesByURLs(ctx, userID, urls[start:end])
		if err != nil {
			return 0, fmt.Errorf("lookup sites by url: %w", err)
		}
		for _, s := range found {
			existing[s.URL] = s
		}
	}

	var toCreate []pendingSite
	var toUpdate []pendingSite

	// A URL appearing twice in one batch collapses to one create plus one
	// update: the second occurrence targets the id the first reserved.
	createdIDs := make(map[string]string, len(rows))
	remaining := tier.Remaining(limits.Sites, siteCount)

	for _, row := range rows {
		if s, ok := existing[row.URL]; ok {
			toUpdate = append(toUpdate, pendingSite{row: row, site: s})
			continue
		}
		if id, ok := createdIDs[row.URL]; ok {
			toUpdate = append(toUpdate, pendingSite{row: row, site: store.Site{ID: id, UserID: userID, URL: row.URL}})
			continue
		}
		if remaining == 0 {
			report.Skipped++
			report.TierLimited = true
			continue
		}
		if remaining > 0 {
			remaining--
		}
		site := store.Site{
			ID:         util.NewID("site"),
			UserID:     userID,
			URL:        row.URL,
			Name:       row.Name,
			Pricing:    row.Pricing,
			IsFavorite: row.IsFavorite,
			IsPinned:   row.IsPinned,
			CreatedAt:  normalizeRowTime(row.CreatedAt),
		}
		if site.Name == "" {
			site.Name = site.URL
		}
		createdIDs[row.URL] = site.ID
		toCreate = append(toCreate, pendingSite{row: row, site: site})
	}

	if report.TierLimited && report.TierMessage == "" {
		report.TierMessage = fmt.Sprintf("site limit of %d reached; remaining rows skipped", limits.Sites)
	}

	created := p.insertSites(ctx, toCreate, report)
	report.Created += created

	// Updates run with bounded fan-out; each failure is a row error.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for _, u := range toUpdate {
		g.Go(func() error {
			update := store.SiteUpdate{
				Pricing:    &u.row.Pricing,
				IsFavorite: &u.row.IsFavorite,
				IsPinned:   &u.row.IsPinned,
			}
			if u.row.Name != "" {
				update.Name = &u.row.Name
			}
			if err := p.store.UpdateSite(gctx, userID, u.site.ID, update); err != nil {
				mu.Lock()
				report.addError(-1, u.row.URL, fmt.Sprintf("update site: %v", err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Updated++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return created, err
	}

	p.attachRelations(ctx, toCreate, toUpdate, createdIDs, categories, tags)

	return created, nil
}

type pendingSite struct {
	row  Row
	site store.Site
}

// insertSites bulk-inserts a chunk, falling back to row-by-row on failure so
// one bad row cannot drop the whole chunk.
func (p *Pipeline) insertSites(ctx context.Context, toCreate []pendingSite, report *Report) int {
	if len(toCreate) == 0 {
		return 0
	}

	sites := make([]store.Site, len(toCreate))
	for i, c := range toCreate {
		sites[i] = c.site
	}

	if err := p.store.InsertSites(ctx, sites); err == nil {
		return len(sites)
	}

	created := 0
	for _, c := range toCreate {
		if err := p.store.InsertSite(ctx, c.site); err != nil {
			report.addError(-1, c.site.URL, fmt.Sprintf("insert site: %v", err))
			continue
		}
		created++
	}
	return created
}

// attachRelations links created and updated sites to their categories and
// tags. Created sites get additive inserts; updated sites get a full replace
// of their prior relations. Failures are swallowed: a site without its
// categories beats a failed import. The adds complete before any replace
// starts: an in-batch duplicate URL replaces the relations of a site created
// moments ago, and the replace must win.
func (p *Pipeline) attachRelations(ctx context.Context, toCreate, toUpdate []pendingSite, createdIDs map[string]string, categories, tags map[string]string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)

	for _, c := range toCreate {
		catIDs, tagIDs := relationIDs(c.row, categories, tags)
		if len(catIDs) == 0 && len(tagIDs) == 0 {
			continue
		}
		g.Go(func() error {
			_ = p.store.AddSiteRelations(gctx, c.site.ID, catIDs, tagIDs)
			return nil
		})
	}
	g.Wait()

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for _, u := range toUpdate {
		catIDs, tagIDs := relationIDs(u.row, categories, tags)
		if len(catIDs) == 0 && len(tagIDs) == 0 {
			continue
		}
		g.Go(func() error {
			_ = p.store.ReplaceSiteRelations(gctx, u.site.ID, catIDs, tagIDs)
			return nil
		})
	}
	g.Wait()
}

func relationIDs(row Row, categories, tags map[string]string) (catIDs, tagIDs []string) {
	for _, e := range row.Categories {
		if id := categories[strings.ToLower(e.Name)]; id != "" {
			catIDs = append(catIDs, id)
		}
	}
	for _, e := range row.Tags {
		if id := tags[strings.ToLower(e.Name)]; id != "" {
			tagIDs = append(tagIDs, id)
		}
	}
	return catIDs, tagIDs
}

func appendTierMessage(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

// normalizeRowTime keeps imported timestamps sane: zero or future times
// become "now" at insert, handled by the store's COALESCE.
func normalizeRowTime(t time.Time) time.Time {
	if t.After(time.Now()) {
		return time.Time{}
	}
	return t
}
