package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"sitestash/api/internal/archive"
	"sitestash/api/internal/export"
	"sitestash/api/internal/importer"
	"sitestash/api/internal/linkcheck"
	"sitestash/api/internal/search"
	"sitestash/api/internal/store"
	"sitestash/api/internal/suggest"
	"sitestash/api/internal/tier"
)

const maxLinkCheckBatch = 100

type ImportInput struct {
	Rows      []map[string]any `json:"rows"`
	Raw       string           `json:"raw"`
	Format    string           `json:"format"`
	ChunkSize int              `json:"chunkSize"`
}

// Import accepts either pre-parsed rows or raw file content with a format
// hint, normalizes everything, and runs the reconciliation pipeline. Row
// failures land in the report, not in the HTTP status.
func (s *Service) Import(ctx context.Context, session Session, input ImportInput) (*importer.Report, error) {
	var rows []importer.Row
	switch {
	case strings.TrimSpace(input.Raw) != "":
		format := input.Format
		if format == "" {
			format = importer.FormatJSON
		}
		parsed, err := importer.Parse([]byte(input.Raw), format)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "INVALID_IMPORT", err.Error(), nil)
		}
		rows = parsed
	case len(input.Rows) > 0:
		rows = make([]importer.Row, 0, len(input.Rows))
		for _, m := range input.Rows {
			rows = append(rows, importer.RowFromMap(m))
		}
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rows or raw content is required", nil)
	}

	return s.importer.Run(ctx, session.UserID, session.Tier, rows, importer.Options{ChunkSize: input.ChunkSize})
}

// Export renders the user's collection as a downloadable file. include is the
// comma-separated section list from the query string; empty means everything.
func (s *Service) Export(ctx context.Context, session Session, format string, include []string) (*export.Result, error) {
	req := export.Request{Format: export.Format(format)}
	switch req.Format {
	case export.FormatJSON, export.FormatCSV, export.FormatHTML, export.FormatPDF, "":
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be json, csv, html or pdf", nil)
	}
	for _, section := range include {
		switch strings.TrimSpace(strings.ToLower(section)) {
		case "sites":
			req.Sites = true
		case "categories":
			req.Categories = true
		case "tags":
			req.Tags = true
		case "":
		default:
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "include sections are sites, categories, tags", nil)
		}
	}
	return s.exporter.Export(ctx, session.UserID, req)
}

func (s *Service) SuggestTags(name, url, description string, max int) []suggest.Suggestion {
	return suggest.ForSite(name, url, description, max)
}

func (s *Service) CheckLinks(ctx context.Context, urls []string) ([]linkcheck.Result, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "urls is required", nil)
	}
	if len(cleaned) > maxLinkCheckBatch {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("at most %d urls per request", maxLinkCheckBatch), nil)
	}
	return s.checker.CheckAll(ctx, cleaned), nil
}

func (s *Service) Search(ctx context.Context, session Session, text, pricing string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{
		Text:          text,
		UserID:        session.UserID,
		FilterPricing: pricing,
		Limit:         limit,
		Offset:        offset,
	})
}

// BulkDelete removes the given entities, committing an archive snapshot of
// the deleted rows first so the operation can be undone.
func (s *Service) BulkDelete(ctx context.Context, session Session, entityType string, ids []string) (map[string]any, error) {
	if len(ids) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ids is required", nil)
	}

	snap := archive.Snapshot{Kind: "bulk-delete"}
	var deleted int

	switch entityType {
	case "sites":
		sites, err := s.sitesByIDs(ctx, session.UserID, ids)
		if err != nil {
			return nil, err
		}
		snap.Sites = sites
		deleted, err = s.store.DeleteSitesByIDs(ctx, session.UserID, ids)
		if err != nil {
			return nil, err
		}
		if s.search != nil {
			s.search.DeleteSites(ids)
		}
	case "categories":
		items, err := s.store.ListCategories(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		snap.Categories = filterCategories(items, ids)
		deleted, err = s.store.DeleteCategoriesByIDs(ctx, session.UserID, ids)
		if err != nil {
			return nil, err
		}
	case "tags":
		items, err := s.store.ListTags(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		snap.Tags = filterTags(items, ids)
		deleted, err = s.store.DeleteTagsByIDs(ctx, session.UserID, ids)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be sites, categories or tags", nil)
	}

	payload := map[string]any{"deleted": deleted, "type": entityType}
	if commit, err := s.archiveSnapshot(session.UserID, snap, fmt.Sprintf("bulk-delete: %d %s", deleted, entityType)); err == nil && commit.Hash != "" {
		payload["snapshot"] = commit.Hash
	}
	return payload, nil
}

// Reset wipes a whole entity class (or everything) for the user. The deleted
// rows are returned and archived so the client can offer undo.
func (s *Service) Reset(ctx context.Context, session Session, entityType string) (map[string]any, error) {
	snap := archive.Snapshot{Kind: "reset"}

	resetSites := func() error {
		sites, err := s.store.ResetSites(ctx, session.UserID)
		if err != nil {
			return err
		}
		snap.Sites = sites
		if s.search != nil && len(sites) > 0 {
			ids := make([]string, len(sites))
			for i, site := range sites {
				ids[i] = site.ID
			}
			s.search.DeleteSites(ids)
		}
		return nil
	}
	resetCategories := func() error {
		items, err := s.store.ListCategories(ctx, session.UserID)
		if err != nil {
			return err
		}
		snap.Categories = items
		_, err = s.store.DeleteCategoriesByIDs(ctx, session.UserID, categoryIDs(items))
		return err
	}
	resetTags := func() error {
		items, err := s.store.ListTags(ctx, session.UserID)
		if err != nil {
			return err
		}
		snap.Tags = items
		_, err = s.store.DeleteTagsByIDs(ctx, session.UserID, tagIDs(items))
		return err
	}

	switch entityType {
	case "sites":
		if err := resetSites(); err != nil {
			return nil, err
		}
	case "categories":
		if err := resetCategories(); err != nil {
			return nil, err
		}
	case "tags":
		if err := resetTags(); err != nil {
			return nil, err
		}
	case "all":
		if err := resetSites(); err != nil {
			return nil, err
		}
		if err := resetCategories(); err != nil {
			return nil, err
		}
		if err := resetTags(); err != nil {
			return nil, err
		}
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be sites, categories, tags or all", nil)
	}

	// The deleted rows travel back to the caller so the client can offer an
	// immediate undo without a snapshot round trip.
	payload := map[string]any{
		"type":       entityType,
		"sites":      len(snap.Sites),
		"categories": len(snap.Categories),
		"tags":       len(snap.Tags),
		"deleted": map[string]any{
			"sites":      snap.Sites,
			"categories": snap.Categories,
			"tags":       snap.Tags,
		},
	}
	message := fmt.Sprintf("reset %s: %d sites, %d categories, %d tags",
		entityType, len(snap.Sites), len(snap.Categories), len(snap.Tags))
	if commit, err := s.archiveSnapshot(session.UserID, snap, message); err == nil && commit.Hash != "" {
		payload["snapshot"] = commit.Hash
	}
	return payload, nil
}

type RestoreInput struct {
	Snapshot string           `json:"snapshot"`
	Rows     []map[string]any `json:"rows"`
}

// Restore replays either an archived snapshot or client-provided rows back
// into the collection. Snapshot rows keep their original ids; conflicts with
// rows that still exist are counted as skipped.
func (s *Service) Restore(ctx context.Context, session Session, input RestoreInput) (map[string]any, error) {
	if strings.TrimSpace(input.Snapshot) != "" {
		if s.archive == nil {
			return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Snapshot archive not configured", nil)
		}
		snap, err := s.archive.GetSnapshot(session.UserID, strings.TrimSpace(input.Snapshot))
		if err != nil {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Snapshot not found", nil)
		}
		return s.restoreSnapshot(ctx, session, snap)
	}

	if len(input.Rows) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "snapshot or rows is required", nil)
	}
	rows := make([]importer.Row, 0, len(input.Rows))
	for _, m := range input.Rows {
		rows = append(rows, importer.RowFromMap(m))
	}
	report, err := s.importer.Run(ctx, session.UserID, session.Tier, rows, importer.Options{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": report}, nil
}

func (s *Service) restoreSnapshot(ctx context.Context, session Session, snap archive.Snapshot) (map[string]any, error) {
	restored := map[string]int{"sites": 0, "categories": 0, "tags": 0}
	skipped := 0

	for _, item := range snap.Categories {
		if err := s.store.InsertCategory(ctx, item); err != nil {
			skipped++
			continue
		}
		restored["categories"]++
	}
	for _, item := range snap.Tags {
		if err := s.store.InsertTag(ctx, item); err != nil {
			skipped++
			continue
		}
		restored["tags"]++
	}
	for _, site := range snap.Sites {
		if err := s.store.InsertSite(ctx, site); err != nil {
			skipped++
			continue
		}
		restored["sites"]++
		if len(site.CategoryIDs) > 0 || len(site.TagIDs) > 0 {
			_ = s.store.AddSiteRelations(ctx, site.ID, site.CategoryIDs, site.TagIDs)
		}
		s.indexSite(site)
	}

	return map[string]any{"restored": restored, "skipped": skipped, "kind": snap.Kind}, nil
}

// SnapshotHistory lists the user's archived snapshots, newest first.
func (s *Service) SnapshotHistory(session Session, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.archive.History(session.UserID, limit)
}

func (s *Service) archiveSnapshot(userID string, snap archive.Snapshot, message string) (archive.CommitInfo, error) {
	if s.archive == nil {
		return archive.CommitInfo{}, nil
	}
	if len(snap.Sites) == 0 && len(snap.Categories) == 0 && len(snap.Tags) == 0 {
		return archive.CommitInfo{}, nil
	}
	return s.archive.SaveSnapshot(userID, snap, message)
}

func (s *Service) sitesByIDs(ctx context.Context, userID string, ids []string) ([]store.Site, error) {
	all, err := s.store.ListSites(ctx, userID, store.SiteFilter{})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	picked := make([]store.Site, 0, len(ids))
	for _, site := range all {
		if _, ok := wanted[site.ID]; ok {
			picked = append(picked, site)
		}
	}
	if err := s.attachRelationIDs(ctx, picked); err != nil {
		return nil, err
	}
	return picked, nil
}

func filterCategories(items []store.Category, ids []string) []store.Category {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	picked := make([]store.Category, 0, len(ids))
	for _, item := range items {
		if _, ok := wanted[item.ID]; ok {
			picked = append(picked, item)
		}
	}
	return picked
}

func filterTags(items []store.Tag, ids []string) []store.Tag {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	picked := make([]store.Tag, 0, len(ids))
	for _, item := range items {
		if _, ok := wanted[item.ID]; ok {
			picked = append(picked, item)
		}
	}
	return picked
}

func categoryIDs(items []store.Category) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func tagIDs(items []store.Tag) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// Admin

// isAdmin requires both the allow-list and the database flag: being listed
// in ADMIN_EMAILS alone does not grant access, and neither does a stale
// is_admin column for an email that was removed from the list.
func (s *Service) isAdmin(session Session) bool {
	if !session.IsAdmin {
		return false
	}
	email := strings.ToLower(strings.TrimSpace(session.Email))
	for _, allowed := range s.cfg.AdminEmails {
		if allowed == email {
			return true
		}
	}
	return false
}

func (s *Service) AdminListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.isAdmin(session) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":          user.ID,
			"email":       user.Email,
			"displayName": user.DisplayName,
			"tier":        string(tier.Normalize(user.Tier)),
			"isAdmin":     user.IsAdmin,
			"isVerified":  user.IsEmailVerified,
			"createdAt":   user.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) AdminUpdateUserTier(ctx context.Context, session Session, userID, tierName string) (map[string]any, error) {
	if !s.isAdmin(session) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	switch tier.Tier(tierName) {
	case tier.TierFree, tier.TierPro, tier.TierProMax:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tier must be free, pro or promax", nil)
	}
	if err := s.store.UpdateUserTier(ctx, userID, tierName); err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "tier": tierName}, nil
}
