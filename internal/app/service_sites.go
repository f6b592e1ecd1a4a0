package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sitestash/api/internal/importer"
	"sitestash/api/internal/search"
	"sitestash/api/internal/store"
	"sitestash/api/internal/tier"
	"sitestash/api/internal/util"
)

type SiteInput struct {
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Pricing     string   `json:"pricing"`
	IsFavorite  bool     `json:"isFavorite"`
	IsPinned    bool     `json:"isPinned"`
	CategoryIDs []string `json:"categoryIds"`
	TagIDs      []string `json:"tagIds"`
}

type SitePatch struct {
	Name        *string   `json:"name"`
	Pricing     *string   `json:"pricing"`
	IsFavorite  *bool     `json:"isFavorite"`
	IsPinned    *bool     `json:"isPinned"`
	CategoryIDs *[]string `json:"categoryIds"`
	TagIDs      *[]string `json:"tagIds"`
}

func (s *Service) ListSites(ctx context.Context, session Session, filter store.SiteFilter) ([]store.Site, error) {
	sites, err := s.store.ListSites(ctx, session.UserID, filter)
	if err != nil {
		return nil, err
	}
	if err := s.attachRelationIDs(ctx, sites); err != nil {
		return nil, err
	}
	return sites, nil
}

func (s *Service) GetSite(ctx context.Context, session Session, siteID string) (store.Site, error) {
	site, err := s.store.GetSite(ctx, session.UserID, siteID)
	if err != nil {
		return store.Site{}, err
	}
	sites := []store.Site{site}
	if err := s.attachRelationIDs(ctx, sites); err != nil {
		return store.Site{}, err
	}
	return sites[0], nil
}

func (s *Service) CreateSite(ctx context.Context, session Session, input SiteInput) (store.Site, error) {
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return store.Site{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}

	existing, err := s.store.GetSitesByURLs(ctx, session.UserID, []string{url})
	if err != nil {
		return store.Site{}, err
	}
	if len(existing) > 0 {
		return store.Site{}, domainError(http.StatusConflict, "URL_EXISTS", "A site with this URL already exists", map[string]any{"siteId": existing[0].ID})
	}

	limits := tier.ForTier(session.Tier)
	count, err := s.store.CountSites(ctx, session.UserID)
	if err != nil {
		return store.Site{}, err
	}
	if !tier.Allows(limits.Sites, count, 1) {
		return store.Site{}, tierLimitError("sites", limits.Sites, session.Tier)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = url
	}
	site := store.Site{
		ID:         util.NewID("site"),
		UserID:     session.UserID,
		URL:        url,
		Name:       name,
		Pricing:    importer.NormalizePricing(input.Pricing),
		IsFavorite: input.IsFavorite,
		IsPinned:   input.IsPinned,
	}
	if err := s.store.InsertSite(ctx, site); err != nil {
		return store.Site{}, err
	}
	if len(input.CategoryIDs) > 0 || len(input.TagIDs) > 0 {
		if err := s.store.AddSiteRelations(ctx, site.ID, input.CategoryIDs, input.TagIDs); err != nil {
			return store.Site{}, err
		}
		site.CategoryIDs = input.CategoryIDs
		site.TagIDs = input.TagIDs
	}
	s.indexSite(site)
	return site, nil
}

func (s *Service) UpdateSite(ctx context.Context, session Session, siteID string, patch SitePatch) (store.Site, error) {
	update := store.SiteUpdate{
		Name:       patch.Name,
		IsFavorite: patch.IsFavorite,
		IsPinned:   patch.IsPinned,
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return store.Site{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must not be empty", nil)
	}
	if patch.Pricing != nil {
		normalized := importer.NormalizePricing(*patch.Pricing)
		update.Pricing = &normalized
	}

	if err := s.store.UpdateSite(ctx, session.UserID, siteID, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Relation-only patches still need the site to exist.
			if _, getErr := s.store.GetSite(ctx, session.UserID, siteID); getErr != nil {
				return store.Site{}, getErr
			}
		} else {
			return store.Site{}, err
		}
	}

	if patch.CategoryIDs != nil || patch.TagIDs != nil {
		site, err := s.GetSite(ctx, session, siteID)
		if err != nil {
			return store.Site{}, err
		}
		categoryIDs := site.CategoryIDs
		tagIDs := site.TagIDs
		if patch.CategoryIDs != nil {
			categoryIDs = *patch.CategoryIDs
		}
		if patch.TagIDs != nil {
			tagIDs = *patch.TagIDs
		}
		if err := s.store.ReplaceSiteRelations(ctx, siteID, categoryIDs, tagIDs); err != nil {
			return store.Site{}, err
		}
	}

	site, err := s.GetSite(ctx, session, siteID)
	if err != nil {
		return store.Site{}, err
	}
	s.indexSite(site)
	return site, nil
}

func (s *Service) DeleteSite(ctx context.Context, session Session, siteID string) error {
	if err := s.store.DeleteSite(ctx, session.UserID, siteID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSite(siteID)
	}
	return nil
}

func (s *Service) attachRelationIDs(ctx context.Context, sites []store.Site) error {
	if len(sites) == 0 {
		return nil
	}
	ids := make([]string, len(sites))
	for i, site := range sites {
		ids[i] = site.ID
	}
	categoryRels, tagRels, err := s.store.LoadSiteRelations(ctx, ids)
	if err != nil {
		return err
	}
	for i := range sites {
		sites[i].CategoryIDs = categoryRels[sites[i].ID]
		sites[i].TagIDs = tagRels[sites[i].ID]
	}
	return nil
}

func (s *Service) indexSite(site store.Site) {
	if s.search == nil {
		return
	}
	s.search.IndexSite(search.SiteRecord{
		ID:      site.ID,
		UserID:  site.UserID,
		Name:    site.Name,
		URL:     site.URL,
		Pricing: site.Pricing,
	})
}

func tierLimitError(kind string, limit int, userTier tier.Tier) *DomainError {
	return domainError(http.StatusForbidden, "TIER_LIMIT",
		fmt.Sprintf("The %s tier allows at most %d %s", userTier, limit, kind),
		map[string]any{"limit": limit, "tier": string(userTier)})
}

// Categories

func (s *Service) ListCategories(ctx context.Context, session Session) ([]store.Category, error) {
	return s.store.ListCategories(ctx, session.UserID)
}

func (s *Service) CreateCategory(ctx context.Context, session Session, name, color string) (store.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Category{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if existing, err := s.store.GetCategoryByName(ctx, session.UserID, name); err == nil {
		return store.Category{}, domainError(http.StatusConflict, "NAME_EXISTS", "A category with this name already exists", map[string]any{"categoryId": existing.ID})
	}

	limits := tier.ForTier(session.Tier)
	count, err := s.store.CountCategories(ctx, session.UserID)
	if err != nil {
		return store.Category{}, err
	}
	if !tier.Allows(limits.Categories, count, 1) {
		return store.Category{}, tierLimitError("categories", limits.Categories, session.Tier)
	}

	item := store.Category{
		ID:     util.NewID("cat"),
		UserID: session.UserID,
		Name:   name,
		Color:  strings.TrimSpace(color),
	}
	if err := s.store.InsertCategory(ctx, item); err != nil {
		return store.Category{}, err
	}
	return item, nil
}

func (s *Service) UpdateCategory(ctx context.Context, session Session, categoryID, name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if existing, err := s.store.GetCategoryByName(ctx, session.UserID, name); err == nil && existing.ID != categoryID {
		return domainError(http.StatusConflict, "NAME_EXISTS", "A category with this name already exists", nil)
	}
	return s.store.UpdateCategory(ctx, session.UserID, categoryID, name, strings.TrimSpace(color))
}

func (s *Service) DeleteCategory(ctx context.Context, session Session, categoryID string) error {
	return s.store.DeleteCategory(ctx, session.UserID, categoryID)
}

// Tags

func (s *Service) ListTags(ctx context.Context, session Session) ([]store.Tag, error) {
	return s.store.ListTags(ctx, session.UserID)
}

func (s *Service) CreateTag(ctx context.Context, session Session, name, color string) (store.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Tag{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if existing, err := s.store.GetTagByName(ctx, session.UserID, name); err == nil {
		return store.Tag{}, domainError(http.StatusConflict, "NAME_EXISTS", "A tag with this name already exists", map[string]any{"tagId": existing.ID})
	}

	limits := tier.ForTier(session.Tier)
	count, err := s.store.CountTags(ctx, session.UserID)
	if err != nil {
		return store.Tag{}, err
	}
	if !tier.Allows(limits.Tags, count, 1) {
		return store.Tag{}, tierLimitError("tags", limits.Tags, session.Tier)
	}

	item := store.Tag{
		ID:     util.NewID("tag"),
		UserID: session.UserID,
		Name:   name,
		Color:  strings.TrimSpace(color),
	}
	if err := s.store.InsertTag(ctx, item); err != nil {
		return store.Tag{}, err
	}
	return item, nil
}

func (s *Service) UpdateTag(ctx context.Context, session Session, tagID, name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if existing, err := s.store.GetTagByName(ctx, session.UserID, name); err == nil && existing.ID != tagID {
		return domainError(http.StatusConflict, "NAME_EXISTS", "A tag with this name already exists", nil)
	}
	return s.store.UpdateTag(ctx, session.UserID, tagID, name, strings.TrimSpace(color))
}

func (s *Service) DeleteTag(ctx context.Context, session Session, tagID string) error {
	return s.store.DeleteTag(ctx, session.UserID, tagID)
}
