package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"sitestash/api/internal/authpw"
	"sitestash/api/internal/config"
	"sitestash/api/internal/export"
	"sitestash/api/internal/importer"
	"sitestash/api/internal/linkcheck"
	"sitestash/api/internal/search"
	"sitestash/api/internal/store"
)

var errDatabaseDown = errors.New("database down")

type resetRow struct {
	userID    string
	expiresAt time.Time
	used      bool
}

type refreshRow struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// memStore is an in-memory dataStore and SessionStore for handler tests.
// Optional function fields override individual methods.
type memStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	verifyExpires map[string]time.Time
	resets        map[string]resetRow
	sites         map[string]store.Site
	categories    map[string]store.Category
	tags          map[string]store.Tag
	siteCats      map[string][]string
	siteTags      map[string][]string
	refresh       map[string]refreshRow
	revokedJTI    map[string]bool
	pingErr       error
	seq           int

	getUserByIDFn func(ctx context.Context, userID string) (store.User, error)
	insertSitesFn func(ctx context.Context, items []store.Site) error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]store.User),
		verifyExpires: make(map[string]time.Time),
		resets:        make(map[string]resetRow),
		sites:         make(map[string]store.Site),
		categories:    make(map[string]store.Category),
		tags:          make(map[string]store.Tag),
		siteCats:      make(map[string][]string),
		siteTags:      make(map[string][]string),
		refresh:       make(map[string]refreshRow),
		revokedJTI:    make(map[string]bool),
	}
}

// Users

func (m *memStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if m.getUserByIDFn != nil {
		return m.getUserByIDFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(email))
	for _, user := range m.users {
		if strings.ToLower(user.Email) == needle {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.Tier == "" {
		user.Tier = "free"
	}
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	m.users[userID] = user
	m.verifyExpires[token] = expiresAt
	return nil
}

func (m *memStore) VerifyUserEmail(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires, ok := m.verifyExpires[token]
	if !ok || time.Now().After(expires) {
		return sql.ErrNoRows
	}
	for id, user := range m.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			delete(m.verifyExpires, token)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = resetRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.resets[token]
	if !ok || row.used || time.Now().After(row.expiresAt) {
		return "", sql.ErrNoRows
	}
	return row.userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.resets[token]
	row.used = true
	m.resets[token] = row
	return nil
}

func (m *memStore) ListUsers(_ context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.User, 0, len(m.users))
	for _, user := range m.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) UpdateUserTier(_ context.Context, userID, tierName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Tier = tierName
	m.users[userID] = user
	return nil
}

// Token revocation

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedJTI[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedJTI[jti], nil
}

// Refresh sessions (SessionStore)

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.refresh[tokenHash]
	if !ok || row.revoked || time.Now().After(row.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := m.users[row.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.refresh[tokenHash]
	row.revoked = true
	m.refresh[tokenHash] = row
	return nil
}

// Sites

func (m *memStore) ListSites(_ context.Context, userID string, filter store.SiteFilter) ([]store.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Site, 0)
	for _, site := range m.sites {
		if site.UserID != userID {
			continue
		}
		if filter.Pricing != "" && site.Pricing != filter.Pricing {
			continue
		}
		if filter.Favorite != nil && site.IsFavorite != *filter.Favorite {
			continue
		}
		if filter.Pinned != nil && site.IsPinned != *filter.Pinned {
			continue
		}
		if filter.CategoryID != "" && !contains(m.siteCats[site.ID], filter.CategoryID) {
			continue
		}
		if filter.TagID != "" && !contains(m.siteTags[site.ID], filter.TagID) {
			continue
		}
		site.CategoryIDs = nil
		site.TagIDs = nil
		items = append(items, site)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *memStore) GetSite(_ context.Context, userID, siteID string) (store.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok || site.UserID != userID {
		return store.Site{}, sql.ErrNoRows
	}
	site.CategoryIDs = nil
	site.TagIDs = nil
	return site, nil
}

func (m *memStore) GetSitesByURLs(_ context.Context, userID string, urls []string) ([]store.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(urls))
	for _, u := range urls {
		wanted[u] = true
	}
	items := make([]store.Site, 0)
	for _, site := range m.sites {
		if site.UserID == userID && wanted[site.URL] {
			items = append(items, site)
		}
	}
	return items, nil
}

func (m *memStore) InsertSite(_ context.Context, item store.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, site := range m.sites {
		if site.UserID == item.UserID && site.URL == item.URL {
			return sql.ErrTxDone // stand-in for a unique violation
		}
	}
	if item.CreatedAt.IsZero() {
		m.seq++
		item.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Millisecond)
	}
	item.CategoryIDs = nil
	item.TagIDs = nil
	m.sites[item.ID] = item
	return nil
}

func (m *memStore) InsertSites(ctx context.Context, items []store.Site) error {
	if m.insertSitesFn != nil {
		return m.insertSitesFn(ctx, items)
	}
	for _, item := range items {
		if err := m.InsertSite(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) UpdateSite(_ context.Context, userID, siteID string, update store.SiteUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok || site.UserID != userID {
		return sql.ErrNoRows
	}
	if update.Name == nil && update.Pricing == nil && update.IsFavorite == nil && update.IsPinned == nil {
		return nil
	}
	if update.Name != nil {
		site.Name = *update.Name
	}
	if update.Pricing != nil {
		site.Pricing = *update.Pricing
	}
	if update.IsFavorite != nil {
		site.IsFavorite = *update.IsFavorite
	}
	if update.IsPinned != nil {
		site.IsPinned = *update.IsPinned
	}
	m.sites[siteID] = site
	return nil
}

func (m *memStore) DeleteSite(_ context.Context, userID, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok || site.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.sites, siteID)
	delete(m.siteCats, siteID)
	delete(m.siteTags, siteID)
	return nil
}

func (m *memStore) DeleteSitesByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := m.DeleteSite(ctx, userID, id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) CountSites(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, site := range m.sites {
		if site.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ResetSites(ctx context.Context, userID string) ([]store.Site, error) {
	sites, err := m.ListSites(ctx, userID, store.SiteFilter{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sites))
	for i := range sites {
		ids[i] = sites[i].ID
	}
	catRels, tagRels, _ := m.LoadSiteRelations(ctx, ids)
	for i := range sites {
		sites[i].CategoryIDs = catRels[sites[i].ID]
		sites[i].TagIDs = tagRels[sites[i].ID]
	}
	_, err = m.DeleteSitesByIDs(ctx, userID, ids)
	return sites, err
}

// Categories

func (m *memStore) ListCategories(_ context.Context, userID string) ([]store.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Category, 0)
	for _, item := range m.categories {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (m *memStore) GetCategoryByName(_ context.Context, userID, name string) (store.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, item := range m.categories {
		if item.UserID == userID && strings.ToLower(item.Name) == needle {
			return item, nil
		}
	}
	return store.Category{}, sql.ErrNoRows
}

func (m *memStore) InsertCategory(ctx context.Context, item store.Category) error {
	if _, err := m.GetCategoryByName(ctx, item.UserID, item.Name); err == nil {
		return sql.ErrTxDone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.categories[item.ID] = item
	return nil
}

func (m *memStore) UpdateCategory(_ context.Context, userID, categoryID, name, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.categories[categoryID]
	if !ok || item.UserID != userID {
		return sql.ErrNoRows
	}
	item.Name = name
	item.Color = color
	m.categories[categoryID] = item
	return nil
}

func (m *memStore) DeleteCategory(_ context.Context, userID, categoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.categories[categoryID]
	if !ok || item.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.categories, categoryID)
	for siteID, ids := range m.siteCats {
		m.siteCats[siteID] = remove(ids, categoryID)
	}
	return nil
}

func (m *memStore) DeleteCategoriesByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := m.DeleteCategory(ctx, userID, id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) CountCategories(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.categories {
		if item.UserID == userID {
			count++
		}
	}
	return count, nil
}

// Tags

func (m *memStore) ListTags(_ context.Context, userID string) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Tag, 0)
	for _, item := range m.tags {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (m *memStore) GetTagByName(_ context.Context, userID, name string) (store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, item := range m.tags {
		if item.UserID == userID && strings.ToLower(item.Name) == needle {
			return item, nil
		}
	}
	return store.Tag{}, sql.ErrNoRows
}

func (m *memStore) InsertTag(ctx context.Context, item store.Tag) error {
	if _, err := m.GetTagByName(ctx, item.UserID, item.Name); err == nil {
		return sql.ErrTxDone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.tags[item.ID] = item
	return nil
}

func (m *memStore) UpdateTag(_ context.Context, userID, tagID, name, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.tags[tagID]
	if !ok || item.UserID != userID {
		return sql.ErrNoRows
	}
	item.Name = name
	item.Color = color
	m.tags[tagID] = item
	return nil
}

func (m *memStore) DeleteTag(_ context.Context, userID, tagID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.tags[tagID]
	if !ok || item.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.tags, tagID)
	for siteID, ids := range m.siteTags {
		m.siteTags[siteID] = remove(ids, tagID)
	}
	return nil
}

func (m *memStore) DeleteTagsByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := m.DeleteTag(ctx, userID, id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) CountTags(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.tags {
		if item.UserID == userID {
			count++
		}
	}
	return count, nil
}

// Relations

func (m *memStore) AddSiteRelations(_ context.Context, siteID string, categoryIDs, tagIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range categoryIDs {
		if !contains(m.siteCats[siteID], id) {
			m.siteCats[siteID] = append(m.siteCats[siteID], id)
		}
	}
	for _, id := range tagIDs {
		if !contains(m.siteTags[siteID], id) {
			m.siteTags[siteID] = append(m.siteTags[siteID], id)
		}
	}
	return nil
}

func (m *memStore) ReplaceSiteRelations(_ context.Context, siteID string, categoryIDs, tagIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.siteCats[siteID] = append([]string(nil), categoryIDs...)
	m.siteTags[siteID] = append([]string(nil), tagIDs...)
	return nil
}

func (m *memStore) LoadSiteRelations(_ context.Context, siteIDs []string) (map[string][]string, map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	categories := make(map[string][]string)
	tags := make(map[string][]string)
	for _, id := range siteIDs {
		if ids := m.siteCats[id]; len(ids) > 0 {
			categories[id] = append([]string(nil), ids...)
		}
		if ids := m.siteTags[id]; len(ids) > 0 {
			tags[id] = append([]string(nil), ids...)
		}
	}
	return categories, tags, nil
}

func (m *memStore) Ping(_ context.Context) error {
	return m.pingErr
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// fakeSearch records indexing calls synchronously.
type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.SiteRecord
	deleted []string
	results []search.Result
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text}
}

func (f *fakeSearch) IndexSite(record search.SiteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearch) DeleteSite(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) DeleteSites(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:        "test-secret",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       time.Hour,
		AdminEmails:      []string{"root@sitestash.test"},
		LinkCheckTimeout: 8 * time.Second,
	}
}

func newTestService(ms *memStore) *Service {
	cfg := testConfig()
	return &Service{
		cfg:      cfg,
		store:    ms,
		sessions: ms,
		authpw:   authpw.NewService(ms),
		importer: importer.NewPipeline(ms),
		exporter: export.NewService(ms),
		checker:  linkcheck.NewChecker(cfg.LinkCheckTimeout),
	}
}
