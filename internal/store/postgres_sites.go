package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const siteColumns = `id, user_id, url, name, pricing, is_favorite, is_pinned, created_at`

func scanSite(scanner interface{ Scan(...any) error }) (Site, error) {
	var item Site
	err := scanner.Scan(
		&item.ID,
		&item.UserID,
		&item.URL,
		&item.Name,
		&item.Pricing,
		&item.IsFavorite,
		&item.IsPinned,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListSites(ctx context.Context, userID string, filter SiteFilter) ([]Site, error) {
	query := `SELECT DISTINCT s.id, s.user_id, s.url, s.name, s.pricing, s.is_favorite, s.is_pinned, s.created_at FROM sites s`
	args := []any{userID}
	var conds []string
	conds = append(conds, "s.user_id = $1")

	if filter.CategoryID != "" {
		query += ` JOIN site_categories sc ON sc.site_id = s.id`
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("sc.category_id = $%d", len(args)))
	}
	if filter.TagID != "" {
		query += ` JOIN site_tags st ON st.site_id = s.id`
		args = append(args, filter.TagID)
		conds = append(conds, fmt.Sprintf("st.tag_id = $%d", len(args)))
	}
	if filter.Pricing != "" {
		args = append(args, filter.Pricing)
		conds = append(conds, fmt.Sprintf("s.pricing = $%d", len(args)))
	}
	if filter.Favorite != nil {
		args = append(args, *filter.Favorite)
		conds = append(conds, fmt.Sprintf("s.is_favorite = $%d", len(args)))
	}
	if filter.Pinned != nil {
		args = append(args, *filter.Pinned)
		conds = append(conds, fmt.Sprintf("s.is_pinned = $%d", len(args)))
	}

	query += ` WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY s.created_at DESC, s.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	items := make([]Site, 0)
	for rows.Next() {
		item, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSite(ctx context.Context, userID, siteID string) (Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE user_id=$1 AND id=$2`, userID, siteID)
	return scanSite(row)
}

// GetSitesByURLs resolves existing sites for a batch of URLs. Callers chunk
// the URL list; this issues a single ANY() query per call.
func (s *PostgresStore) GetSitesByURLs(ctx context.Context, userID string, urls []string) ([]Site, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE user_id=$1 AND url = ANY($2)`, userID, urls)
	if err != nil {
		return nil, fmt.Errorf("sites by urls: %w", err)
	}
	defer rows.Close()

	items := make([]Site, 0, len(urls))
	for rows.Next() {
		item, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertSite(ctx context.Context, item Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, user_id, url, name, pricing, is_favorite, is_pinned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
	`, item.ID, item.UserID, item.URL, item.Name, item.Pricing, item.IsFavorite, item.IsPinned, nullTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

// InsertSites bulk-inserts a chunk in one statement. A constraint violation
// fails the whole chunk; the importer falls back to row-by-row InsertSite.
func (s *PostgresStore) InsertSites(ctx context.Context, items []Site) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO sites (id, user_id, url, name, pricing, is_favorite, is_pinned, created_at) VALUES `)
	args := make([]any, 0, len(items)*8)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, COALESCE($%d, NOW()))",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, item.ID, item.UserID, item.URL, item.Name, item.Pricing, item.IsFavorite, item.IsPinned, nullTime(item.CreatedAt))
	}
	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert sites: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSite(ctx context.Context, userID, siteID string, update SiteUpdate) error {
	sets := make([]string, 0, 4)
	args := []any{userID, siteID}
	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if update.Name != nil {
		appendSet("name", *update.Name)
	}
	if update.Pricing != nil {
		appendSet("pricing", *update.Pricing)
	}
	if update.IsFavorite != nil {
		appendSet("is_favorite", *update.IsFavorite)
	}
	if update.IsPinned != nil {
		appendSet("is_pinned", *update.IsPinned)
	}
	if len(sets) == 0 {
		return nil
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sites SET `+strings.Join(sets, ", ")+` WHERE user_id=$1 AND id=$2`, args...)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update site rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSite removes a site and its junction rows. The schema cascades on
// delete as well; the explicit cleanup keeps behavior identical on schemas
// restored without the FK constraints.
func (s *PostgresStore) DeleteSite(ctx context.Context, userID, siteID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete site: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM site_categories WHERE site_id=$1`, siteID); err != nil {
		return fmt.Errorf("delete site categories: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM site_tags WHERE site_id=$1`, siteID); err != nil {
		return fmt.Errorf("delete site tags: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE user_id=$1 AND id=$2`, userID, siteID)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteSitesByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete sites: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM site_categories WHERE site_id IN (SELECT id FROM sites WHERE user_id=$1 AND id = ANY($2))
	`, userID, ids); err != nil {
		return 0, fmt.Errorf("bulk delete site categories: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM site_tags WHERE site_id IN (SELECT id FROM sites WHERE user_id=$1 AND id = ANY($2))
	`, userID, ids); err != nil {
		return 0, fmt.Errorf("bulk delete site tags: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete sites: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete site rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *PostgresStore) CountSites(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites WHERE user_id=$1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sites: %w", err)
	}
	return count, nil
}

// ResetSites deletes every site owned by the user and returns the deleted
// rows with their relation ids so the caller can offer undo.
func (s *PostgresStore) ResetSites(ctx context.Context, userID string) ([]Site, error) {
	sites, err := s.ListSites(ctx, userID, SiteFilter{})
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return sites, nil
	}
	siteIDs := make([]string, 0, len(sites))
	for _, site := range sites {
		siteIDs = append(siteIDs, site.ID)
	}
	categoryRels, tagRels, err := s.LoadSiteRelations(ctx, siteIDs)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		sites[i].CategoryIDs = categoryRels[sites[i].ID]
		sites[i].TagIDs = tagRels[sites[i].ID]
	}
	if _, err := s.DeleteSitesByIDs(ctx, userID, siteIDs); err != nil {
		return nil, err
	}
	return sites, nil
}

// Categories

const categoryColumns = `id, user_id, name, color, created_at`

func (s *PostgresStore) ListCategories(ctx context.Context, userID string) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id=$1 ORDER BY LOWER(name)`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCategoryByName(ctx context.Context, userID, name string) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id=$1 AND LOWER(name)=LOWER($2)`,
		userID, strings.TrimSpace(name),
	).Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.CreatedAt)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, item Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, color)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Name, item.Color)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, userID, categoryID, name, color string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name=$3, color=$4 WHERE user_id=$1 AND id=$2`,
		userID, categoryID, name, color)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM site_categories WHERE category_id=$1`, categoryID); err != nil {
		return fmt.Errorf("delete category junctions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE user_id=$1 AND id=$2`, userID, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteCategoriesByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete categories: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM site_categories WHERE category_id IN (SELECT id FROM categories WHERE user_id=$1 AND id = ANY($2))
	`, userID, ids); err != nil {
		return 0, fmt.Errorf("bulk delete category junctions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete categories: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete category rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *PostgresStore) CountCategories(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE user_id=$1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return count, nil
}

// Tags

const tagColumns = `id, user_id, name, color, created_at`

func (s *PostgresStore) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id=$1 ORDER BY LOWER(name)`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTagByName(ctx context.Context, userID, name string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id=$1 AND LOWER(name)=LOWER($2)`,
		userID, strings.TrimSpace(name),
	).Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.CreatedAt)
	if err != nil {
		return Tag{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTag(ctx context.Context, item Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, user_id, name, color)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Name, item.Color)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTag(ctx context.Context, userID, tagID, name, color string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name=$3, color=$4 WHERE user_id=$1 AND id=$2`,
		userID, tagID, name, color)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tag rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, userID, tagID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tag: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM site_tags WHERE tag_id=$1`, tagID); err != nil {
		return fmt.Errorf("delete tag junctions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE user_id=$1 AND id=$2`, userID, tagID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tag rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteTagsByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete tags: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM site_tags WHERE tag_id IN (SELECT id FROM tags WHERE user_id=$1 AND id = ANY($2))
	`, userID, ids); err != nil {
		return 0, fmt.Errorf("bulk delete tag junctions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete tags: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete tag rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *PostgresStore) CountTags(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags WHERE user_id=$1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tags: %w", err)
	}
	return count, nil
}

// Junctions

// ReplaceSiteRelations deletes the site's existing relations and inserts the
// given ids. Used for updated (pre-existing) sites: full replace, not merge.
func (s *PostgresStore) ReplaceSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace relations: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM site_categories WHERE site_id=$1`, siteID); err != nil {
		return fmt.Errorf("clear site categories: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM site_tags WHERE site_id=$1`, siteID); err != nil {
		return fmt.Errorf("clear site tags: %w", err)
	}
	for _, categoryID := range categoryIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO site_categories (site_id, category_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, siteID, categoryID); err != nil {
			return fmt.Errorf("insert site category: %w", err)
		}
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO site_tags (site_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, siteID, tagID); err != nil {
			return fmt.Errorf("insert site tag: %w", err)
		}
	}
	return tx.Commit()
}

// AddSiteRelations inserts relations without clearing existing ones.
func (s *PostgresStore) AddSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error {
	for _, categoryID := range categoryIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO site_categories (site_id, category_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, siteID, categoryID); err != nil {
			return fmt.Errorf("insert site category: %w", err)
		}
	}
	for _, tagID := range tagIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO site_tags (site_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, siteID, tagID); err != nil {
			return fmt.Errorf("insert site tag: %w", err)
		}
	}
	return nil
}

// LoadSiteRelations returns category and tag ids keyed by site id.
func (s *PostgresStore) LoadSiteRelations(ctx context.Context, siteIDs []string) (map[string][]string, map[string][]string, error) {
	categories := make(map[string][]string)
	tags := make(map[string][]string)
	if len(siteIDs) == 0 {
		return categories, tags, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, category_id FROM site_categories WHERE site_id = ANY($1)`, siteIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load site categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var siteID, categoryID string
		if err := rows.Scan(&siteID, &categoryID); err != nil {
			return nil, nil, fmt.Errorf("scan site category: %w", err)
		}
		categories[siteID] = append(categories[siteID], categoryID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate site categories: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx,
		`SELECT site_id, tag_id FROM site_tags WHERE site_id = ANY($1)`, siteIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load site tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var siteID, tagID string
		if err := tagRows.Scan(&siteID, &tagID); err != nil {
			return nil, nil, fmt.Errorf("scan site tag: %w", err)
		}
		tags[siteID] = append(tags[siteID], tagID)
	}
	if err := tagRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate site tags: %w", err)
	}

	return categories, tags, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
