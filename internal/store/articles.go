package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"classhub/internal/models"
)

const (
	DefaultArticlePageSize = 10
	MaxArticlePageSize     = 100
)

const articleColumns = `id,title,COALESCE(author_id,''),COALESCE(author_name,''),COALESCE(status,'draft'),created_at,updated_at,COALESCE(html_path,''),COALESCE(md_path,'')`

func scanArticle(r rowScanner) (models.Article, error) {
	var a models.Article
	var createdAt, updatedAt nullTime
	if err := r.Scan(&a.ID, &a.Title, &a.AuthorID, &a.AuthorName, &a.Status, &createdAt, &updatedAt, &a.HTMLPath, &a.MDPath); err != nil {
		return models.Article{}, err
	}
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return a, nil
}

func (s *Store) InsertArticle(ctx context.Context, a models.Article) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles(id,title,author_id,author_name,status,created_at,updated_at,html_path,md_path) VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.AuthorID, a.AuthorName, a.Status, a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.HTMLPath, a.MDPath,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) GetArticle(ctx context.Context, id int64) (models.Article, error) {
	a, err := scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, ErrNotFound
	}
	return a, err
}

// UpdateArticle rewrites the mutable columns of an existing article.
func (s *Store) UpdateArticle(ctx context.Context, id int64, title string, status models.ArticleStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET title=?, status=?, updated_at=? WHERE id=?`,
		title, status, at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteArticle(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListArticles(ctx context.Context, q models.ArticleQuery) (models.ArticlePage, error) {
	page, size := pageBounds(q.Page, q.PageSize, DefaultArticlePageSize, MaxArticlePageSize)
	var conds []string
	var args []any
	if search := strings.TrimSpace(q.Search); search != "" {
		p := likePattern(search)
		conds = append(conds, `(CAST(id AS TEXT) LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\' OR author_name LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	if status := strings.TrimSpace(q.Status); status != "" && status != "all" {
		conds = append(conds, `status=?`)
		args = append(args, status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles`+where, args...).Scan(&total); err != nil {
		return models.ArticlePage{}, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return models.ArticlePage{}, err
	}
	defer rows.Close()

	out := models.ArticlePage{Articles: []models.Article{}, Total: total, Page: page, PageSize: size}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return models.ArticlePage{}, err
		}
		out.Articles = append(out.Articles, a)
	}
	return out, rows.Err()
}

func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles`).Scan(&n)
	return n, err
}
