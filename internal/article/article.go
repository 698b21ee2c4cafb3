// Package article stores article Markdown and rendered HTML on disk next to
// the metadata rows kept by the store.
package article

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"classhub/internal/models"
)

const (
	mdDir   = "md"
	htmlDir = "html"
)

// Repo is the metadata side of an article.
type Repo interface {
	InsertArticle(ctx context.Context, a models.Article) error
	GetArticle(ctx context.Context, id int64) (models.Article, error)
	UpdateArticle(ctx context.Context, id int64, title string, status models.ArticleStatus, at time.Time) error
	DeleteArticle(ctx context.Context, id int64) error
	ListArticles(ctx context.Context, q models.ArticleQuery) (models.ArticlePage, error)
}

type Manager struct {
	fs     afero.Fs
	repo   Repo
	render *Renderer
	log    *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	lastID int64
}

// NewManager stores files on fs, which is rooted at the content directory.
func NewManager(fs afero.Fs, repo Repo, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, dir := range []string{mdDir, htmlDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Manager{fs: fs, repo: repo, render: NewRenderer(), log: log, now: time.Now}, nil
}

// OSFs roots an afero filesystem at dir on the local disk.
func OSFs(dir string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), dir)
}

// Files serves the content directory over HTTP.
func (m *Manager) Files() http.FileSystem {
	return afero.NewHttpFs(m.fs).Dir(".")
}

func mdFile(id int64) string   { return path.Join(mdDir, strconv.FormatInt(id, 10)+".md") }
func htmlFile(id int64) string { return path.Join(htmlDir, strconv.FormatInt(id, 10)+".html") }

// PublicMDPath and PublicHTMLPath are the URL paths recorded on the row.
func PublicMDPath(id int64) string   { return "/articles/" + mdFile(id) }
func PublicHTMLPath(id int64) string { return "/articles/" + htmlFile(id) }

// nextID returns the creation time in milliseconds, bumped past the previous
// id when two articles are created within the same millisecond.
func (m *Manager) nextID(at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := at.UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id
	return id
}

func (m *Manager) Create(ctx context.Context, title, content string, status models.ArticleStatus, author models.User) (models.Article, error) {
	if status == "" {
		status = models.ArticleDraft
	}
	now := m.now().UTC()
	id := m.nextID(now)
	a := models.Article{
		ID:         id,
		Title:      title,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
		HTMLPath:   PublicHTMLPath(id),
		MDPath:     PublicMDPath(id),
	}
	if a.AuthorName == "" {
		a.AuthorName = author.Username
	}
	if err := m.writeFiles(a, []byte(content)); err != nil {
		return models.Article{}, err
	}
	if err := m.repo.InsertArticle(ctx, a); err != nil {
		m.removeFiles(id)
		return models.Article{}, err
	}
	return a, nil
}

// Update rewrites both files and the row. An empty status keeps the current one.
func (m *Manager) Update(ctx context.Context, id int64, title, content string, status models.ArticleStatus) (models.Article, error) {
	a, err := m.repo.GetArticle(ctx, id)
	if err != nil {
		return models.Article{}, err
	}
	if status != "" {
		a.Status = status
	}
	a.Title = title
	a.UpdatedAt = m.now().UTC()
	if err := m.writeFiles(a, []byte(content)); err != nil {
		return models.Article{}, err
	}
	if err := m.repo.UpdateArticle(ctx, id, a.Title, a.Status, a.UpdatedAt); err != nil {
		return models.Article{}, err
	}
	return a, nil
}

// UpdateTitle changes only the title and re-renders the page header from the stored Markdown.
func (m *Manager) UpdateTitle(ctx context.Context, id int64, title string) (models.Article, error) {
	a, err := m.repo.GetArticle(ctx, id)
	if err != nil {
		return models.Article{}, err
	}
	a.Title = title
	a.UpdatedAt = m.now().UTC()
	if err := m.repo.UpdateArticle(ctx, id, a.Title, a.Status, a.UpdatedAt); err != nil {
		return models.Article{}, err
	}
	source, err := m.readMarkdown(id)
	if err != nil {
		m.log.Warn("article markdown missing, html not refreshed", zap.Int64("article_id", id), zap.Error(err))
		return a, nil
	}
	page, err := m.render.Render(a, source)
	if err == nil {
		err = m.writeAtomic(htmlFile(id), page)
	}
	if err != nil {
		m.log.Warn("article html refresh failed", zap.Int64("article_id", id), zap.Error(err))
	}
	return a, nil
}

// Delete removes the row first, then both files. File errors are logged only.
func (m *Manager) Delete(ctx context.Context, id int64) (models.Article, error) {
	a, err := m.repo.GetArticle(ctx, id)
	if err != nil {
		return models.Article{}, err
	}
	if err := m.repo.DeleteArticle(ctx, id); err != nil {
		return models.Article{}, err
	}
	m.removeFiles(id)
	return a, nil
}

func (m *Manager) Get(ctx context.Context, id int64) (models.Article, error) {
	return m.repo.GetArticle(ctx, id)
}

func (m *Manager) List(ctx context.Context, q models.ArticleQuery) (models.ArticlePage, error) {
	return m.repo.ListArticles(ctx, q)
}

// Markdown returns the authoritative source of an existing article.
func (m *Manager) Markdown(ctx context.Context, id int64) (string, error) {
	if _, err := m.repo.GetArticle(ctx, id); err != nil {
		return "", err
	}
	b, err := m.readMarkdown(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HTML returns the rendered page, regenerating it when the cached file is missing.
func (m *Manager) HTML(ctx context.Context, id int64) ([]byte, error) {
	a, err := m.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(m.fs, htmlFile(id))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	source, err := m.readMarkdown(id)
	if err != nil {
		return nil, err
	}
	page, err := m.render.Render(a, source)
	if err != nil {
		return nil, err
	}
	if err := m.writeAtomic(htmlFile(id), page); err != nil {
		m.log.Warn("article html cache write failed", zap.Int64("article_id", id), zap.Error(err))
	}
	return page, nil
}

func (m *Manager) readMarkdown(id int64) ([]byte, error) {
	b, err := afero.ReadFile(m.fs, mdFile(id))
	if err != nil {
		return nil, fmt.Errorf("read article markdown: %w", err)
	}
	return b, nil
}

func (m *Manager) writeFiles(a models.Article, source []byte) error {
	page, err := m.render.Render(a, source)
	if err != nil {
		return err
	}
	if err := m.writeAtomic(mdFile(a.ID), source); err != nil {
		return err
	}
	return m.writeAtomic(htmlFile(a.ID), page)
}

// writeAtomic writes to a temp file in the target directory, syncs it and
// renames it over name, so readers see either the old or the new content.
func (m *Manager) writeAtomic(name string, data []byte) error {
	f, err := afero.TempFile(m.fs, path.Dir(name), "."+path.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmp := f.Name()
	cleanup := func(err error) error {
		_ = f.Close()
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return cleanup(err)
	}
	if err := f.Sync(); err != nil {
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := m.fs.Rename(tmp, name); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (m *Manager) removeFiles(id int64) {
	for _, name := range []string{mdFile(id), htmlFile(id)} {
		if err := m.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("article file removal failed", zap.String("file", name), zap.Error(err))
		}
	}
}

// ParseID parses an article id from a URL segment.
func ParseID(v string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return id, err == nil && id > 0
}
