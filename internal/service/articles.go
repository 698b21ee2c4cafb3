package service

import (
	"context"
	"net/http"
	"strings"

	"classhub/internal/activity"
	"classhub/internal/authz"
	"classhub/internal/models"
)

type ArticleInput struct {
	Title   string               `json:"title" validate:"required,max=200"`
	Content string               `json:"content"`
	Status  models.ArticleStatus `json:"status"`
}

func (s *Service) ListArticles(ctx context.Context, q models.ArticleQuery) (models.ArticlePage, error) {
	return s.articles.List(ctx, q)
}

func (s *Service) GetArticle(ctx context.Context, id int64) (models.Article, error) {
	return s.articles.Get(ctx, id)
}

func (s *Service) ArticleMarkdown(ctx context.Context, id int64) (string, error) {
	return s.articles.Markdown(ctx, id)
}

func (s *Service) ArticleHTML(ctx context.Context, id int64) ([]byte, error) {
	return s.articles.HTML(ctx, id)
}

func (s *Service) isEditor(u models.User) bool {
	return authz.AtLeast(u.Level, s.cfg.ArticleEditorMinLevel)
}

func (s *Service) checkArticle(in *ArticleInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check(*in); err != nil {
		return err
	}
	if in.Status != "" && !in.Status.Valid() {
		return invalid("status must be one of: draft, published, archived")
	}
	return nil
}

func (s *Service) CreateArticle(ctx context.Context, actor models.User, in ArticleInput, origin activity.Origin) (models.Article, error) {
	if !s.isEditor(actor) {
		return models.Article{}, ErrForbidden
	}
	if err := s.checkArticle(&in); err != nil {
		return models.Article{}, err
	}
	a, err := s.articles.Create(ctx, in.Title, in.Content, in.Status, actor)
	if err != nil {
		return models.Article{}, err
	}
	s.record(ctx, activity.ActionCreateArticle, activity.IdentityOf(actor), activity.IdentityOf(actor), origin)
	return a, nil
}

func (s *Service) UpdateArticle(ctx context.Context, actor models.User, id int64, in ArticleInput, origin activity.Origin) (models.Article, error) {
	if !s.isEditor(actor) {
		return models.Article{}, ErrForbidden
	}
	if err := s.checkArticle(&in); err != nil {
		return models.Article{}, err
	}
	a, err := s.articles.Update(ctx, id, in.Title, in.Content, in.Status)
	if err != nil {
		return models.Article{}, err
	}
	s.record(ctx, activity.ActionUpdateArticle, authorOf(a), activity.IdentityOf(actor), origin)
	return a, nil
}

// UpdateArticleTitle is open to editors and to the article's author.
func (s *Service) UpdateArticleTitle(ctx context.Context, actor models.User, id int64, title string, origin activity.Origin) (models.Article, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Article{}, invalid("title is required")
	}
	if err := s.canManageArticle(ctx, actor, id); err != nil {
		return models.Article{}, err
	}
	a, err := s.articles.UpdateTitle(ctx, id, title)
	if err != nil {
		return models.Article{}, err
	}
	s.record(ctx, activity.ActionUpdateArticle, authorOf(a), activity.IdentityOf(actor), origin)
	return a, nil
}

func (s *Service) DeleteArticle(ctx context.Context, actor models.User, id int64, origin activity.Origin) (models.Article, error) {
	if err := s.canManageArticle(ctx, actor, id); err != nil {
		return models.Article{}, err
	}
	a, err := s.articles.Delete(ctx, id)
	if err != nil {
		return models.Article{}, err
	}
	s.record(ctx, activity.ActionDeleteArticle, authorOf(a), activity.IdentityOf(actor), origin)
	return a, nil
}

func (s *Service) canManageArticle(ctx context.Context, actor models.User, id int64) error {
	a, err := s.articles.Get(ctx, id)
	if err != nil {
		return err
	}
	if !authz.CanManageArticle(actor.Level, actor.ID, s.cfg.ArticleEditorMinLevel, a.AuthorID) {
		return ErrForbidden
	}
	return nil
}

func authorOf(a models.Article) *activity.Identity {
	return &activity.Identity{ID: a.AuthorID, Name: a.AuthorName}
}

func (s *Service) ArticleFiles() http.FileSystem {
	return s.articles.Files()
}
