package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"classhub/internal/db"
	"classhub/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "store.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return New(sqdb)
}

func seedUsers(t *testing.T, st *Store, n int) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		_, err := st.CreateUser(context.Background(), models.NewUser{
			Username:    fmt.Sprintf("user%02d", i),
			DisplayName: fmt.Sprintf("User %02d", i),
			Level:       models.Level(1 + i%6),
			CreatedAt:   base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("seed user %d: %v", i, err)
		}
	}
}

func TestCreateUserAssignsSequentialIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateUser(ctx, models.NewUser{Username: "alice", Level: 1})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	b, err := st.CreateUser(ctx, models.NewUser{Username: "bob", Level: 1})
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if a.ID != "1" || b.ID != "2" {
		t.Fatalf("expected ids 1 and 2, got %q and %q", a.ID, b.ID)
	}
	if _, err := st.CreateUser(ctx, models.NewUser{Username: "alice", Level: 1}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestListUsersPaginationIsDisjointAndComplete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 25)

	p1, err := st.ListUsers(ctx, models.UserQuery{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	p2, err := st.ListUsers(ctx, models.UserQuery{Page: 2, PageSize: 10})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	all, err := st.ListUsers(ctx, models.UserQuery{Page: 1, PageSize: 20})
	if err != nil {
		t.Fatalf("page of 20: %v", err)
	}
	if p1.Total != 25 || len(p1.Users) != 10 || len(p2.Users) != 10 {
		t.Fatalf("unexpected page sizes: total=%d p1=%d p2=%d", p1.Total, len(p1.Users), len(p2.Users))
	}

	seen := map[string]bool{}
	for _, u := range p1.Users {
		seen[u.ID] = true
	}
	for _, u := range p2.Users {
		if seen[u.ID] {
			t.Fatalf("id %s appears on both pages", u.ID)
		}
		seen[u.ID] = true
	}
	if len(all.Users) != len(seen) {
		t.Fatalf("expected %d users in combined page, got %d", len(seen), len(all.Users))
	}
	for _, u := range all.Users {
		if !seen[u.ID] {
			t.Fatalf("id %s missing from the union of pages 1 and 2", u.ID)
		}
	}
}

func TestListUsersSortInjectionFallsBackToID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 5)

	page, err := st.ListUsers(ctx, models.UserQuery{Sort: models.ParseSortField("level; DROP TABLE users"), Order: models.ParseSortOrder("sideways")})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for i, u := range page.Users {
		if u.ID != fmt.Sprint(i+1) {
			t.Fatalf("expected id order, got %q at position %d", u.ID, i)
		}
	}
	if n, err := st.CountUsers(ctx); err != nil || n != 5 {
		t.Fatalf("users table should be intact: n=%d err=%v", n, err)
	}
}

func TestListUsersSortsNumericIDsDescending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 12)

	page, err := st.ListUsers(ctx, models.UserQuery{Sort: models.SortByID, Order: models.Descending, PageSize: 3})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if page.Users[0].ID != "12" || page.Users[2].ID != "10" {
		t.Fatalf("expected 12,11,10 got %s,%s,%s", page.Users[0].ID, page.Users[1].ID, page.Users[2].ID)
	}
}

func TestListUsersFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 10)

	if _, err := st.ToggleBan(ctx, "3", nil); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := st.MarkLogin(ctx, "4", time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("mark login: %v", err)
	}

	banned, err := st.ListUsers(ctx, models.UserQuery{Status: models.StatusBanned})
	if err != nil || banned.Total != 1 || banned.Users[0].ID != "3" {
		t.Fatalf("banned filter: %+v err=%v", banned, err)
	}
	online, err := st.ListUsers(ctx, models.UserQuery{Status: models.StatusOnline})
	if err != nil || online.Total != 1 || online.Users[0].ID != "4" {
		t.Fatalf("online filter: %+v err=%v", online, err)
	}

	lvl := models.Level(3)
	byLevel, err := st.ListUsers(ctx, models.UserQuery{Level: &lvl})
	if err != nil {
		t.Fatalf("level filter: %v", err)
	}
	for _, u := range byLevel.Users {
		if u.Level != 3 {
			t.Fatalf("level filter returned level %d", u.Level)
		}
	}

	search, err := st.ListUsers(ctx, models.UserQuery{Search: "User 07"})
	if err != nil || search.Total != 1 || search.Users[0].Username != "user07" {
		t.Fatalf("search filter: %+v err=%v", search, err)
	}
	wildcard, err := st.ListUsers(ctx, models.UserQuery{Search: "%"})
	if err != nil || wildcard.Total != 0 {
		t.Fatalf("literal %% should match nothing: total=%d err=%v", wildcard.Total, err)
	}
}

func TestListUsersDateRangeIsInclusiveOfEndDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 10) // created 2024-03-02 .. 2024-03-11

	start := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	page, err := st.ListUsers(ctx, models.UserQuery{CreatedStart: &start, CreatedEnd: &end})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected 3 users created 03-03..03-05, got %d", page.Total)
	}
}

func TestToggleBanGuardVetoesInsideTransaction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 1)

	veto := errors.New("nope")
	if _, err := st.ToggleBan(ctx, "1", func(models.User) error { return veto }); !errors.Is(err, veto) {
		t.Fatalf("expected guard error, got %v", err)
	}
	u, err := st.GetUserByID(ctx, "1")
	if err != nil || u.IsBanned {
		t.Fatalf("user should be unchanged: %+v err=%v", u, err)
	}

	u, err = st.ToggleBan(ctx, "1", nil)
	if err != nil || !u.IsBanned {
		t.Fatalf("expected banned: %+v err=%v", u, err)
	}
	u, err = st.ToggleBan(ctx, "1", nil)
	if err != nil || u.IsBanned {
		t.Fatalf("expected unbanned: %+v err=%v", u, err)
	}
	if _, err := st.ToggleBan(ctx, "999", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 2)

	name := "Renamed"
	lvl := models.Level(2)
	u, err := st.UpdateUser(ctx, "1", models.UserChanges{DisplayName: &name, Level: &lvl}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.DisplayName != "Renamed" || u.Level != 2 || u.Username != "user01" {
		t.Fatalf("unexpected user after update: %+v", u)
	}
	taken := "user02"
	if _, err := st.UpdateUser(ctx, "1", models.UserChanges{Username: &taken}, nil); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}

	if _, err := st.DeleteUser(ctx, "1", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetUserByID(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}
}

func TestUpdateUserCannotTakePendingUsername(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 1)
	if _, err := st.CreateRegistration(ctx, models.RegistrationRequest{Username: "queued"}); err != nil {
		t.Fatalf("create registration: %v", err)
	}

	queued := "queued"
	if _, err := st.UpdateUser(ctx, "1", models.UserChanges{Username: &queued}, nil); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected pending name to be taken, got %v", err)
	}
	same := "user01"
	if _, err := st.UpdateUser(ctx, "1", models.UserChanges{Username: &same}, nil); err != nil {
		t.Fatalf("keeping the current name must succeed: %v", err)
	}
	if n, err := st.CountRegistrations(ctx, models.RegistrationPending); err != nil || n != 1 {
		t.Fatalf("expected one pending request, got %d err=%v", n, err)
	}
	if n, err := st.CountRegistrations(ctx, models.RegistrationApproved); err != nil || n != 0 {
		t.Fatalf("expected no approved requests, got %d err=%v", n, err)
	}
}

func TestDeleteUserDetachesArticles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 2)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := st.InsertArticle(ctx, models.Article{ID: 1, Title: "t", AuthorID: "2", AuthorName: "User 02", Status: models.ArticlePublished, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert article: %v", err)
	}

	if _, err := st.DeleteUser(ctx, "2", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	a, err := st.GetArticle(ctx, 1)
	if err != nil {
		t.Fatalf("get article: %v", err)
	}
	if a.AuthorID != "" || a.AuthorName != "User 02" {
		t.Fatalf("expected author id cleared and name kept, got %+v", a)
	}
	u, err := st.CreateUser(ctx, models.NewUser{Username: "late", Level: 1})
	if err != nil || u.ID != "2" {
		t.Fatalf("expected id 2 to be reused, got %+v err=%v", u, err)
	}
}

func TestReplaceUsersSwapsTableAtomically(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, st, 3)

	err := st.ReplaceUsers(ctx, []models.User{
		{ID: "10", Username: "x", Level: 2},
		{ID: "11", Username: "x", Level: 2},
	})
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	if n, _ := st.CountUsers(ctx); n != 3 {
		t.Fatalf("failed replace must leave the table untouched, have %d users", n)
	}

	if err := st.ReplaceUsers(ctx, []models.User{{ID: "10", Username: "x", Level: 2}, {Username: "y", Level: 1}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	page, err := st.ListUsers(ctx, models.UserQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || page.Users[0].ID != "10" || page.Users[1].ID != "11" {
		t.Fatalf("unexpected users after replace: %+v", page.Users)
	}
}

func TestRegistrationDecisionIsTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	req, err := st.CreateRegistration(ctx, models.RegistrationRequest{Username: "carol", DisplayName: "Carol", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create registration: %v", err)
	}
	if _, err := st.CreateRegistration(ctx, models.RegistrationRequest{Username: "carol"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate pending username, got %v", err)
	}
	if taken, err := st.UsernameTaken(ctx, "carol"); err != nil || !taken {
		t.Fatalf("pending username should be taken: %v %v", taken, err)
	}

	_, user, err := st.ApproveRegistration(ctx, req.ID, "admin", models.MinLevel)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if user.Username != "carol" || user.Level != 1 || user.PasswordHash != "h" {
		t.Fatalf("unexpected approved user: %+v", user)
	}
	if _, err := st.RejectRegistration(ctx, req.ID, "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second review, got %v", err)
	}
	if _, _, err := st.ApproveRegistration(ctx, req.ID, "admin", models.MinLevel); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on re-approve, got %v", err)
	}
	got, err := st.GetRegistrationByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("get registration: %v", err)
	}
	if got.Status != models.RegistrationApproved || got.ReviewedBy == nil || *got.ReviewedBy != "admin" || got.ReviewedAt == nil {
		t.Fatalf("unexpected registration state: %+v", got)
	}
	if _, err := st.GetRegistrationByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettingsUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	v, ok, err := st.GetSetting(ctx, SettingRegistrationStatus)
	if err != nil || !ok || v != "open" {
		t.Fatalf("expected seeded open, got %q ok=%v err=%v", v, ok, err)
	}
	if err := st.UpsertSetting(ctx, SettingRegistrationStatus, "verify"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if v, _, _ := st.GetSetting(ctx, SettingRegistrationStatus); v != "verify" {
		t.Fatalf("expected verify, got %q", v)
	}
}

func TestAccessLogCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, at := range []time.Time{now, now.Add(-time.Minute), now.AddDate(0, 0, -2)} {
		if _, err := st.InsertAccessLog(ctx, models.AccessLogEntry{Action: "Login", UserID: fmt.Sprint(i), AccessTime: at}); err != nil {
			t.Fatalf("insert log: %v", err)
		}
	}
	if _, err := st.InsertAccessLog(ctx, models.AccessLogEntry{Action: "Logout", AccessTime: now}); err != nil {
		t.Fatalf("insert log: %v", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if n, err := st.CountActionsSince(ctx, "Login", midnight); err != nil || n < 1 {
		t.Fatalf("expected today's logins, got %d err=%v", n, err)
	}
	days, err := st.CountActionsByDay(ctx, "Login", midnight.AddDate(0, 0, -6), midnight.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("count by day: %v", err)
	}
	total := 0
	for _, n := range days {
		total += n
	}
	if total != 3 {
		t.Fatalf("expected 3 logins in the week, got %d (%v)", total, days)
	}

	logs, err := st.ListAccessLogs(ctx, 10)
	if err != nil || len(logs) != 4 {
		t.Fatalf("list logs: %d err=%v", len(logs), err)
	}
	if logs[len(logs)-1].AccessTime.After(logs[0].AccessTime) {
		t.Fatalf("logs should be newest first")
	}
}

func TestArticlesListSearchAndStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []models.ArticleStatus{models.ArticleDraft, models.ArticlePublished, models.ArticlePublished} {
		at := base.Add(time.Duration(i) * time.Hour)
		err := st.InsertArticle(ctx, models.Article{
			ID: at.UnixMilli(), Title: fmt.Sprintf("Post %d", i), AuthorID: "1", AuthorName: "alice",
			Status: status, CreatedAt: at, UpdatedAt: at,
		})
		if err != nil {
			t.Fatalf("insert article: %v", err)
		}
	}

	all, err := st.ListArticles(ctx, models.ArticleQuery{Status: "all"})
	if err != nil || all.Total != 3 || all.PageSize != DefaultArticlePageSize {
		t.Fatalf("list all: %+v err=%v", all, err)
	}
	if all.Articles[0].Title != "Post 2" {
		t.Fatalf("expected newest first, got %q", all.Articles[0].Title)
	}
	published, err := st.ListArticles(ctx, models.ArticleQuery{Status: "published"})
	if err != nil || published.Total != 2 {
		t.Fatalf("list published: %+v err=%v", published, err)
	}
	search, err := st.ListArticles(ctx, models.ArticleQuery{Search: "Post 1"})
	if err != nil || search.Total != 1 {
		t.Fatalf("search: %+v err=%v", search, err)
	}
	if err := st.DeleteArticle(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting missing article, got %v", err)
	}
}
