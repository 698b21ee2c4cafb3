package service

import (
	"context"
	"time"

	"classhub/internal/activity"
	"classhub/internal/models"
)

const (
	defaultLogLimit    = 100
	maxLogLimit        = 1000
	defaultRecentLimit = 10
)

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxLogLimit {
		return maxLogLimit
	}
	return n
}

func (s *Service) Logs(ctx context.Context, limit int) ([]models.AccessLogEntry, error) {
	return s.st.ListAccessLogs(ctx, clampLimit(limit, defaultLogLimit))
}

func (s *Service) RecentActivities(ctx context.Context, limit int) ([]models.AccessLogEntry, error) {
	return s.st.ListAccessLogs(ctx, clampLimit(limit, defaultRecentLimit))
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Stats counts today's visits as Login entries since 00:00 UTC.
func (s *Service) Stats(ctx context.Context) (models.DashboardStats, error) {
	var out models.DashboardStats
	var err error
	if out.OnlineUsers, err = s.st.CountOnlineUsers(ctx); err != nil {
		return out, err
	}
	if out.RegisteredUsers, err = s.st.CountUsers(ctx); err != nil {
		return out, err
	}
	if out.ArticleCount, err = s.st.CountArticles(ctx); err != nil {
		return out, err
	}
	if out.TodayVisits, err = s.st.CountActionsSince(ctx, activity.ActionLogin, startOfDay(s.now())); err != nil {
		return out, err
	}
	if out.PendingRequests, err = s.st.CountRegistrations(ctx, models.RegistrationPending); err != nil {
		return out, err
	}
	return out, nil
}

// WeeklyVisits returns Login counts for the seven UTC days ending today, oldest first.
func (s *Service) WeeklyVisits(ctx context.Context) (models.WeeklyVisits, error) {
	today := startOfDay(s.now())
	from := today.AddDate(0, 0, -6)
	byDay, err := s.st.CountActionsByDay(ctx, activity.ActionLogin, from, today.AddDate(0, 0, 1))
	if err != nil {
		return models.WeeklyVisits{}, err
	}
	out := models.WeeklyVisits{Dates: make([]string, 0, 7), Visits: make([]int, 0, 7)}
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		out.Dates = append(out.Dates, key)
		out.Visits = append(out.Visits, byDay[key])
		out.Total += byDay[key]
	}
	return out, nil
}
