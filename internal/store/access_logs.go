package store

import (
	"context"
	"time"

	"classhub/internal/models"
)

func (s *Store) InsertAccessLog(ctx context.Context, e models.AccessLogEntry) (int64, error) {
	if e.AccessTime.IsZero() {
		e.AccessTime = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO access_logs(user_id,username,operator_user_id,operator_username,action,ip_address,browser,device_type,access_time,location) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.UserID, e.Username, e.OperatorUserID, e.OperatorUsername, e.Action, e.IPAddress, e.Browser, e.DeviceType, e.AccessTime.UTC(), e.Location,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAccessLogs returns the newest entries first.
func (s *Store) ListAccessLogs(ctx context.Context, limit int) ([]models.AccessLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,COALESCE(user_id,''),COALESCE(username,''),COALESCE(operator_user_id,''),COALESCE(operator_username,''),COALESCE(action,''),COALESCE(ip_address,''),COALESCE(browser,''),COALESCE(device_type,''),access_time,COALESCE(location,'')
		 FROM access_logs ORDER BY access_time DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.AccessLogEntry, 0, limit)
	for rows.Next() {
		var e models.AccessLogEntry
		var at nullTime
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.OperatorUserID, &e.OperatorUsername, &e.Action, &e.IPAddress, &e.Browser, &e.DeviceType, &at, &e.Location); err != nil {
			return nil, err
		}
		e.AccessTime = at.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountActionsSince counts entries with the given action at or after since.
func (s *Store) CountActionsSince(ctx context.Context, action string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM access_logs WHERE action=? AND access_time >= ?`,
		action, since.UTC().Format("2006-01-02 15:04:05"),
	).Scan(&n)
	return n, err
}

// CountActionsByDay buckets entries with the given action per UTC day in [from, to).
func (s *Store) CountActionsByDay(ctx context.Context, action string, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(access_time,1,10) AS day, COUNT(1) FROM access_logs
		 WHERE action=? AND access_time >= ? AND access_time < ?
		 GROUP BY day`,
		action, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}
