package models

import "time"

// Level is a user's privilege rank. Higher values administer strictly lower ones.
type Level int

const (
	MinLevel Level = 1
	MaxLevel Level = 6
)

func (l Level) Valid() bool { return l >= MinLevel && l <= MaxLevel }

var levelColors = map[Level]string{
	1: "#3498db",
	2: "#2ecc71",
	3: "#e67e22",
	4: "#9b59b6",
	5: "#e74c3c",
	6: "#f1c40f",
}

// Color is the badge colour shown for the level. Unknown levels use level 1's.
func (l Level) Color() string {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return levelColors[MinLevel]
}

// LevelColors returns a copy of the per-level colour table.
func LevelColors() map[Level]string {
	out := make(map[Level]string, len(levelColors))
	for l, c := range levelColors {
		out[l] = c
	}
	return out
}

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"`
	Level        Level      `json:"level"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email"`
	IsBanned     bool       `json:"is_banned"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	IsOnline     bool       `json:"is_online"`
}

// Profile is the signed-in user's own view of their account.
type Profile struct {
	ID          string           `json:"id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Level       Level            `json:"level"`
	LevelColor  string           `json:"level_color"`
	LevelColors map[Level]string `json:"level_colors"`
	Phone       string           `json:"phone"`
	Email       string           `json:"email"`
	LastLogin   *time.Time       `json:"last_login"`
	CreatedAt   time.Time        `json:"created_at"`
	IsOnline    bool             `json:"is_online"`
}

// NewUser carries the fields a creation path supplies; the store assigns the id.
type NewUser struct {
	Username     string
	DisplayName  string
	PasswordHash string
	Level        Level
	Phone        string
	Email        string
	IsBanned     bool
	CreatedAt    time.Time
}

// UserChanges lists optional edits; nil fields are left untouched.
type UserChanges struct {
	Username    *string
	DisplayName *string
	Phone       *string
	Email       *string
	Level       *Level
}

type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
)

type RegistrationRequest struct {
	ID           int64              `json:"id"`
	Username     string             `json:"username"`
	DisplayName  string             `json:"display_name"`
	PasswordHash string             `json:"-"`
	Phone        string             `json:"phone"`
	Email        string             `json:"email"`
	CreatedAt    time.Time          `json:"created_at"`
	Status       RegistrationStatus `json:"status"`
	ReviewedBy   *string            `json:"reviewed_by"`
	ReviewedAt   *time.Time         `json:"reviewed_at"`
}

// RegistrationMode is the system-wide registration_status setting.
type RegistrationMode string

const (
	RegistrationOpen   RegistrationMode = "open"
	RegistrationVerify RegistrationMode = "verify"
	RegistrationClosed RegistrationMode = "closed"
)

func ParseRegistrationMode(v string) (RegistrationMode, bool) {
	switch RegistrationMode(v) {
	case RegistrationOpen, RegistrationVerify, RegistrationClosed:
		return RegistrationMode(v), true
	}
	return "", false
}

type AccessLogEntry struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	OperatorUserID   string    `json:"operator_user_id"`
	OperatorUsername string    `json:"operator_username"`
	Action           string    `json:"action"`
	IPAddress        string    `json:"ip_address"`
	Browser          string    `json:"browser"`
	DeviceType       string    `json:"device_type"`
	AccessTime       time.Time `json:"access_time"`
	Location         string    `json:"location"`
}

type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
)

func (s ArticleStatus) Valid() bool {
	switch s {
	case ArticleDraft, ArticlePublished, ArticleArchived:
		return true
	}
	return false
}

type Article struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name"`
	Status     ArticleStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	HTMLPath   string        `json:"html_path"`
	MDPath     string        `json:"md_path"`
}

type DashboardStats struct {
	OnlineUsers     int `json:"online_users"`
	RegisteredUsers int `json:"registered_users"`
	ArticleCount    int `json:"article_count"`
	TodayVisits     int `json:"today_visits"`
	PendingRequests int `json:"pending_requests"`
}

type WeeklyVisits struct {
	Dates  []string `json:"dates"`
	Visits []int    `json:"visits"`
	Total  int      `json:"total"`
}

type ArticleQuery struct {
	Search   string
	Status   string
	Page     int
	PageSize int
}

// SortField is the closed set of sortable member columns.
type SortField int

const (
	SortByID SortField = iota
	SortByUsername
	SortByDisplayName
	SortByLevel
	SortByLastLogin
	SortByCreatedAt
)

// ParseSortField maps request input onto a SortField. Anything unknown sorts by id.
func ParseSortField(v string) SortField {
	switch v {
	case "username":
		return SortByUsername
	case "display_name":
		return SortByDisplayName
	case "level":
		return SortByLevel
	case "last_login":
		return SortByLastLogin
	case "created_at":
		return SortByCreatedAt
	}
	return SortByID
}

type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

func ParseSortOrder(v string) SortOrder {
	if v == "desc" || v == "DESC" {
		return Descending
	}
	return Ascending
}

// MemberStatus filters the member list; the zero value matches everyone.
type MemberStatus string

const (
	StatusAny      MemberStatus = ""
	StatusOnline   MemberStatus = "online"
	StatusOffline  MemberStatus = "offline"
	StatusBanned   MemberStatus = "banned"
	StatusUnbanned MemberStatus = "unbanned"
)

func ParseMemberStatus(v string) MemberStatus {
	switch MemberStatus(v) {
	case StatusOnline, StatusOffline, StatusBanned, StatusUnbanned:
		return MemberStatus(v)
	}
	return StatusAny
}

type UserQuery struct {
	Level          *Level
	Status         MemberStatus
	Search         string
	LastLoginStart *time.Time
	LastLoginEnd   *time.Time
	CreatedStart   *time.Time
	CreatedEnd     *time.Time
	Sort           SortField
	Order          SortOrder
	Page           int
	PageSize       int
}

type UserPage struct {
	Users    []User `json:"users"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type ArticlePage struct {
	Articles []Article `json:"articles"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
