// Package activity appends security-relevant actions to the access log.
package activity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"classhub/internal/geo"
	"classhub/internal/models"
)

const (
	ActionLogin               = "Login"
	ActionLoginFailed         = "Login failed"
	ActionLogout              = "Logout"
	ActionAddMember           = "Add member"
	ActionEditMember          = "Edit member"
	ActionBanMember           = "Ban member"
	ActionUnbanMember         = "Unban member"
	ActionDeleteMember        = "Delete member"
	ActionRegister            = "Register"
	ActionRegistrationRequest = "Registration request"
	ActionApproveRegistration = "Approve registration"
	ActionRejectRegistration  = "Reject registration"
	ActionUpdateSettings      = "Update settings"
	ActionCreateArticle       = "Create article"
	ActionUpdateArticle       = "Update article"
	ActionDeleteArticle       = "Delete article"
)

var (
	Guest  = Identity{ID: "Guest", Name: "Guest"}
	System = Identity{ID: "System", Name: "System"}
)

type Identity struct {
	ID   string
	Name string
}

func IdentityOf(u models.User) *Identity {
	return &Identity{ID: u.ID, Name: u.Username}
}

// Origin describes where a request came from.
type Origin struct {
	IP        string
	UserAgent string
}

type Event struct {
	Action   string
	Target   *Identity
	Operator *Identity
	Origin   Origin
}

type Sink interface {
	InsertAccessLog(ctx context.Context, e models.AccessLogEntry) (int64, error)
}

type Recorder struct {
	sink Sink
	geo  geo.Locator
	log  *zap.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, locator geo.Locator, log *zap.Logger) *Recorder {
	if locator == nil {
		locator = geo.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, geo: locator, log: log, now: time.Now}
}

// Record writes one entry before returning. Failures are logged and dropped so
// the calling operation never fails because of them.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	entry := r.entry(ev)
	if _, err := r.sink.InsertAccessLog(ctx, entry); err != nil {
		r.log.Warn("activity log write failed",
			zap.String("action", ev.Action),
			zap.String("user_id", entry.UserID),
			zap.Error(err),
		)
		return
	}
	r.log.Info("activity",
		zap.String("action", entry.Action),
		zap.String("user_id", entry.UserID),
		zap.String("username", entry.Username),
		zap.String("operator", entry.OperatorUsername),
		zap.String("ip", entry.IPAddress),
		zap.String("device", entry.DeviceType),
	)
}

func (r *Recorder) entry(ev Event) models.AccessLogEntry {
	target := Guest
	if ev.Target != nil {
		target = *ev.Target
	}
	operator := System
	if ev.Operator != nil {
		operator = *ev.Operator
	}
	location := geo.Unknown
	if ev.Origin.IP != "" {
		location = r.geo.Locate(ev.Origin.IP)
	}
	return models.AccessLogEntry{
		UserID:           target.ID,
		Username:         target.Name,
		OperatorUserID:   operator.ID,
		OperatorUsername: operator.Name,
		Action:           ev.Action,
		IPAddress:        ev.Origin.IP,
		Browser:          Browser(ev.Origin.UserAgent),
		DeviceType:       DeviceType(ev.Origin.UserAgent),
		AccessTime:       r.now().UTC(),
		Location:         location,
	}
}

func Browser(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "Unknown"
	}
	return ua
}

// DeviceType classifies desktop platforms as PC and everything else as Mobile.
func DeviceType(ua string) string {
	ua = strings.TrimSpace(ua)
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "Windows"), strings.Contains(ua, "Macintosh"), strings.Contains(ua, "X11"):
		return "PC"
	}
	return "Mobile"
}
