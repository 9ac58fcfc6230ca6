package models

import (
	"strings"
	"time"
)

// TeamRole enumerates the roles a member can hold in an event team.
type TeamRole string

const (
	TeamRoleOwner    TeamRole = "owner"
	TeamRoleMember   TeamRole = "member"
	TeamRoleReviewer TeamRole = "reviewer"
)

// NormalizeTeamRole maps legacy upper-case role names onto the canonical set.
// Unknown roles normalize to reviewer, the least privileged role.
func NormalizeTeamRole(role TeamRole) TeamRole {
	switch TeamRole(strings.ToLower(strings.TrimSpace(string(role)))) {
	case TeamRoleOwner:
		return TeamRoleOwner
	case TeamRoleMember:
		return TeamRoleMember
	default:
		return TeamRoleReviewer
	}
}

// CanEditSchedule reports whether role may mutate a schedule.
func (r TeamRole) CanEditSchedule() bool {
	switch NormalizeTeamRole(r) {
	case TeamRoleOwner, TeamRoleMember:
		return true
	default:
		return false
	}
}

// Schedule is the program grid of an event.
type Schedule struct {
	ID              string    `gorm:"type:varchar(64);primaryKey"`
	EventID         string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name            string    `gorm:"type:varchar(255);not null"`
	Timezone        string    `gorm:"type:varchar(64);not null;default:'UTC'"` // IANA timezone name
	StartDate       time.Time `gorm:"not null"`
	EndDate         time.Time `gorm:"not null"`
	IntervalMinutes int       `gorm:"not null;default:15"`
	DayStartTime    string    `gorm:"type:varchar(5);not null;default:'09:00'"` // HH:MM
	DayEndTime      string    `gorm:"type:varchar(5);not null;default:'18:00'"` // HH:MM

	Tracks   []Track           `gorm:"foreignKey:ScheduleID"`
	Sessions []ScheduleSession `gorm:"foreignKey:ScheduleID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Schedule) TableName() string {
	return "schedules"
}

// Location resolves the schedule timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Track is a parallel lane of a schedule (a room).
type Track struct {
	ID         string `gorm:"type:varchar(64);primaryKey"`
	ScheduleID string `gorm:"type:varchar(64);primaryKey"`
	Name       string `gorm:"type:varchar(255);not null"`
	Position   int    `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Track) TableName() string {
	return "schedule_tracks"
}

// ProposalSpeaker is a speaker summary stored alongside a session.
type ProposalSpeaker struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Proposal is the accepted talk attached to a session.
type Proposal struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Speakers []ProposalSpeaker `json:"speakers,omitempty"`
}

// ScheduleSession is a confirmed session placed on a track.
type ScheduleSession struct {
	ID         string    `gorm:"type:varchar(64);primaryKey"`
	ScheduleID string    `gorm:"type:varchar(64);index:idx_sessions_schedule_track;not null"`
	TrackID    string    `gorm:"type:varchar(64);index:idx_sessions_schedule_track;not null"`
	StartsAt   time.Time `gorm:"index;not null"`
	EndsAt     time.Time `gorm:"not null"`
	Name       string    `gorm:"type:varchar(255)"`
	Color      string    `gorm:"type:varchar(7)"` // hex color (e.g. "#4f46e5")
	ProposalID *string   `gorm:"type:varchar(64);index"`
	Proposal   *Proposal `gorm:"type:text;serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (ScheduleSession) TableName() string {
	return "schedule_sessions"
}
