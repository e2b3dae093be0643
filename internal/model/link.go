package model

import (
	"time"
)

// LinkStatus is the derived lifecycle state of a link
type LinkStatus string

const (
	StatusActive      LinkStatus = "active"
	StatusExpired     LinkStatus = "expired"
	StatusDeactivated LinkStatus = "deactivated"
)

// Link represents a short code to destination mapping
type Link struct {
	ID             int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Code           string     `gorm:"uniqueIndex;type:varchar(32);not null" json:"code"`
	DestinationURL string     `gorm:"type:varchar(2048);not null" json:"destination_url"`
	Creator        Creator    `gorm:"type:varchar(64);not null;index:idx_links_creator_created,priority:1" json:"-"`
	Title          string     `gorm:"type:varchar(255)" json:"title,omitempty"`
	Description    string     `gorm:"type:varchar(1024)" json:"description,omitempty"`
	ClickCount     uint64     `gorm:"not null;default:0" json:"click_count"`
	CreatedAt      time.Time  `gorm:"not null;index:idx_links_creator_created,priority:2" json:"created_at"`
	ExpiresAt      *time.Time `gorm:"index:idx_links_expires_at" json:"expires_at,omitempty"`
	Active         bool       `gorm:"not null" json:"active"`
	IsCustomAlias  bool       `gorm:"not null" json:"is_custom_alias"`
}

// TableName specifies the table name for Link
func (Link) TableName() string {
	return "links"
}

// IsExpired reports whether the link has an expiry at or before now
func (l *Link) IsExpired(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return !now.Before(*l.ExpiresAt)
}

// IsResolvable reports whether the link may redirect at the given time
func (l *Link) IsResolvable(now time.Time) bool {
	return l.Active && !l.IsExpired(now)
}

// OwnedBy reports whether c may manage the link.
// Anonymous links have no owner.
func (l *Link) OwnedBy(c Creator) bool {
	return !c.IsAnonymous() && l.Creator == c
}

// Status returns the lifecycle state at the given time.
// Deactivation wins over expiry since both are terminal.
func (l *Link) Status(now time.Time) LinkStatus {
	switch {
	case !l.Active:
		return StatusDeactivated
	case l.IsExpired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}
