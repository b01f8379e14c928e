package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Article is a top-level post row
type Article struct {
	ID        string       `db:"id" json:"id"`
	Content   string       `db:"content" json:"content"`
	UserID    string       `db:"user_id" json:"user_id"`
	PositionX float64      `db:"position_x" json:"position_x"`
	PositionY float64      `db:"position_y" json:"position_y"`
	PositionZ float64      `db:"position_z" json:"position_z"`
	Radius    float64      `db:"radius" json:"radius"`
	IsDeleted bool         `db:"is_deleted" json:"is_deleted"`
	DeletedAt sql.NullTime `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Comment is a reply row, addressed inside its article by path
type Comment struct {
	ID        string         `db:"id" json:"id"`
	ArticleID string         `db:"article_id" json:"article_id"`
	Content   string         `db:"content" json:"content"`
	UserID    string         `db:"user_id" json:"user_id"`
	Path      string         `db:"path" json:"path"`
	Depth     int            `db:"depth" json:"depth"`
	PositionX float64        `db:"position_x" json:"position_x"`
	PositionY float64        `db:"position_y" json:"position_y"`
	PositionZ float64        `db:"position_z" json:"position_z"`
	Radius    float64        `db:"radius" json:"radius"`
	RehomeKey sql.NullString `db:"rehome_key" json:"-"`
	IsDeleted bool           `db:"is_deleted" json:"is_deleted"`
	DeletedAt sql.NullTime   `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// AdminAccount is an operator allowed to run maintenance endpoints
type AdminAccount struct {
	Username    string         `db:"username" json:"username"`
	DisplayName string         `db:"display_name" json:"display_name"`
	TokenHash   string         `db:"token_hash" json:"-"`
	Roles       pq.StringArray `db:"roles" json:"roles"`
	AllowedIPs  pq.StringArray `db:"allowed_ips" json:"allowed_ips"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// AdminAudit records one admin action
type AdminAudit struct {
	ID        int64           `db:"id" json:"id"`
	AdminUser string          `db:"admin_user" json:"admin_user"`
	IP        string          `db:"ip" json:"ip"`
	Route     string          `db:"route" json:"route"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details"`
	Success   bool            `db:"success" json:"success"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
