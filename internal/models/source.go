package models

import "time"

// SourceKind distinguishes the upstream flavors of a monitored group.
type SourceKind string

const (
	SourceKindGroup      SourceKind = "group"
	SourceKindSupergroup SourceKind = "supergroup"
	SourceKindChannel    SourceKind = "channel"
)

// SourceVisibility is an external concern carried through for the dashboard.
type SourceVisibility string

const (
	SourceVisibilityPublic  SourceVisibility = "public"
	SourceVisibilityPrivate SourceVisibility = "private"
)

// Source is one monitored external group/channel. The upstream's own
// identifier is the primary key; all ingestion logic addresses sources
// by this value.
type Source struct {
	ExternalID    int64            `json:"external_id" db:"external_id"`
	Title         string           `json:"title" db:"title"`
	Username      *string          `json:"username,omitempty" db:"username"`
	MemberCount   *int             `json:"member_count,omitempty" db:"member_count"`
	Kind          SourceKind       `json:"kind" db:"kind"`
	Visibility    SourceVisibility `json:"visibility" db:"visibility"`
	CrawlEnabled  bool             `json:"crawl_enabled" db:"crawl_enabled"`
	LastCrawledAt *time.Time       `json:"last_crawled_at,omitempty" db:"last_crawled_at"`
	LastError     *string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// CrawlState enumerates the operational state of one source's ingestion.
type CrawlState string

const (
	CrawlStateActive       CrawlState = "active"
	CrawlStateInactive     CrawlState = "inactive"
	CrawlStateError        CrawlState = "error"
	CrawlStateInitializing CrawlState = "initializing"
)

// CrawlStatus is the per-source operational row kept for the dashboard.
// Created lazily when a source is first observed, updated continuously
// by the backfill scheduler and batch writer.
type CrawlStatus struct {
	SourceID         int64      `json:"source_id" db:"source_id"`
	Status           CrawlState `json:"status" db:"status"`
	Enabled          bool       `json:"is_enabled" db:"is_enabled"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	LastError        *string    `json:"last_error,omitempty" db:"last_error"`
	ErrorCount       int        `json:"error_count" db:"error_count"`
	BackfillProgress int        `json:"backfill_progress" db:"backfill_progress"`
	BackfillTotal    int        `json:"backfill_total" db:"backfill_total"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// ResolvedIdentifier maps a source's external identifier to the concrete
// resolution handle needed for upstream calls. Entries are advisory: a
// miss or a stale entry always falls back to a fresh resolution.
type ResolvedIdentifier struct {
	SourceID   int64     `json:"source_id" db:"source_id"`
	AccessHash int64     `json:"access_hash" db:"access_hash"`
	EntityKind string    `json:"entity_kind" db:"entity_kind"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
