package database

// Message queries. Every upsert is keyed on the idempotency pair
// (external_message_id, source_id).
const (
	messageInsertColumns = `external_message_id, source_id, sender_id, sender_name, content,
		media_type, media_url, reply_to_message_id, topic_id, topic_title, is_deleted, sent_at, edited_at`

	// First-seen messages: redundant re-delivery from overlapping
	// backfill/live/gap-fill passes is a no-op.
	UpsertMessageIgnoreQuery = `
		INSERT INTO messages (` + messageInsertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (external_message_id, source_id) DO NOTHING
	`

	// Edited messages: latest payload wins, but a soft-deleted row is
	// never resurrected by a later re-delivery.
	UpsertMessageEditQuery = `
		INSERT INTO messages (` + messageInsertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (external_message_id, source_id) DO UPDATE SET
			content = EXCLUDED.content,
			media_type = EXCLUDED.media_type,
			media_url = COALESCE(EXCLUDED.media_url, messages.media_url),
			edited_at = EXCLUDED.edited_at,
			edit_count = messages.edit_count + 1,
			is_deleted = messages.is_deleted OR EXCLUDED.is_deleted
	`

	MarkMessagesDeletedQuery = `
		UPDATE messages SET is_deleted = TRUE
		WHERE source_id = $1 AND external_message_id = ANY($2)
	`

	CountMessagesQuery = `
		SELECT COUNT(*) FROM messages
		WHERE source_id = $1 AND is_deleted = FALSE
	`
)

// Source queries
const (
	ListEnabledSourcesQuery = `
		SELECT external_id, title, username, member_count, kind, visibility,
		       crawl_enabled, last_crawled_at, last_error, created_at
		FROM sources
		WHERE crawl_enabled = TRUE
		ORDER BY external_id
	`

	GetSourceQuery = `
		SELECT external_id, title, username, member_count, kind, visibility,
		       crawl_enabled, last_crawled_at, last_error, created_at
		FROM sources
		WHERE external_id = $1
	`

	// Discovery refreshes metadata but never flips crawl_enabled: that
	// stays an operator decision.
	UpsertSourceQuery = `
		INSERT INTO sources (external_id, title, username, member_count, kind, visibility, crawl_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			member_count = EXCLUDED.member_count,
			kind = EXCLUDED.kind,
			visibility = EXCLUDED.visibility
	`

	UpdateSourceLastErrorQuery = `
		UPDATE sources SET last_error = $2, last_crawled_at = now()
		WHERE external_id = $1
	`
)

// Crawl status queries
const (
	EnsureCrawlStatusRowQuery = `
		INSERT INTO crawl_status (source_id, status, is_enabled)
		VALUES ($1, 'initializing', TRUE)
		ON CONFLICT (source_id) DO NOTHING
	`

	RecordSourceSuccessQuery = `
		UPDATE crawl_status SET
			status = 'active',
			error_count = 0,
			last_error = NULL,
			last_message_at = GREATEST(COALESCE(last_message_at, to_timestamp(0)), $2),
			updated_at = now()
		WHERE source_id = $1
	`

	IncrementCrawlErrorQuery = `
		UPDATE crawl_status SET
			status = 'error',
			last_error = $2,
			error_count = error_count + 1,
			updated_at = now()
		WHERE source_id = $1
	`

	IsSourceEnabledQuery = `
		SELECT is_enabled FROM crawl_status WHERE source_id = $1
	`

	GetCrawlStatusQuery = `
		SELECT source_id, status, is_enabled, last_message_at, last_error,
		       error_count, backfill_progress, backfill_total, updated_at
		FROM crawl_status
		WHERE source_id = $1
	`

	ListCrawlStatusesQuery = `
		SELECT source_id, status, is_enabled, last_message_at, last_error,
		       error_count, backfill_progress, backfill_total, updated_at
		FROM crawl_status
		ORDER BY source_id
	`
)

// Dead letter queries
const (
	InsertDeadLetterQuery = `
		INSERT INTO dead_letters (external_message_id, source_id, payload, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5)
	`

	GetDeadLetterQuery = `
		SELECT id, external_message_id, source_id, payload, error_message,
		       retry_count, resolved, created_at, resolved_at
		FROM dead_letters
		WHERE id = $1
	`

	ResolveDeadLetterQuery = `
		UPDATE dead_letters SET
			resolved = TRUE,
			resolved_at = now(),
			retry_count = retry_count + 1
		WHERE id = $1
	`

	CountUnresolvedDeadLettersQuery = `
		SELECT COUNT(*) FROM dead_letters WHERE resolved = FALSE
	`
)

// Resolved identifier cache queries
const (
	LoadResolvedIdentifiersQuery = `
		SELECT source_id, access_hash, entity_kind, updated_at
		FROM resolved_identifiers
	`

	SaveResolvedIdentifierQuery = `
		INSERT INTO resolved_identifiers (source_id, access_hash, entity_kind, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_id) DO UPDATE SET
			access_hash = EXCLUDED.access_hash,
			entity_kind = EXCLUDED.entity_kind,
			updated_at = now()
	`

	DeleteResolvedIdentifierQuery = `
		DELETE FROM resolved_identifiers WHERE source_id = $1
	`
)
