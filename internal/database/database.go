package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"telemirror/internal/migrations"
	"telemirror/internal/models"
)

// Database wraps the Postgres connection and carries the at-rest
// encryptor. All message writes funnel through the upsert methods so
// the (external_message_id, source_id) idempotency key is enforced in
// exactly one place.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	logger    *logrus.Logger
}

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := withRetry(ctx, defaultRetryConfig(), func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		db.Close()
		return nil, err
	}

	d := &Database{db: db, encryptor: enc, logger: logger}
	if err := d.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) applySchema(ctx context.Context) error {
	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the notify listener, which needs
// its own dedicated connection.
func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Close() error {
	return d.db.Close()
}

// --- messages ---

func (d *Database) messageArgs(msg *models.Message) ([]interface{}, error) {
	content, senderName := msg.Content, msg.SenderName
	if content != nil {
		enc, err := d.encryptor.EncryptIfEnabled(*content)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt content: %w", err)
		}
		content = &enc
	}
	if senderName != nil {
		enc, err := d.encryptor.EncryptIfEnabled(*senderName)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt sender name: %w", err)
		}
		senderName = &enc
	}
	var mediaType *string
	if msg.MediaType != nil {
		s := string(*msg.MediaType)
		mediaType = &s
	}
	return []interface{}{
		msg.ExternalMessageID,
		msg.SourceID,
		msg.SenderID,
		senderName,
		content,
		mediaType,
		msg.MediaURL,
		msg.ReplyToMessageID,
		msg.TopicID,
		msg.TopicTitle,
		msg.Deleted,
		msg.SentAt,
		msg.EditedAt,
	}, nil
}

// UpsertMessageIgnore persists a first-seen message. Re-delivery of an
// already-stored message is a silent no-op; the return reports whether
// a row was actually written.
func (d *Database) UpsertMessageIgnore(ctx context.Context, msg *models.Message) (bool, error) {
	args, err := d.messageArgs(msg)
	if err != nil {
		return false, err
	}
	res, err := d.db.ExecContext(ctx, UpsertMessageIgnoreQuery, args...)
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertMessageBatchIgnore writes a batch of first-seen messages in a
// single multi-row statement. All rows share one round trip; conflicts
// on the idempotency key are skipped. Returns the number of rows
// actually inserted.
func (d *Database) UpsertMessageBatchIgnore(ctx context.Context, msgs []*models.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	const cols = 13
	var sb strings.Builder
	sb.WriteString(`INSERT INTO messages (` + messageInsertColumns + `) VALUES `)
	args := make([]interface{}, 0, len(msgs)*cols)
	for i, msg := range msgs {
		rowArgs, err := d.messageArgs(msg)
		if err != nil {
			return 0, err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteByte(')')
		args = append(args, rowArgs...)
	}
	sb.WriteString(" ON CONFLICT (external_message_id, source_id) DO NOTHING")

	res, err := d.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert message batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertMessageEdit persists an edited message, replacing the stored
// content. A previously soft-deleted row keeps its deleted flag.
func (d *Database) UpsertMessageEdit(ctx context.Context, msg *models.Message) error {
	args, err := d.messageArgs(msg)
	if err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, UpsertMessageEditQuery, args...); err != nil {
		return fmt.Errorf("failed to upsert edited message: %w", err)
	}
	return nil
}

// MarkMessagesDeleted soft-deletes messages by external ID. Unknown IDs
// are ignored.
func (d *Database) MarkMessagesDeleted(ctx context.Context, sourceID int64, externalIDs []int64) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx, MarkMessagesDeletedQuery, sourceID, pq.Array(externalIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountMessages returns the number of live (non-deleted) messages stored
// for a source.
func (d *Database) CountMessages(ctx context.Context, sourceID int64) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountMessagesQuery, sourceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// --- sources ---

func scanSource(row interface{ Scan(...interface{}) error }) (*models.Source, error) {
	var s models.Source
	err := row.Scan(
		&s.ExternalID, &s.Title, &s.Username, &s.MemberCount,
		&s.Kind, &s.Visibility, &s.CrawlEnabled,
		&s.LastCrawledAt, &s.LastError, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *Database) ListEnabledSources(ctx context.Context) ([]*models.Source, error) {
	rows, err := d.db.QueryContext(ctx, ListEnabledSourcesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (d *Database) GetSource(ctx context.Context, externalID int64) (*models.Source, error) {
	s, err := scanSource(d.db.QueryRowContext(ctx, GetSourceQuery, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return s, nil
}

func (d *Database) SaveSource(ctx context.Context, s *models.Source) error {
	_, err := d.db.ExecContext(ctx, UpsertSourceQuery,
		s.ExternalID, s.Title, s.Username, s.MemberCount, s.Kind, s.Visibility)
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (d *Database) UpdateSourceLastError(ctx context.Context, externalID int64, lastError *string) error {
	if _, err := d.db.ExecContext(ctx, UpdateSourceLastErrorQuery, externalID, lastError); err != nil {
		return fmt.Errorf("failed to update source error: %w", err)
	}
	return nil
}

// --- crawl status ---

// EnsureCrawlStatusRow lazily creates the per-source status row the
// first time a source is observed.
func (d *Database) EnsureCrawlStatusRow(ctx context.Context, sourceID int64) error {
	if _, err := d.db.ExecContext(ctx, EnsureCrawlStatusRowQuery, sourceID); err != nil {
		return fmt.Errorf("failed to ensure crawl status row: %w", err)
	}
	return nil
}

// RecordSourceSuccess resets the error streak and advances the
// last-message watermark; the watermark never moves backwards.
func (d *Database) RecordSourceSuccess(ctx context.Context, sourceID int64, lastMessageAt time.Time) error {
	if _, err := d.db.ExecContext(ctx, RecordSourceSuccessQuery, sourceID, lastMessageAt); err != nil {
		return fmt.Errorf("failed to record source success: %w", err)
	}
	return nil
}

func (d *Database) IncrementCrawlError(ctx context.Context, sourceID int64, errMsg string) error {
	if _, err := d.db.ExecContext(ctx, IncrementCrawlErrorQuery, sourceID, errMsg); err != nil {
		return fmt.Errorf("failed to increment crawl error: %w", err)
	}
	return nil
}

// UpdateCrawlStatus applies a partial status update; nil fields are
// left untouched.
func (d *Database) UpdateCrawlStatus(ctx context.Context, sourceID int64, status *models.CrawlState, progress, total *int) error {
	sets := []string{"updated_at = now()"}
	args := []interface{}{sourceID}
	idx := 2
	if status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(*status))
		idx++
	}
	if progress != nil {
		sets = append(sets, fmt.Sprintf("backfill_progress = $%d", idx))
		args = append(args, *progress)
		idx++
	}
	if total != nil {
		sets = append(sets, fmt.Sprintf("backfill_total = $%d", idx))
		args = append(args, *total)
		idx++
	}
	query := fmt.Sprintf("UPDATE crawl_status SET %s WHERE source_id = $1", strings.Join(sets, ", "))
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update crawl status: %w", err)
	}
	return nil
}

// IsSourceEnabled reports the per-source kill switch. A missing row
// counts as enabled; the row will be created on first write.
func (d *Database) IsSourceEnabled(ctx context.Context, sourceID int64) (bool, error) {
	var enabled bool
	err := d.db.QueryRowContext(ctx, IsSourceEnabledQuery, sourceID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check source enabled: %w", err)
	}
	return enabled, nil
}

func scanCrawlStatus(row interface{ Scan(...interface{}) error }) (*models.CrawlStatus, error) {
	var cs models.CrawlStatus
	err := row.Scan(
		&cs.SourceID, &cs.Status, &cs.Enabled, &cs.LastMessageAt,
		&cs.LastError, &cs.ErrorCount, &cs.BackfillProgress,
		&cs.BackfillTotal, &cs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (d *Database) GetCrawlStatus(ctx context.Context, sourceID int64) (*models.CrawlStatus, error) {
	cs, err := scanCrawlStatus(d.db.QueryRowContext(ctx, GetCrawlStatusQuery, sourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl status: %w", err)
	}
	return cs, nil
}

func (d *Database) ListCrawlStatuses(ctx context.Context) ([]*models.CrawlStatus, error) {
	rows, err := d.db.QueryContext(ctx, ListCrawlStatusesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.CrawlStatus
	for rows.Next() {
		cs, err := scanCrawlStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl status: %w", err)
		}
		statuses = append(statuses, cs)
	}
	return statuses, rows.Err()
}

// --- dead letters ---

func (d *Database) SaveDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	payload, err := d.encryptor.EncryptIfEnabled(string(entry.Payload))
	if err != nil {
		return fmt.Errorf("failed to encrypt dead letter payload: %w", err)
	}
	_, err = d.db.ExecContext(ctx, InsertDeadLetterQuery,
		entry.ExternalMessageID, entry.SourceID, payload, entry.ErrorMessage, entry.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns one page of entries, newest first, plus the
// total matching count for pagination.
func (d *Database) ListDeadLetters(ctx context.Context, resolved *bool, limit, offset int) ([]*models.DeadLetterEntry, int, error) {
	where := ""
	args := []interface{}{}
	if resolved != nil {
		where = "WHERE resolved = $1"
		args = append(args, *resolved)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM dead_letters %s", where)
	if err := d.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, external_message_id, source_id, payload, error_message,
		       retry_count, resolved, created_at, resolved_at
		FROM dead_letters %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*models.DeadLetterEntry
	for rows.Next() {
		entry, err := d.scanDeadLetter(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (d *Database) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterEntry, error) {
	entry, err := d.scanDeadLetter(d.db.QueryRowContext(ctx, GetDeadLetterQuery, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return entry, nil
}

func (d *Database) scanDeadLetter(row interface{ Scan(...interface{}) error }) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	var payload string
	err := row.Scan(
		&entry.ID, &entry.ExternalMessageID, &entry.SourceID, &payload,
		&entry.ErrorMessage, &entry.RetryCount, &entry.Resolved,
		&entry.CreatedAt, &entry.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	decrypted, err := d.encryptor.DecryptIfEnabled(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt dead letter payload: %w", err)
	}
	entry.Payload = []byte(decrypted)
	return &entry, nil
}

func (d *Database) ResolveDeadLetter(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, ResolveDeadLetterQuery, id)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *Database) CountUnresolvedDeadLetters(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountUnresolvedDeadLettersQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// --- resolved identifiers ---

// LoadResolvedIdentifiers returns the entire persisted resolution cache,
// read once at startup to warm the in-memory tier.
func (d *Database) LoadResolvedIdentifiers(ctx context.Context) ([]*models.ResolvedIdentifier, error) {
	rows, err := d.db.QueryContext(ctx, LoadResolvedIdentifiersQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolved identifiers: %w", err)
	}
	defer rows.Close()

	var entries []*models.ResolvedIdentifier
	for rows.Next() {
		var ri models.ResolvedIdentifier
		if err := rows.Scan(&ri.SourceID, &ri.AccessHash, &ri.EntityKind, &ri.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resolved identifier: %w", err)
		}
		entries = append(entries, &ri)
	}
	return entries, rows.Err()
}

func (d *Database) SaveResolvedIdentifier(ctx context.Context, ri *models.ResolvedIdentifier) error {
	_, err := d.db.ExecContext(ctx, SaveResolvedIdentifierQuery, ri.SourceID, ri.AccessHash, ri.EntityKind)
	if err != nil {
		return fmt.Errorf("failed to save resolved identifier: %w", err)
	}
	return nil
}

func (d *Database) DeleteResolvedIdentifier(ctx context.Context, sourceID int64) error {
	if _, err := d.db.ExecContext(ctx, DeleteResolvedIdentifierQuery, sourceID); err != nil {
		return fmt.Errorf("failed to delete resolved identifier: %w", err)
	}
	return nil
}
