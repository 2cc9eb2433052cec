package service

import (
	"context"
	"time"

	"telemirror/internal/models"
)

// Store is the persistence surface the pipeline depends on. Implemented
// by internal/database; mocked in tests.
type Store interface {
	UpsertMessageIgnore(ctx context.Context, msg *models.Message) (bool, error)
	UpsertMessageBatchIgnore(ctx context.Context, msgs []*models.Message) (int64, error)
	UpsertMessageEdit(ctx context.Context, msg *models.Message) error
	MarkMessagesDeleted(ctx context.Context, sourceID int64, externalIDs []int64) (int64, error)
	CountMessages(ctx context.Context, sourceID int64) (int, error)

	ListEnabledSources(ctx context.Context) ([]*models.Source, error)
	GetSource(ctx context.Context, externalID int64) (*models.Source, error)
	SaveSource(ctx context.Context, s *models.Source) error
	UpdateSourceLastError(ctx context.Context, externalID int64, lastError *string) error

	EnsureCrawlStatusRow(ctx context.Context, sourceID int64) error
	RecordSourceSuccess(ctx context.Context, sourceID int64, lastMessageAt time.Time) error
	IncrementCrawlError(ctx context.Context, sourceID int64, errMsg string) error
	UpdateCrawlStatus(ctx context.Context, sourceID int64, status *models.CrawlState, progress, total *int) error
	IsSourceEnabled(ctx context.Context, sourceID int64) (bool, error)
	GetCrawlStatus(ctx context.Context, sourceID int64) (*models.CrawlStatus, error)
	ListCrawlStatuses(ctx context.Context) ([]*models.CrawlStatus, error)

	SaveDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error
	ListDeadLetters(ctx context.Context, resolved *bool, limit, offset int) ([]*models.DeadLetterEntry, int, error)
	GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, id int64) error
	CountUnresolvedDeadLetters(ctx context.Context) (int, error)

	LoadResolvedIdentifiers(ctx context.Context) ([]*models.ResolvedIdentifier, error)
	SaveResolvedIdentifier(ctx context.Context, ri *models.ResolvedIdentifier) error
	DeleteResolvedIdentifier(ctx context.Context, sourceID int64) error
}

// Notifier fans successfully committed rows out to the dashboard's side
// channel. Best-effort; implementations never return errors to callers.
type Notifier interface {
	Publish(ctx context.Context, eventKind string, row interface{})
}
