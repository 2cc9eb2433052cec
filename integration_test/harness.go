package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	"telemirror/internal/database"
	"telemirror/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// testDSNEnv names the Postgres instance these tests run against. The
// suite needs a real server because the change notifier rides on
// LISTEN/NOTIFY, which no embedded store provides.
const testDSNEnv = "TELEMIRROR_TEST_DATABASE_URL"

// newTestDatabase connects to the integration database and resets its
// tables. Tests are skipped when TELEMIRROR_TEST_DATABASE_URL is unset
// so the unit suite stays runnable without infrastructure.
func newTestDatabase(t *testing.T) (*database.Database, func()) {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("set %s to run integration tests", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.New(ctx, database.Config{
		DSN:          dsn,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err, "connect to integration database")

	truncateAll(t, db)

	return db, func() {
		truncateAll(t, db)
		require.NoError(t, db.Close())
	}
}

func truncateAll(t *testing.T, db *database.Database) {
	t.Helper()
	_, err := db.DB().Exec(`TRUNCATE messages, dead_letters, crawl_status, resolved_identifiers, sources RESTART IDENTITY CASCADE`)
	require.NoError(t, err, "reset integration tables")
}

func seedSource(t *testing.T, db *database.Database, externalID int64, title string) {
	t.Helper()
	require.NoError(t, db.SaveSource(context.Background(), &models.Source{
		ExternalID:   externalID,
		Title:        title,
		Kind:         models.SourceKindGroup,
		Visibility:   models.SourceVisibilityPublic,
		CrawlEnabled: true,
	}))
}

func strPtr(s string) *string { return &s }

func i64Ptr(v int64) *int64 { return &v }
