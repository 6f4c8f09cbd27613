package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studyforge/gateway/internal/database"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and clears
// every table. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, `
		TRUNCATE ai_interaction_logs, telemetry_events, game_sessions, game_credentials,
			notifications, security_policy, admin_sessions, games, participants, researchers
		CASCADE
	`)
	require.NoError(t, err)

	return db
}

type fixture struct {
	ResearcherID  string
	GameID        string
	ParticipantID string
}

func seedFixture(t *testing.T, db *database.DB) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	require.NoError(t, db.GetContext(ctx, &f.ResearcherID,
		`INSERT INTO researchers (email) VALUES ('pi@example.edu') RETURNING id`))
	require.NoError(t, db.GetContext(ctx, &f.GameID,
		`INSERT INTO games (name, owner_id) VALUES ('maze', $1) RETURNING id`, f.ResearcherID))
	require.NoError(t, db.GetContext(ctx, &f.ParticipantID,
		`INSERT INTO participants DEFAULT VALUES RETURNING id`))
	return f
}

func TestHandleNotFound(t *testing.T) {
	v := 3
	got, err := HandleNotFound(&v, nil)
	require.NoError(t, err)
	require.Equal(t, 3, *got)
}

func TestJSONArg(t *testing.T) {
	require.Equal(t, "{}", jsonArg(nil))
	require.Equal(t, `{"a":1}`, jsonArg([]byte(`{"a":1}`)))
}
