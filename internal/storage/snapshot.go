package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jackc/pgx/v5"

	"template-backend/internal/models"
)

// Snapshot is a point-in-time copy of a JSON datastore, ordered by row key.
type Snapshot struct {
	Sessions []models.Session
	Users    []models.User
}

// SnapshotCounts reports how many rows a snapshot holds or an import wrote.
type SnapshotCounts struct {
	Sessions int
	Users    int
}

func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{Sessions: len(s.Sessions), Users: len(s.Users)}
}

// LoadSnapshotFromJSON reads the datastore file at path. Unlike
// NewJSONRepository it fails when the file does not exist.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return Snapshot{}, fmt.Errorf("stat json datastore: %w", err)
	}
	repo, err := newJSONRepository(path)
	if err != nil {
		return Snapshot{}, err
	}

	repo.mu.RLock()
	defer repo.mu.RUnlock()
	snapshot := Snapshot{
		Sessions: make([]models.Session, 0, len(repo.data.Sessions)),
		Users:    make([]models.User, 0, len(repo.data.Users)),
	}
	for _, record := range repo.data.Sessions {
		snapshot.Sessions = append(snapshot.Sessions, record.projection())
	}
	for _, user := range repo.data.Users {
		snapshot.Users = append(snapshot.Users, user)
	}
	sort.Slice(snapshot.Sessions, func(i, j int) bool { return snapshot.Sessions[i].ID < snapshot.Sessions[j].ID })
	sort.Slice(snapshot.Users, func(i, j int) bool { return snapshot.Users[i].ID < snapshot.Users[j].ID })
	return snapshot, nil
}

// ImportSnapshotToPostgres copies snapshot into a Postgres repository in one
// transaction, keeping row keys and timestamps. Rows whose key, session id or
// email already exist are skipped. The returned counts cover inserted rows.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot Snapshot) (SnapshotCounts, error) {
	pgRepo, ok := repo.(*postgresRepository)
	if !ok || pgRepo == nil || pgRepo.pool == nil {
		return SnapshotCounts{}, errors.New("storage: snapshot import requires a postgres repository")
	}

	tx, err := pgRepo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SnapshotCounts{}, fmt.Errorf("begin import: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var counts SnapshotCounts
	for _, session := range snapshot.Sessions {
		if !session.Kind.Valid() {
			return SnapshotCounts{}, fmt.Errorf("session %s: invalid kind %q", session.SessionID, session.Kind)
		}
		tag, err := tx.Exec(ctx, `
INSERT INTO sessions (id, session_id, type, ip_address, user_agent, created_at, updated_at)
VALUES ($1, $2::text::uuid, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING
`, session.ID, session.SessionID, string(session.Kind), session.IPAddress, session.UserAgent, session.CreatedAt, session.UpdatedAt)
		if err != nil {
			return SnapshotCounts{}, fmt.Errorf("import session %s: %w", session.SessionID, err)
		}
		counts.Sessions += int(tag.RowsAffected())
	}
	for _, user := range snapshot.Users {
		tag, err := tx.Exec(ctx, `
INSERT INTO users (id, email, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
`, user.ID, user.Email, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return SnapshotCounts{}, fmt.Errorf("import user %d: %w", user.ID, err)
		}
		counts.Users += int(tag.RowsAffected())
	}

	// Explicit keys bypass the serial sequences; move them past the data.
	for _, table := range []string{"sessions", "users"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %[1]s", table,
		)); err != nil {
			return SnapshotCounts{}, fmt.Errorf("advance %s sequence: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SnapshotCounts{}, fmt.Errorf("commit import: %w", err)
	}
	return counts, nil
}
