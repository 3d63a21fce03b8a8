package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wrathbot/internal/types"
)

// UserRepository provides data access for the users and interactions tables.
// The users table carries both the birthday/timezone directory consumed by
// the scheduler and the per-kind XP and sent/received counters consumed by
// the interaction commands.
type UserRepository struct {
	db DBTX
	tx TxBeginner
}

// NewUserRepository creates a UserRepository. db serves single-statement
// queries; tx starts transactions for multi-row updates. Both are usually
// the same *pgxpool.Pool.
func NewUserRepository(db DBTX, tx TxBeginner) *UserRepository {
	return &UserRepository{db: db, tx: tx}
}

// userColumns is the standard column set for full user queries. The order
// must match scanUser: identity, directory fields, XP per kind, sent per
// kind, received per kind, timestamps. Kinds appear in types.InteractionKinds
// order.
const userColumns = `u.user_id, u.timezone, u.birthday,
	u.bonk_xp, u.boop_xp, u.bite_xp, u.pat_xp, u.poke_xp, u.smooch_xp,
	u.bonks_sent, u.boops_sent, u.bites_sent, u.pats_sent, u.pokes_sent, u.smoochs_sent,
	u.bonks_received, u.boops_received, u.bites_received, u.pats_received, u.pokes_received, u.smoochs_received,
	u.created_at, u.updated_at`

// scanUser scans a single user row into a types.User. The destination order
// must match userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	n := len(types.InteractionKinds)
	xp := make([]int, n)
	sent := make([]int, n)
	received := make([]int, n)

	dest := []any{&u.UserID, &u.Timezone, &u.Birthday}
	for i := range xp {
		dest = append(dest, &xp[i])
	}
	for i := range sent {
		dest = append(dest, &sent[i])
	}
	for i := range received {
		dest = append(dest, &received[i])
	}
	dest = append(dest, &u.CreatedAt, &u.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	u.XP = make(map[types.InteractionKind]int, n)
	u.Sent = make(map[types.InteractionKind]int, n)
	u.Received = make(map[types.InteractionKind]int, n)
	for i, k := range types.InteractionKinds {
		u.XP[k] = xp[i]
		u.Sent[k] = sent[i]
		u.Received[k] = received[i]
	}
	return &u, nil
}

// Per-kind column names. The kind is always validated before being spliced
// into SQL, so these never receive untrusted input.
func xpColumn(kind types.InteractionKind) string       { return string(kind) + "_xp" }
func sentColumn(kind types.InteractionKind) string     { return string(kind) + "s_sent" }
func receivedColumn(kind types.InteractionKind) string { return string(kind) + "s_received" }

// GetUser retrieves a user by ID. Returns an AppError with
// ErrCodeNotFoundUser when no row exists.
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.user_id = $1`,
		userID,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return u, nil
}

// ListSchedulable returns every user with both birthday and timezone set,
// with only the directory fields populated. Counter maps are nil.
func (r *UserRepository) ListSchedulable(ctx context.Context) ([]types.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, timezone, birthday
		 FROM users
		 WHERE birthday IS NOT NULL AND timezone IS NOT NULL
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedulable users", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.UserID, &u.Timezone, &u.Birthday); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedulable user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate schedulable users", err)
	}
	return users, nil
}

// UpsertBirthday stores the user's birthday and timezone together
// (last-writer-wins on user_id). The birthday is stored as the literal
// wall-clock value; the zone context lives in the timezone column.
func (r *UserRepository) UpsertBirthday(ctx context.Context, userID string, birthday time.Time, timezone string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (user_id, birthday, timezone)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET birthday = EXCLUDED.birthday, timezone = EXCLUDED.timezone, updated_at = NOW()`,
		userID, birthday, timezone,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert birthday", err)
	}
	return nil
}

// UpsertTimezone stores the user's timezone, leaving any birthday untouched.
func (r *UserRepository) UpsertTimezone(ctx context.Context, userID string, timezone string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (user_id, timezone)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET timezone = EXCLUDED.timezone, updated_at = NOW()`,
		userID, timezone,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert timezone", err)
	}
	return nil
}

// InteractionResult reports the outcome of ApplyInteraction.
type InteractionResult struct {
	// PairCount is the total number of times the sender has performed this
	// kind on this target, including the one just applied.
	PairCount int
	// SenderXP is the sender's XP for this kind after the award.
	SenderXP int
}

// ApplyInteraction records one interaction atomically: the sender gains XP
// and a sent counter, the target gains a received counter, and the pair-wise
// count is incremented. All three updates commit or none do.
func (r *UserRepository) ApplyInteraction(ctx context.Context, kind types.InteractionKind, fromID, toID string, xpAward int) (InteractionResult, error) {
	var res InteractionResult

	if !kind.Valid() {
		return res, types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("unknown interaction kind %q", kind), nil)
	}
	if fromID == toID {
		return res, types.NewAppError(types.ErrCodeValidationSelfTarget,
			"sender and target are the same user", nil)
	}

	tx, err := r.tx.Begin(ctx)
	if err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to begin interaction transaction", err)
	}
	defer tx.Rollback(ctx)

	xpCol, sentCol, recvCol := xpColumn(kind), sentColumn(kind), receivedColumn(kind)

	row := tx.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO users (user_id, %[1]s, %[2]s)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (user_id) DO UPDATE
		 SET %[1]s = users.%[1]s + $2, %[2]s = users.%[2]s + 1, updated_at = NOW()
		 RETURNING %[1]s`,
		xpCol, sentCol),
		fromID, xpAward,
	)
	if err := row.Scan(&res.SenderXP); err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to update sender counters", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO users (user_id, %[1]s)
		 VALUES ($1, 1)
		 ON CONFLICT (user_id) DO UPDATE
		 SET %[1]s = users.%[1]s + 1, updated_at = NOW()`,
		recvCol),
		toID,
	); err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to update target counters", err)
	}

	row = tx.QueryRow(ctx,
		`INSERT INTO interactions (kind, from_user_id, to_user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kind, from_user_id, to_user_id) DO UPDATE
		 SET count = interactions.count + 1, last_at = NOW()
		 RETURNING count`,
		string(kind), fromID, toID,
	)
	if err := row.Scan(&res.PairCount); err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to update interaction count", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to commit interaction", err)
	}
	return res, nil
}

// Leaderboard returns the top senders for a kind, ranked by the sent
// counter. Users with a zero counter are excluded.
func (r *UserRepository) Leaderboard(ctx context.Context, kind types.InteractionKind, limit int) ([]types.LeaderboardEntry, error) {
	if !kind.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("unknown interaction kind %q", kind), nil)
	}

	sentCol := sentColumn(kind)
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT user_id, %[1]s
		 FROM users
		 WHERE %[1]s > 0
		 ORDER BY %[1]s DESC, user_id
		 LIMIT $1`,
		sentCol),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query leaderboard", err)
	}
	defer rows.Close()

	var entries []types.LeaderboardEntry
	for rows.Next() {
		var e types.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan leaderboard row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate leaderboard", err)
	}
	return entries, nil
}

// FavoriteTarget returns the user the sender has performed the kind on most
// often, or nil when the sender has never performed it.
func (r *UserRepository) FavoriteTarget(ctx context.Context, kind types.InteractionKind, fromID string) (*types.InteractionStat, error) {
	row := r.db.QueryRow(ctx,
		`SELECT kind, from_user_id, to_user_id, count, last_at
		 FROM interactions
		 WHERE kind = $1 AND from_user_id = $2
		 ORDER BY count DESC, last_at DESC
		 LIMIT 1`,
		string(kind), fromID,
	)

	var s types.InteractionStat
	var k string
	err := row.Scan(&k, &s.From, &s.To, &s.Count, &s.LastAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query favorite target", err)
	}
	s.Kind = types.InteractionKind(k)
	return &s, nil
}
