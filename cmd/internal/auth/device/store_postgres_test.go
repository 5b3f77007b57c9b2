package device_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/pgdb"
)

var sessionCols = []string{
	"account_id", "device_id", "device_label", "created_at",
	"last_active_at", "is_active", "deactivated_at", "deactivated_by",
}

const acct = "01HZX0000000000000000000AA"

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *device.Registry) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	st, err := device.NewPostgresStore(mock)
	require.NoError(t, err)
	reg, err := device.NewRegistry(st, device.Config{Cap: 2})
	require.NoError(t, err)
	return mock, reg
}

func expectAccountLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectBeginTx(pgdb.ReadWrite)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "estate"."accounts" WHERE id = $1 FOR UPDATE`)).
		WithArgs(acct).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(acct))
}

func TestPostgresStore_RegisterEvictsLeastRecent(t *testing.T) {
	mock, reg := newMockStore(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-time.Hour)

	expectAccountLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "estate"."device_sessions"`)).
		WithArgs(acct).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(acct, "A", "phone", older, older, true, nil, nil).
			AddRow(acct, "B", "laptop", newer, newer, true, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "estate"."device_sessions"`)).
		WithArgs(acct, "A", now, "evicted").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "estate"."device_sessions"`)).
		WithArgs(acct, "C", "tablet", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := reg.Register(context.Background(), acct, "C", "tablet", now)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "A", res.EvictedDeviceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RegisterKnownDeviceSkipsEviction(t *testing.T) {
	mock, reg := newMockStore(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	expectAccountLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "estate"."device_sessions"`)).
		WithArgs(acct).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(acct, "A", "", earlier, earlier, true, nil, nil).
			AddRow(acct, "B", "", earlier, earlier, true, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "estate"."device_sessions"`)).
		WithArgs(acct, "B", "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := reg.Register(context.Background(), acct, "B", "", now)
	require.NoError(t, err)
	assert.Empty(t, res.EvictedDeviceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RegisterUnknownAccountRollsBack(t *testing.T) {
	mock, reg := newMockStore(t)

	mock.ExpectBeginTx(pgdb.ReadWrite)
	mock.ExpectQuery(`SELECT id FROM`).
		WithArgs(acct).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := reg.Register(context.Background(), acct, "A", "", time.Now())
	assert.True(t, errors.Is(err, device.ErrAccountNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertFailureRollsBack(t *testing.T) {
	mock, reg := newMockStore(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	expectAccountLock(mock)
	mock.ExpectQuery(`FROM "estate"."device_sessions"`).
		WithArgs(acct).
		WillReturnRows(pgxmock.NewRows(sessionCols))
	mock.ExpectExec(`INSERT INTO`).
		WithArgs(acct, "A", "", now).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := reg.Register(context.Background(), acct, "A", "", now)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TouchAndIsActive(t *testing.T) {
	mock, reg := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`SET last_active_at = GREATEST(last_active_at, $3)`)).
		WithArgs(acct, "A", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`GREATEST`).
		WithArgs(acct, "gone", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT is_active FROM`).
		WithArgs(acct, "missing").
		WillReturnError(pgx.ErrNoRows)

	ok, err := reg.Touch(ctx, acct, "A", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Touch(ctx, acct, "gone", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = reg.IsActive(ctx, acct, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateAllExcept(t *testing.T) {
	mock, reg := newMockStore(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`($2::text = '' OR device_id <> $2::text)`)).
		WithArgs(acct, "keep", now, "signed_out_elsewhere").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`UPDATE "estate"."device_sessions"`).
		WithArgs(acct, "", now, "password_reset").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := reg.DeactivateAllExcept(context.Background(), acct, "keep", now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = reg.DeactivateAll(context.Background(), acct, device.ReasonPasswordReset, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveScansDeactivation(t *testing.T) {
	mock, reg := newMockStore(t)
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY last_active_at ASC`).
		WithArgs(acct).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(acct, "A", "phone", at, at, true, nil, nil))

	list, err := reg.Active(context.Background(), acct)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "phone", list[0].Label)
	assert.Nil(t, list[0].DeactivatedAt)
	assert.Empty(t, list[0].DeactivatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = device.NewPostgresStore(mock, device.WithSchema("estate; drop"))
	assert.Error(t, err)
}
