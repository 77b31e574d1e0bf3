package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return New(db), mock
}

func dialogue() *domain.Dialogue {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := domain.Events{
		&domain.ActionExecuted{ActionName: domain.ActionListen},
		&domain.UserUttered{Text: "hi", Intent: domain.Intent{Name: "greet", Confidence: 1}},
	}
	for i, e := range events {
		e.SetTime(at.Add(time.Duration(i) * time.Second))
	}
	return &domain.Dialogue{SenderID: "ana", Events: events}
}

func TestSaveAppendsOnlyNewEvents(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("ana").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs("ana").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO tracker_events").
		WithArgs("ana", 1, "user", 1709283601.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), dialogue()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRewritesLongerLog(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("ana").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs("ana").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec("DELETE FROM tracker_events").WithArgs("ana").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec("INSERT INTO tracker_events").
		WithArgs("ana", 0, "action", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tracker_events").
		WithArgs("ana", 1, "user", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), dialogue()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnInsertError(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("ana").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs("ana").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO tracker_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), dialogue())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert event 0")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDecodesEvents(t *testing.T) {
	store, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"data"})
	for _, e := range dialogue().Events {
		raw, err := domain.MarshalEvent(e)
		require.NoError(t, err)
		rows.AddRow(raw)
	}
	mock.ExpectQuery("SELECT data FROM tracker_events").WithArgs("ana").WillReturnRows(rows)

	dlg, err := store.Load(context.Background(), "ana")
	require.NoError(t, err)
	require.Len(t, dlg.Events, 2)
	assert.Equal(t, "greet", dlg.Events[1].(*domain.UserUttered).Intent.Name)
	assert.True(t, dialogue().Events[1].Time().Equal(dlg.Events[1].Time()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadReturnsNotFound(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectQuery("SELECT data FROM tracker_events").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndList(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectExec("DELETE FROM tracker_events").WithArgs("ana").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT DISTINCT sender_id").
		WillReturnRows(sqlmock.NewRows([]string{"sender_id"}).AddRow("bo").AddRow("cy"))

	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, "ana"))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bo", "cy"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tracker_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
