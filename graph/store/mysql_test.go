package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockMySQLStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS thread_checkpoints")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	st, err := NewMySQLStoreFromDB(context.Background(), db)
	if err != nil {
		t.Fatalf("NewMySQLStoreFromDB failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, mock
}

func TestMySQLStore_PutNewThreadUsesInsert(t *testing.T) {
	st, mock := newMockMySQLStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO thread_checkpoints")).
		WithArgs("t-1", int64(1), "running", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.Put(context.Background(), Checkpoint{ThreadID: "t-1", Revision: 1, Status: StatusRunning})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLStore_PutIsConditionalOnRevision(t *testing.T) {
	st, mock := newMockMySQLStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE thread_checkpoints SET revision = ?, status = ?, data = ?, updated_at = ? WHERE thread_id = ? AND revision = ?")).
		WithArgs(int64(5), "paused", sqlmock.AnyArg(), sqlmock.AnyArg(), "t-1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Put(context.Background(), Checkpoint{ThreadID: "t-1", Revision: 5, Status: StatusPaused})
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict when no row matched, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLStore_Get(t *testing.T) {
	st, mock := newMockMySQLStore(t)

	cp := Checkpoint{
		ThreadID:     "t-1",
		Revision:     3,
		Status:       StatusPaused,
		Values:       map[string]json.RawMessage{"stage": json.RawMessage(`"use_cases"`)},
		PendingNodes: []string{"validate_use_cases"},
	}
	data, _ := json.Marshal(cp)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM thread_checkpoints WHERE thread_id = ?")).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM thread_checkpoints WHERE thread_id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	got, err := st.Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Revision != 3 || got.PendingNodes[0] != "validate_use_cases" {
		t.Errorf("unexpected checkpoint: %+v", got)
	}

	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLStore_List(t *testing.T) {
	st, mock := newMockMySQLStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT thread_id FROM thread_checkpoints ORDER BY updated_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"thread_id"}).AddRow("b").AddRow("a"))

	ids, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "b" {
		t.Errorf("List = %v, want [b a]", ids)
	}
}

func TestMySQLStore_Closed(t *testing.T) {
	st, mock := newMockMySQLStore(t)
	mock.ExpectClose()

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := st.Get(context.Background(), "t"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
