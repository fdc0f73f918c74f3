package archive

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HaujetZhao/SubWriter/internal/pipeline"
)

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.err
}

type fakeDB struct {
	execs   []execCall
	execErr error
	rowErr  error
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return fakeRow{err: db.rowErr}
}

func TestSaveInsertsTranscript(t *testing.T) {
	db := &fakeDB{}
	store := newStore(db)

	id := uuid.New()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := store.Save(context.Background(), Transcript{
		ID:           id,
		CreatedAt:    created,
		AudioSeconds: 3.5,
		Message: &pipeline.Message{
			Tokens:     []string{"你", "好"},
			Timestamps: []float64{0.1, 0.5},
			Text:       "你好",
		},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("Expected 1 statement, got %d", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "INSERT INTO transcripts") {
		t.Errorf("Unexpected statement: %s", call.sql)
	}

	want := []any{id, created, 3.5, "你好", []string{"你", "好"}, []float64{0.1, 0.5}}
	if !reflect.DeepEqual(call.args, want) {
		t.Errorf("Expected args %v, got %v", want, call.args)
	}
}

func TestSaveEmptyTranscriptUsesEmptyArrays(t *testing.T) {
	db := &fakeDB{}
	store := newStore(db)

	err := store.Save(context.Background(), Transcript{ID: uuid.New(), Message: &pipeline.Message{}})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	args := db.execs[0].args
	if tokens, ok := args[4].([]string); !ok || tokens == nil {
		t.Errorf("Expected non-nil token array, got %#v", args[4])
	}
	if timestamps, ok := args[5].([]float64); !ok || timestamps == nil {
		t.Errorf("Expected non-nil timestamp array, got %#v", args[5])
	}
}

func TestSaveErrors(t *testing.T) {
	store := newStore(&fakeDB{})
	if err := store.Save(context.Background(), Transcript{ID: uuid.New()}); err == nil {
		t.Error("Expected error for transcript without message")
	}

	dbErr := errors.New("connection reset")
	store = newStore(&fakeDB{execErr: dbErr})
	err := store.Save(context.Background(), Transcript{ID: uuid.New(), Message: &pipeline.Message{}})
	if !errors.Is(err, dbErr) {
		t.Errorf("Expected wrapped database error, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := newStore(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS transcripts") {
		t.Errorf("Expected table creation, got %+v", db.execs)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newStore(&fakeDB{rowErr: pgx.ErrNoRows})

	_, err := store.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("SUBWRITER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SUBWRITER_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	id := uuid.New()
	message := &pipeline.Message{Tokens: []string{"好"}, Timestamps: []float64{1.5}, Text: "好"}
	if err := store.Save(ctx, Transcript{ID: id, CreatedAt: time.Now(), AudioSeconds: 2, Message: message}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(got.Message, message) {
		t.Errorf("Expected %+v, got %+v", message, got.Message)
	}
}
