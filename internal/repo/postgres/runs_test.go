package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/overture-labs/overture-go/internal/domain"
)

func TestStateEventInsertIsIdempotent(t *testing.T) {
	if !strings.Contains(insertStateEventQuery, "ON CONFLICT (run_id, status) DO NOTHING") {
		t.Fatalf("expected idempotency conflict clause in state event insert")
	}
}

func TestEncodeDecodeConfig(t *testing.T) {
	raw, err := encodeConfig(nil)
	if err != nil {
		t.Fatalf("encodeConfig(nil) err=%v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("encodeConfig(nil)=%q, want {}", raw)
	}

	decoded, err := decodeConfig(nil)
	if err != nil {
		t.Fatalf("decodeConfig(nil) err=%v", err)
	}
	if decoded == nil || len(decoded) != 0 {
		t.Fatalf("decodeConfig(nil)=%v, want empty map", decoded)
	}

	decoded, err = decodeConfig([]byte(`{"duration":"10ms"}`))
	if err != nil {
		t.Fatalf("decodeConfig err=%v", err)
	}
	if decoded["duration"] != "10ms" {
		t.Fatalf("decodeConfig=%v", decoded)
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("  ").Valid {
		t.Fatalf("blank string should be null")
	}
	if !nullString("x").Valid {
		t.Fatalf("non-blank string should be valid")
	}
	if nullTimePtr(nil).Valid {
		t.Fatalf("nil time should be null")
	}
	now := time.Now()
	if !nullTimePtr(&now).Valid {
		t.Fatalf("set time should be valid")
	}
	if got := timePtr(nullTimePtr(&now)); got == nil || !got.Equal(now.UTC()) {
		t.Fatalf("timePtr round trip mismatch")
	}
}

func TestInsertRunValidates(t *testing.T) {
	archive := NewRunArchive(noopDB{})
	if err := archive.InsertRun(context.Background(), domain.Run{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

// noopDB satisfies DB for paths that fail before reaching the database.
type noopDB struct{}

func (noopDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("unexpected exec")
}

func (noopDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (noopDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
