package pg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	val string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.val
	return nil
}

type fakeDB struct {
	rows  map[string]string
	execs []string
	err   error
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	if d.err != nil {
		return pgconn.CommandTag{}, d.err
	}
	switch {
	case strings.Contains(sql, "INSERT INTO kv_slots"):
		d.rows[args[0].(string)] = args[1].(string)
	case strings.Contains(sql, "DELETE FROM kv_slots"):
		delete(d.rows, args[0].(string))
	}
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if d.err != nil {
		return fakeRow{err: d.err}
	}
	v, ok := d.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{val: v}
}

func TestSlotGetSetDelete(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: map[string]string{}}
	s := &Slot{DB: db}

	if _, found, err := s.Get(ctx, "sms_queue"); found || err != nil {
		t.Fatalf("expected no row, found=%v err=%v", found, err)
	}
	if err := s.Set(ctx, "sms_queue", "[]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := s.Get(ctx, "sms_queue")
	if err != nil || !found || v != "[]" {
		t.Fatalf("unexpected get %q found=%v err=%v", v, found, err)
	}
	if err := s.Delete(ctx, "sms_queue"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "sms_queue"); found {
		t.Fatalf("expected row deleted")
	}
}

func TestSlotPropagatesDBErrors(t *testing.T) {
	boom := errors.New("conn refused")
	s := &Slot{DB: &fakeDB{rows: map[string]string{}, err: boom}}

	if _, _, err := s.Get(context.Background(), "k"); !errors.Is(err, boom) {
		t.Fatalf("expected db error from get, got %v", err)
	}
	if err := s.Set(context.Background(), "k", "v"); !errors.Is(err, boom) {
		t.Fatalf("expected db error from set, got %v", err)
	}
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	db := &fakeDB{rows: map[string]string{}}
	if err := (&Slot{DB: db}).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS kv_slots") {
		t.Fatalf("unexpected statements %v", db.execs)
	}
}
