package queue

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

type codedErr int

func (c codedErr) Error() string { return "sqlite error" }
func (c codedErr) Code() int     { return int(c) }

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return codedErr(sqliteBusy)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	if err := retryOnBusy(context.Background(), func() error { calls++; return permanent }); !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-busy error retried: %v after %d calls", err, calls)
	}

	calls = 0
	err = retryOnBusy(context.Background(), func() error { calls++; return errors.New("database is locked") })
	if err == nil || calls != len(busyBackoff)+1 {
		t.Fatalf("expected exhaustion, got %v after %d calls", err, calls)
	}
}

func TestRetryOnBusyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnBusy(ctx, func() error { return codedErr(sqliteBusy | 0x100) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	dsn := sqliteDSN("/var/lib/transcoder/transcode.db")
	path, query, ok := strings.Cut(dsn, "?")
	if !ok || path != "file:/var/lib/transcoder/transcode.db" {
		t.Fatalf("dsn = %q", dsn)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(values["_pragma"], ","); got != "journal_mode(WAL),busy_timeout(5000),foreign_keys(1)" {
		t.Fatalf("pragmas = %q", got)
	}
}
