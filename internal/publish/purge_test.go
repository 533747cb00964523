package publish_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"transcoder/internal/config"
	"transcoder/internal/publish"
	"transcoder/internal/services"
)

type purgeRequest struct {
	method string
	host   string
	path   string
}

func TestHTTPPurgerSendsPurgeWithOriginalHost(t *testing.T) {
	var (
		mu       sync.Mutex
		captured []purgeRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		captured = append(captured, purgeRequest{method: r.Method, host: r.Host, path: r.URL.EscapedPath()})
		mu.Unlock()
		if r.URL.Path == "/transcoded/uncached.webm" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	purger := publish.NewHTTPPurger([]string{server.URL + "/"}, server.Client(), nil)
	urls := []string{
		"https://media.test/transcoded/a/ab/Clip%20One.webm/Clip%20One.webm.360p.webm",
		"https://media.test/transcoded/uncached.webm",
	}
	if err := purger.Purge(context.Background(), urls); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if len(captured) != 2 {
		t.Fatalf("captured %d requests", len(captured))
	}
	first := captured[0]
	if first.method != "PURGE" || first.host != "media.test" {
		t.Fatalf("request = %+v", first)
	}
	if first.path != "/transcoded/a/ab/Clip%20One.webm/Clip%20One.webm.360p.webm" {
		t.Fatalf("path = %q", first.path)
	}
}

func TestHTTPPurgerReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	purger := publish.NewHTTPPurger([]string{server.URL}, server.Client(), nil)
	err := purger.Purge(context.Background(), []string{"https://media.test/x.webm"})
	if !errors.Is(err, services.ErrPublication) {
		t.Fatalf("expected publication error, got %v", err)
	}
}

func TestRedisPurgerDeletesKeysAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	if err := mr.Set("cdn:https://media.test/a.webm", "cached"); err != nil {
		t.Fatal(err)
	}
	if err := mr.Set("cdn:https://media.test/a.webm.m3u8", "cached"); err != nil {
		t.Fatal(err)
	}

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("purges")
	received := make(chan string, 4)
	go func() {
		for msg := range sub.Messages() {
			received <- msg.Message
		}
	}()

	purger, err := publish.NewRedisPurger("redis://"+mr.Addr()+"/0", "purges", "cdn:", nil)
	if err != nil {
		t.Fatalf("NewRedisPurger: %v", err)
	}
	defer purger.Close()

	urls := []string{"https://media.test/a.webm", "https://media.test/a.webm.m3u8"}
	if err := purger.Purge(context.Background(), urls); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	for _, u := range urls {
		if mr.Exists("cdn:" + u) {
			t.Fatalf("key for %s still present", u)
		}
	}
	for i := range urls {
		select {
		case got := <-received:
			if got != urls[i] {
				t.Fatalf("message %d = %q, want %q", i, got, urls[i])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestRedisPurgerUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	purger, err := publish.NewRedisPurger("redis://"+addr, "", "", nil)
	if err != nil {
		t.Fatalf("NewRedisPurger: %v", err)
	}
	defer purger.Close()
	if err := purger.Purge(context.Background(), []string{"https://media.test/a.webm"}); !errors.Is(err, services.ErrPublication) {
		t.Fatalf("expected publication error, got %v", err)
	}
}

func TestNewPurger(t *testing.T) {
	p, err := publish.NewPurger(config.Invalidation{}, nil)
	if err != nil {
		t.Fatalf("NewPurger: %v", err)
	}
	if _, ok := p.(publish.LogPurger); !ok {
		t.Fatalf("expected LogPurger without sinks, got %T", p)
	}
	if err := p.Purge(context.Background(), []string{"x"}); err != nil {
		t.Fatal(err)
	}

	if _, err := publish.NewPurger(config.Invalidation{RedisURL: "not a url"}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	mr := miniredis.RunT(t)
	p, err = publish.NewPurger(config.Invalidation{
		PurgeURLs: []string{"http://127.0.0.1:1"},
		RedisURL:  "redis://" + mr.Addr(),
	}, nil)
	if err != nil {
		t.Fatalf("NewPurger: %v", err)
	}
	defer p.Close()
	if sinks, ok := p.(publish.MultiPurger); !ok || len(sinks) != 2 {
		t.Fatalf("expected two sinks, got %T", p)
	}
}
