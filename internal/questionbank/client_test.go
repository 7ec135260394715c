package questionbank

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
)

const sampleQuestions = `[
	{"id":"q1","question_text":"One?","option1":"a","option2":"b","answer":"1"},
	{"id":"q2","question_text":"Two?","option1":"a","option2":"b","answer":"B"}
]`

func newBankServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/api/index.php" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("route"); got != "questions" {
			t.Errorf("expected route=questions, got %q", got)
		}
		if got := r.URL.Query().Get("token"); got != "secret" {
			t.Errorf("expected token=secret, got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLoadsQuestions(t *testing.T) {
	bodies := map[string]string{
		"raw array":          sampleQuestions,
		"data envelope":      `{"success":true,"data":{"questions":` + sampleQuestions + `,"total":2}}`,
		"questions envelope": `{"success":true,"questions":` + sampleQuestions + `}`,
		"data list":          `{"success":true,"data":` + sampleQuestions + `}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := newBankServer(t, http.StatusOK, body, nil)
			c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())

			res, err := c.LoadQuestions(context.Background(), "")
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if len(res.Questions) != 2 {
				t.Fatalf("expected 2 questions, got %d", len(res.Questions))
			}
			if res.Questions[1].CorrectIndex != 1 {
				t.Fatalf("expected q2 correct index 1, got %d", res.Questions[1].CorrectIndex)
			}
		})
	}
}

func TestClientSendsFileID(t *testing.T) {
	var gotFileID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFileID = r.URL.Query().Get("file_id")
		_, _ = w.Write([]byte(sampleQuestions))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())
	if _, err := c.LoadQuestions(context.Background(), "42"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if gotFileID != "42" {
		t.Fatalf("expected file_id=42, got %q", gotFileID)
	}
}

func TestClientSourceUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "not json", status: http.StatusOK, body: `<html>maintenance</html>`},
		{name: "failure envelope", status: http.StatusOK, body: `{"success":false,"message":"invalid token"}`},
		{name: "envelope without questions", status: http.StatusOK, body: `{"success":true}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newBankServer(t, tc.status, tc.body, nil)
			c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())

			_, err := c.LoadQuestions(context.Background(), "")
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("expected ErrSourceUnavailable, got %v", err)
			}
		})
	}
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 50*time.Millisecond, zerolog.Nop())
	if _, err := c.LoadQuestions(context.Background(), ""); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable on timeout, got %v", err)
	}
}

func TestClientNoUsableQuestions(t *testing.T) {
	srv := newBankServer(t, http.StatusOK, `[{"id":"q1","question":"x","option1":"a","answer":"Q"}]`, nil)
	c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())

	res, err := c.LoadQuestions(context.Background(), "")
	if !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if res == nil || len(res.Excluded) != 1 {
		t.Fatalf("expected one exclusion, got %+v", res)
	}
}

func TestClientExcludesRecordWithObjectField(t *testing.T) {
	body := `{"success":true,"data":{"questions":[
		{"id":"1","question_text":"Good?","option1":"a","option2":"b","answer":"1"},
		{"id":"2","question_text":"Bad?","option1":{"x":1},"option2":"b","answer":"1"}
	]}}`
	srv := newBankServer(t, http.StatusOK, body, nil)
	c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())

	res, err := c.LoadQuestions(context.Background(), "")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(res.Questions) != 1 || res.Questions[0].ID != "1" {
		t.Fatalf("expected question 1 only, got %+v", res.Questions)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].QuestionID != "2" {
		t.Fatalf("expected question 2 excluded, got %+v", res.Excluded)
	}
	if !errors.Is(res.Excluded[0].Err, ErrMalformedQuestion) {
		t.Fatalf("expected ErrMalformedQuestion, got %v", res.Excluded[0].Err)
	}
}

func TestCachedSource(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	srv := newBankServer(t, http.StatusOK, sampleQuestions, &hits)
	src := NewCachedSource(NewClient(srv.URL, "secret", time.Second, zerolog.Nop()), rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := src.LoadQuestions(ctx, "7")
		if err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
		if len(res.Questions) != 2 {
			t.Fatalf("expected 2 questions, got %d", len(res.Questions))
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", hits.Load())
	}
	if !mr.Exists(config.CacheKey.QuestionSetKey("7")) {
		t.Fatalf("question set was not cached")
	}
	if ttl := mr.TTL(config.CacheKey.QuestionSetKey("7")); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	if err := src.Invalidate(ctx, "7"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := src.LoadQuestions(ctx, "7"); err != nil {
		t.Fatalf("load after invalidate: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected upstream to be hit again, got %d", hits.Load())
	}
}

func TestCachedSourceFallsThroughWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	srv := newBankServer(t, http.StatusOK, sampleQuestions, nil)
	src := NewCachedSource(NewClient(srv.URL, "secret", time.Second, zerolog.Nop()), rdb, time.Minute, zerolog.Nop())

	res, err := src.LoadQuestions(context.Background(), "")
	if err != nil {
		t.Fatalf("expected load to succeed without redis, got %v", err)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(res.Questions))
	}
}
