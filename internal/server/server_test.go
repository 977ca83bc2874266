package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mafiasim/internal/config"
	"mafiasim/internal/db"
	"mafiasim/internal/domain"
	"mafiasim/internal/migrate"
	"mafiasim/internal/repo"
	"mafiasim/internal/session"
	"mafiasim/internal/textgen"
)

type testServer struct {
	URL    string
	Hub    *Hub
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}

	cfg := *config.Default()
	cfg.Session.MessageBudget = 3
	cfg.Session.EvaluationTimeout = config.Duration(2 * time.Second)
	logger := log.New(io.Discard, "", 0)
	hub := NewHub(cfg, nil, r, r, logger)
	hub.Generator = textgen.NewScripted(1)

	auth.Logger = logger
	handler, err := New(Config{Hub: hub, Repo: &r, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Hub:    hub,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
}

func startGame(t *testing.T, ts *testServer) session.Status {
	t.Helper()
	res, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/games", map[string]any{"seed": 7}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", res.StatusCode, body)
	}
	var status session.Status
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.ID == "" {
		t.Fatalf("missing game id: %s", body)
	}
	return status
}

func TestStartAndObserveGame(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	status := startGame(t, ts)

	if err := ts.Hub.Wait(status.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games/"+status.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	var got session.Status
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != domain.PhaseEnded {
		t.Fatalf("expected ended, got %s", got.Phase)
	}

	res, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games/"+status.ID+"/messages?since=0", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("messages status %d: %s", res.StatusCode, body)
	}
	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) == 0 {
		t.Fatal("expected a transcript")
	}

	res, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games/"+status.ID+"/votes", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("votes status %d: %s", res.StatusCode, body)
	}
}

func TestArchiveAfterGameEnds(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	status := startGame(t, ts)
	if err := ts.Hub.Wait(status.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/archive", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status %d: %s", res.StatusCode, body)
	}
	var list struct {
		Games []domain.GameSummary `json:"games"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if len(list.Games) != 1 || list.Games[0].ID != status.ID {
		t.Fatalf("unexpected archive: %+v", list.Games)
	}

	res, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/archive/"+status.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive game status %d: %s", res.StatusCode, body)
	}
	var rec domain.GameRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if len(rec.Agents) == 0 || len(rec.Messages) == 0 {
		t.Fatalf("incomplete record: %+v", rec)
	}
}

func TestUnknownGameIs404(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	res, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	secret := "test-secret"
	ts := newTestServer(t, AuthConfig{JWTSecret: secret})

	res, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}

	// Health stays open.
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "observer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", res.StatusCode, body)
	}
}

func TestEventStreamDeliversEndEvent(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	status := startGame(t, ts)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v0/games/"+status.ID+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sawEnd := false
	scanner := bufio.NewScanner(res.Body)
	deadline := time.After(30 * time.Second)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	for !sawEnd {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before end event")
			}
			if strings.HasPrefix(line, "event: end") {
				sawEnd = true
			}
		case <-deadline:
			t.Fatal("no end event within deadline")
		}
	}
}
