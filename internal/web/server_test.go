package web

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/longask/internal/backend"
	"github.com/samcharles93/longask/internal/flagging"
	"github.com/samcharles93/longask/internal/gallery"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/queue"
)

type wordCounter struct{}

func (wordCounter) Count(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

// echoGenerator returns the prompt followed by a fixed answer, like a model
// that echoes its input.
type echoGenerator struct {
	answer string
	err    error
}

func (g echoGenerator) Generate(_ context.Context, req backend.Request) (*backend.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &backend.Result{Text: req.Prompt + "\n" + g.answer, FinishReason: "stop"}, nil
}

type testEnv struct {
	echo     *echo.Echo
	server   *Server
	flagDir  string
	examples string
}

func newTestEnv(t *testing.T, gen backend.Generator, mutate func(*Config)) testEnv {
	t.Helper()
	examples := t.TempDir()
	if err := os.WriteFile(filepath.Join(examples, "paper_2.txt"), []byte("A paper about long context."), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := gallery.Load(examples, "")
	if err != nil {
		t.Fatal(err)
	}
	q := queue.New(1, 8, nil)
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	flagDir := filepath.Join(t.TempDir(), "flagged")
	cfg := Config{
		Answerer: &inference.Responder{
			Counter:        wordCounter{},
			Generator:      gen,
			Sampling:       inference.Sampling{Temperature: 0.6, TopP: 0.9, MaxGenLen: 512},
			MaxInputTokens: 100,
		},
		Queue:     q,
		Gallery:   g,
		Flagging:  flagging.New(flagDir, flagging.ModeAuto),
		Info:      Info{Model: "LongAlpaca-7B", ContextSize: 32768, Backend: "completions"},
		UploadDir: t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return testEnv{echo: s.New(), server: s, flagDir: flagDir, examples: examples}
}

func multipartBody(t *testing.T, fileName, content, question string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := w.CreateFormFile(fieldMaterial, fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteField(fieldQuestion, question); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func doPredict(t *testing.T, e *echo.Echo, fileName, content, question string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fileName, content, question)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPredict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "  The answer.  "}, nil)

	tests := []struct {
		name     string
		file     string
		content  string
		want     string
		rejected bool
	}{
		{name: "txt", file: "book.txt", content: "Once upon a time.", want: "The answer."},
		{name: "not txt", file: "book.pdf", content: "%PDF", want: inference.MsgOnlyTxt, rejected: true},
		{name: "no file", want: inference.MsgOnlyTxt, rejected: true},
		{name: "too long", file: "long.txt", content: strings.Repeat("word ", 200), want: inference.TooLongMessage(100, 222), rejected: true},
	}
	for _, tc := range tests {
		rec := doPredict(t, env.echo, tc.file, tc.content, "What happens?")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
		var resp PredictResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if resp.Output != tc.want {
			t.Fatalf("%s: output = %q, want %q", tc.name, resp.Output, tc.want)
		}
		if resp.Rejected != tc.rejected {
			t.Fatalf("%s: rejected = %v", tc.name, resp.Rejected)
		}
	}
}

func TestPredictBackendErrorUsesEnvelope(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{err: &backend.StatusError{StatusCode: 500, Body: "boom"}}, nil)

	rec := doPredict(t, env.echo, "book.txt", "text", "Why?")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Type != "backend_error" || !strings.Contains(body.Error.Message, "boom") {
		t.Fatalf("error = %+v", body.Error)
	}
}

func TestPredictFlagsCompletedRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "ok"}, nil)

	if rec := doPredict(t, env.echo, "notes.txt", "some notes", "Summary?"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, err := os.ReadFile(filepath.Join(env.flagDir, flagging.LogFile))
	if err != nil {
		t.Fatalf("read flag log: %v", err)
	}
	if !strings.Contains(string(data), "Summary?") || !strings.Contains(string(data), "notes.txt") {
		t.Fatalf("flag log = %s", data)
	}
}

func TestIndexAndSubmit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "Forty-two."}, nil)

	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	page := rec.Body.String()
	for _, want := range []string{Title, "Input material txt", "Question", "Text Output", "paper_2.txt", "LongAlpaca-7B", "Preprint Paper"} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("missing request id header")
	}

	body, ct := multipartBody(t, "guide.txt", "Don't panic.", "What is the answer?")
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec = httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST / status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Forty-two.") || !strings.Contains(rec.Body.String(), "guide.txt") {
		t.Fatalf("answer missing from page: %s", rec.Body.String())
	}
}

func TestExampleRoute(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "It is about context."}, nil)

	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/examples/11", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "It is about context.") {
		t.Fatal("example answer missing")
	}

	for path, want := range map[string]int{
		"/examples/0":   http.StatusNotFound,
		"/examples/abc": http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: status = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestInfoHealthAndExamples(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{}, nil)

	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	var info struct {
		Model       string `json:"model"`
		ContextSize int    `json:"context_size"`
		Queue       struct {
			Workers int `json:"workers"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Model != "LongAlpaca-7B" || info.ContextSize != 32768 || info.Queue.Workers != 1 {
		t.Fatalf("info = %+v", info)
	}

	rec = httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/examples", nil))
	if !strings.Contains(rec.Body.String(), `"index":11`) {
		t.Fatalf("examples = %s", rec.Body.String())
	}
}

func TestStaticAssets(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{}, nil)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/queue/join") {
		t.Fatalf("app.js = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "ok"}, func(c *Config) {
		c.RateLimit = rate.Every(time.Hour)
		c.RateBurst = 1
	})

	if rec := doPredict(t, env.echo, "a.txt", "x", "q"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := doPredict(t, env.echo, "a.txt", "x", "q")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	// Page views are not limited.
	rec = httptest.NewRecorder()
	env.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
}

func TestIPLimiterForgetsIdleClients(t *testing.T) {
	t.Parallel()
	l := newIPLimiter(rate.Every(time.Hour), 1)
	now := time.Unix(1_700_000_000, 0)
	if !l.allow("10.0.0.1", now) || l.allow("10.0.0.1", now) {
		t.Fatal("expected one request to pass")
	}
	if !l.allow("10.0.0.2", now) {
		t.Fatal("limits must be per client")
	}
	later := now.Add(2 * limiterIdle)
	l.allow("10.0.0.3", later)
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Fatal("idle visitor not swept")
	}
}

func TestUploadName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"book.txt":              "book.txt",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\paper.txt`: "paper.txt",
		"":                      "upload",
		"..":                    "upload",
	}
	for in, want := range tests {
		if got := uploadName(in); got != want {
			t.Fatalf("uploadName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err    error
		status int
	}{
		{newBadRequest("bad"), http.StatusBadRequest},
		{queue.ErrQueueFull, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&backend.StatusError{StatusCode: 503}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got, _ := classify(tc.err); got != tc.status {
			t.Fatalf("classify(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

func readUntilCompleted(t *testing.T, ctx context.Context, conn *websocket.Conn) []QueueMessage {
	t.Helper()
	var msgs []QueueMessage
	for {
		var msg QueueMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v (got %+v)", err, msgs)
		}
		msgs = append(msgs, msg)
		if msg.Msg == msgProcessCompleted || msg.Msg == msgQueueFull {
			return msgs
		}
	}
}

func TestQueueJoin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "Via websocket."}, nil)
	srv := httptest.NewServer(env.echo)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/queue/join"

	tests := []struct {
		name string
		req  JoinRequest
		want string
	}{
		{
			name: "upload",
			req:  JoinRequest{Question: "What?", FileName: "story.txt", FileData: "data:text/plain;base64,T25jZSB1cG9uIGEgdGltZS4="},
			want: "Via websocket.",
		},
		{
			name: "not txt",
			req:  JoinRequest{Question: "What?", FileName: "story.md", FileData: "T25jZQ=="},
			want: inference.MsgOnlyTxt,
		},
		{
			name: "example",
			req:  JoinRequest{Example: func() *int { i := 11; return &i }()},
			want: "Via websocket.",
		},
	}
	for _, tc := range tests {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("%s: dial: %v", tc.name, err)
		}
		if err := wsjson.Write(ctx, conn, tc.req); err != nil {
			t.Fatalf("%s: write: %v", tc.name, err)
		}
		msgs := readUntilCompleted(t, ctx, conn)
		conn.CloseNow()

		last := msgs[len(msgs)-1]
		if last.Success == nil || !*last.Success || last.Output != tc.want {
			t.Fatalf("%s: completed = %+v", tc.name, last)
		}
		var estimated, started bool
		for _, m := range msgs {
			estimated = estimated || (m.Msg == msgEstimation && m.Rank != nil)
			started = started || m.Msg == msgProcessStarts
		}
		if !estimated || !started {
			t.Fatalf("%s: missing queue events in %+v", tc.name, msgs)
		}
	}
}

func TestQueueJoinRejectsBadPayload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, echoGenerator{answer: "unused"}, nil)
	srv := httptest.NewServer(env.echo)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/queue/join", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	if err := wsjson.Write(ctx, conn, JoinRequest{FileName: "a.txt", FileData: "not base64!"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs := readUntilCompleted(t, ctx, conn)
	last := msgs[len(msgs)-1]
	if last.Success == nil || *last.Success || !strings.Contains(last.Error, "base64") {
		t.Fatalf("completed = %+v", last)
	}
}
