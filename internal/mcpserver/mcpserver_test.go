package mcpserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samcharles93/longask/internal/inference"
)

type fakeAnswerer struct {
	err error
}

func (f fakeAnswerer) Answer(_ context.Context, m *inference.Material, question string) (*inference.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !inference.IsText(m.Name) {
		return &inference.Answer{Text: inference.MsgOnlyTxt, Rejected: true}, nil
	}
	text, err := inference.ReadMaterial(m.Path)
	if err != nil {
		return nil, err
	}
	return &inference.Answer{Text: question + " -> " + text}, nil
}

func setupSession(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func newServer(t *testing.T, a Answerer) *Server {
	t.Helper()
	s, err := New("longask-test", "1.0.0", a, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func callText(t *testing.T, session *mcp.ClientSession, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolAskDocument,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content = %d items", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestListTools(t *testing.T) {
	t.Parallel()
	session := setupSession(t, newServer(t, fakeAnswerer{}))

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != ToolAskDocument {
		t.Fatalf("tools = %+v", res.Tools)
	}
	raw, err := json.Marshal(res.Tools[0].InputSchema)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"path"`, `"question"`, `"required"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("schema %s missing %s", raw, want)
		}
	}
}

func TestAskDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	session := setupSession(t, newServer(t, fakeAnswerer{}))

	text, isErr := callText(t, session, map[string]any{"path": txt, "question": "What?"})
	if isErr || text != "What? -> hello" {
		t.Fatalf("got %q (error=%v)", text, isErr)
	}

	text, isErr = callText(t, session, map[string]any{"path": filepath.Join(dir, "notes.md"), "question": "What?"})
	if isErr || text != inference.MsgOnlyTxt {
		t.Fatalf("non-txt: got %q (error=%v)", text, isErr)
	}

	text, isErr = callText(t, session, map[string]any{"question": "What?"})
	if !isErr || !strings.Contains(text, "path is required") {
		t.Fatalf("missing path: got %q (error=%v)", text, isErr)
	}
}

func TestAskDocumentErrors(t *testing.T) {
	t.Parallel()
	session := setupSession(t, newServer(t, fakeAnswerer{err: errors.New("backend down")}))

	text, isErr := callText(t, session, map[string]any{"path": "a.txt", "question": "q"})
	if !isErr || text != "backend down" {
		t.Fatalf("got %q (error=%v)", text, isErr)
	}
}

func TestResolveRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := newServer(t, fakeAnswerer{})
	s.Root = root

	got, err := s.resolve("docs/a.txt")
	if err != nil || got != filepath.Join(root, "docs", "a.txt") {
		t.Fatalf("resolve relative = %q, %v", got, err)
	}
	if _, err := s.resolve("../escape.txt"); err == nil {
		t.Fatal("expected error for path outside root")
	}
	if _, err := s.resolve("/etc/passwd"); err == nil {
		t.Fatal("expected error for absolute path outside root")
	}
}

func TestResolveSymlinks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	inside := filepath.Join(root, "notes.txt")
	for _, p := range []string{secret, inside} {
		if err := os.WriteFile(p, []byte("text"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	links := map[string]string{
		"leak.txt":  secret,
		"leakdir":   outside,
		"alias.txt": inside,
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	s := newServer(t, fakeAnswerer{})
	s.Root = root

	for _, p := range []string{"leak.txt", "leakdir/secret.txt"} {
		if got, err := s.resolve(p); err == nil {
			t.Fatalf("resolve(%q) = %q, want error for link leaving root", p, got)
		}
	}
	got, err := s.resolve("alias.txt")
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	want, _ := filepath.EvalSymlinks(inside)
	if got != want {
		t.Fatalf("resolve alias = %q, want %q", got, want)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	s := newServer(t, fakeAnswerer{})
	serverTransport, _ := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.run(ctx, serverTransport); !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v, want context.Canceled", err)
	}
}
