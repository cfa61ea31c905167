// Package mcpserver exposes the document responder as an MCP tool.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
)

const ToolAskDocument = "ask_document"

type Answerer interface {
	Answer(ctx context.Context, material *inference.Material, question string) (*inference.Answer, error)
}

// AskDocumentInput is the argument object of ask_document.
type AskDocumentInput struct {
	Path     string `json:"path" jsonschema:"description=Path of a .txt file to read"`
	Question string `json:"question" jsonschema:"description=Question about the document"`
}

type Server struct {
	server   *mcp.Server
	answerer Answerer
	// Root, when set, confines ask_document to files below it.
	Root string
	log  logger.Logger
}

func New(name, version string, answerer Answerer, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
		answerer: answerer,
		log:      log.With(logger.ComponentKey, "mcp"),
	}
	schema, err := inputSchema[AskDocumentInput]()
	if err != nil {
		return nil, err
	}
	s.server.AddTool(&mcp.Tool{
		Name:        ToolAskDocument,
		Description: "Answer a question about a plain-text (.txt) document using the long-context model.",
		InputSchema: schema,
	}, s.handleAskDocument)
	return s, nil
}

// Serve reads requests from in and writes responses to out until ctx is
// cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
}

func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) handleAskDocument(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in AskDocumentInput
	if raw := req.Params.Arguments; len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return toolError("invalid arguments: " + err.Error()), nil
		}
	}
	if strings.TrimSpace(in.Path) == "" {
		return toolError("path is required"), nil
	}
	path, err := s.resolve(in.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	ans, err := s.answerer.Answer(ctx, &inference.Material{Name: filepath.Base(in.Path), Path: path}, in.Question)
	if err != nil {
		s.log.Error("ask_document failed", "path", path, "error", err)
		return toolError(err.Error()), nil
	}
	s.log.Info("ask_document", "path", path, "tokens", ans.PromptTokens, "rejected", ans.Rejected)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: ans.Text}},
	}, nil
}

// resolve maps path into Root. Existing paths are checked again after
// following symlinks so a link inside Root cannot point outside it.
func (s *Server) resolve(path string) (string, error) {
	if s.Root == "" {
		return filepath.Clean(path), nil
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", fmt.Errorf("path %q is outside %s", path, root)
	}

	target, err := filepath.EvalSymlinks(path)
	if errors.Is(err, fs.ErrNotExist) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	if !within(realRoot, target) {
		return "", fmt.Errorf("path %q resolves outside %s", path, root)
	}
	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func inputSchema[T any]() (json.RawMessage, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(r.Reflect(&v))
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	return raw, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
