// Package hub resolves a pretrained model reference to a local directory,
// downloading files into a Hugging Face style cache when needed.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/version"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
)

// ErrNotFound reports a file the hub does not have.
var ErrNotFound = errors.New("hub: file not found")

// RequiredFiles must exist for a repository to be usable.
var RequiredFiles = []string{"config.json"}

// OptionalFiles are fetched when present; a 404 is tolerated.
var OptionalFiles = []string{
	"generation_config.json",
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
}

// Resolver maps --base_model values to directories.
type Resolver struct {
	CacheDir string
	Endpoint string
	Token    string
	Offline  bool
	HTTP     *http.Client
	Logger   logger.Logger
}

// Repo is a resolved model directory.
type Repo struct {
	Dir      string
	ID       string
	Revision string
	Commit   string
	Local    bool
}

// NewResolver builds a resolver from the HF_ENDPOINT, HF_TOKEN and
// HF_HUB_OFFLINE environment variables.
func NewResolver(cacheDir string, log logger.Logger) *Resolver {
	token := os.Getenv("HF_TOKEN")
	if token == "" {
		token = os.Getenv("HUGGING_FACE_HUB_TOKEN")
	}
	offline := os.Getenv("HF_HUB_OFFLINE")
	return &Resolver{
		CacheDir: cacheDir,
		Endpoint: os.Getenv("HF_ENDPOINT"),
		Token:    token,
		Offline:  offline == "1" || strings.EqualFold(offline, "true"),
		HTTP:     &http.Client{Timeout: 30 * time.Minute},
		Logger:   log,
	}
}

// ParseRepoID splits "org/name@revision" into the repo id and revision.
func ParseRepoID(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	id, rev, _ := strings.Cut(ref, "@")
	if rev == "" {
		rev = DefaultRevision
	}
	if id == "" || strings.HasPrefix(id, "/") || strings.HasPrefix(id, ".") || strings.Contains(id, "..") {
		return "", "", fmt.Errorf("invalid hub repo id %q", ref)
	}
	parts := strings.Split(id, "/")
	if len(parts) > 2 {
		return "", "", fmt.Errorf("invalid hub repo id %q", ref)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("invalid hub repo id %q", ref)
		}
	}
	return id, rev, nil
}

// Resolve returns the directory holding the model files for baseModel.
// Existing directories are used as-is.
func (r *Resolver) Resolve(ctx context.Context, baseModel string) (*Repo, error) {
	if info, err := os.Stat(baseModel); err == nil && info.IsDir() {
		return &Repo{Dir: baseModel, ID: baseModel, Local: true}, nil
	}

	id, rev, err := ParseRepoID(baseModel)
	if err != nil {
		return nil, fmt.Errorf("model %q is neither a directory nor a hub repo id: %w", baseModel, err)
	}

	repoDir := r.repoDir(id)
	commit := r.readRef(repoDir, rev)
	repo := &Repo{ID: id, Revision: rev, Commit: commit}

	for _, name := range RequiredFiles {
		if err := r.ensure(ctx, repo, repoDir, name); err != nil {
			return nil, err
		}
	}
	for _, name := range OptionalFiles {
		err := r.ensure(ctx, repo, repoDir, name)
		if errors.Is(err, ErrNotFound) {
			r.log().Debug("optional file not in repo", "repo", id, "file", name)
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	repo.Dir = filepath.Join(repoDir, "snapshots", repo.snapshot())
	return repo, nil
}

func (r *Resolver) ensure(ctx context.Context, repo *Repo, repoDir, name string) error {
	if repo.snapshot() != "" {
		if _, err := os.Stat(filepath.Join(repoDir, "snapshots", repo.snapshot(), name)); err == nil {
			return nil
		}
	}
	if r.Offline {
		return fmt.Errorf("%w: %s/%s (offline mode)", ErrNotFound, repo.ID, name)
	}

	rev := repo.Revision
	if repo.Commit != "" {
		rev = repo.Commit
	}
	tmp, commit, err := r.download(ctx, repoDir, repo.ID, rev, name)
	if err != nil {
		return err
	}
	if repo.Commit == "" && commit != "" {
		repo.Commit = commit
		if err := writeRef(repoDir, repo.Revision, commit); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	dst := filepath.Join(repoDir, "snapshots", repo.snapshot(), name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store %s: %w", name, err)
	}
	r.log().Info("downloaded", "repo", repo.ID, "file", name, "revision", repo.snapshot())
	return nil
}

// download fetches one file into a temp file under repoDir and returns its
// path together with the commit the hub served it from.
func (r *Resolver) download(ctx context.Context, repoDir, id, rev, name string) (string, string, error) {
	u := r.fileURL(id, rev, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.client().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", "", fmt.Errorf("download %s: %s (set HF_TOKEN for gated repos)", u, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", "", fmt.Errorf("download %s: %s", u, resp.Status)
	}

	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.CreateTemp(repoDir, ".incomplete-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", "", fmt.Errorf("download %s: %w", u, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", "", err
	}
	return f.Name(), resp.Header.Get("X-Repo-Commit"), nil
}

func (r *Resolver) fileURL(id, rev, name string) string {
	endpoint := strings.TrimRight(r.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return endpoint + "/" + id + "/resolve/" + url.PathEscape(rev) + "/" + name
}

func (r *Resolver) repoDir(id string) string {
	return filepath.Join(r.CacheDir, "models--"+strings.ReplaceAll(id, "/", "--"))
}

func (r *Resolver) readRef(repoDir, rev string) string {
	raw, err := os.ReadFile(filepath.Join(repoDir, "refs", rev))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func writeRef(repoDir, rev, commit string) error {
	path := filepath.Join(repoDir, "refs", rev)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create refs dir: %w", err)
	}
	return os.WriteFile(path, []byte(commit), 0o644)
}

func (r *Resolver) client() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

func (r *Resolver) log() logger.Logger {
	if r.Logger != nil {
		return r.Logger.With(logger.ComponentKey, "hub")
	}
	return logger.Discard()
}

func (repo *Repo) snapshot() string {
	if repo.Commit != "" {
		return repo.Commit
	}
	return repo.Revision
}
