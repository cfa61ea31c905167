package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/longask/internal/flagging"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/queue"
)

const (
	fieldMaterial = "material"
	fieldQuestion = "question"
)

// prediction is one form submission. Material is nil when nothing was
// uploaded.
type prediction struct {
	Material *inference.Material
	Question string
}

// predict runs p through the queue and flags the result.
func (s *Server) predict(ctx context.Context, p prediction, notify func(queue.Event)) (*inference.Answer, error) {
	var ans *inference.Answer
	task := func(ctx context.Context) error {
		a, err := s.cfg.Answerer.Answer(ctx, p.Material, p.Question)
		if err != nil {
			return err
		}
		ans = a
		return nil
	}

	var err error
	if s.cfg.Queue != nil {
		err = s.cfg.Queue.Submit(ctx, task, notify)
	} else {
		err = task(ctx)
	}
	if err != nil {
		logger.FromContext(ctx).Error("prediction failed", "error", err)
		return nil, err
	}
	s.flag(ctx, p, ans)
	return ans, nil
}

func (s *Server) flag(ctx context.Context, p prediction, ans *inference.Answer) {
	if !s.cfg.Flagging.Enabled() {
		return
	}
	rec := flagging.Record{Question: p.Question, Output: ans.Text, Time: s.clock()}
	if p.Material != nil {
		rec.MaterialPath = p.Material.Path
		rec.MaterialName = p.Material.Name
	}
	if _, err := s.cfg.Flagging.Log(rec); err != nil {
		logger.FromContext(ctx).Warn("flagging failed", "error", err)
	}
}

// formUpload reads the multipart form of r. The returned cleanup removes
// the stored upload and is never nil.
func (s *Server) formUpload(r *http.Request) (prediction, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(nil, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return prediction{}, noop, newBadRequest(fmt.Sprintf("material exceeds %d bytes", s.cfg.MaxUploadBytes))
		}
		return prediction{}, noop, newBadRequest("invalid form: " + err.Error())
	}
	p := prediction{Question: r.FormValue(fieldQuestion)}

	f, hdr, err := r.FormFile(fieldMaterial)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return p, noop, nil
	}
	if err != nil {
		return prediction{}, noop, newBadRequest("invalid material upload: " + err.Error())
	}
	defer f.Close()
	if hdr.Filename == "" {
		return p, noop, nil
	}

	m, cleanup, err := s.storeUpload(hdr.Filename, f)
	if err != nil {
		return prediction{}, noop, err
	}
	p.Material = m
	return p, cleanup, nil
}

// storeUpload writes r to a fresh directory under the upload dir, keeping
// the client's base file name.
func (s *Server) storeUpload(name string, r io.Reader) (*inference.Material, func(), error) {
	name = uploadName(name)
	dir, err := os.MkdirTemp(s.cfg.UploadDir, "longask-upload-")
	if err != nil {
		return nil, nil, fmt.Errorf("create upload dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}
	if n > s.cfg.MaxUploadBytes {
		cleanup()
		return nil, nil, newBadRequest(fmt.Sprintf("material exceeds %d bytes", s.cfg.MaxUploadBytes))
	}
	return &inference.Material{Name: name, Path: path}, cleanup, nil
}

func uploadName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}
