package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/longask/internal/gallery"
	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/queue"
)

type pageData struct {
	Title         string
	Model         string
	ContextSize   int
	Version       string
	Examples      []gallery.Entry
	ExampleTotal  int
	BookExamples  int
	PaperExamples int

	MaterialName string
	Question     string
	Output       string
	Duration     string
	Error        string
}

// PredictResponse is the body of a successful /api/predict call.
type PredictResponse struct {
	Output       string  `json:"output"`
	Duration     float64 `json:"duration"`
	PromptTokens int     `json:"prompt_tokens,omitempty"`
	Rejected     bool    `json:"rejected,omitempty"`
}

type infoResponse struct {
	Info
	Queue queueInfo `json:"queue"`
}

type queueInfo struct {
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Processed int     `json:"processed"`
	Workers   int     `json:"workers"`
	AvgTime   float64 `json:"avg_seconds"`
}

type exampleResponse struct {
	Index    int    `json:"index"`
	Material string `json:"material"`
	Question string `json:"question"`
}

func (s *Server) handleIndex(c *echo.Context) error {
	return s.render(c, http.StatusOK, s.page())
}

func (s *Server) handleSubmit(c *echo.Context) error {
	data := s.page()
	p, cleanup, err := s.formUpload(c.Request())
	defer cleanup()
	if err != nil {
		status, _ := classify(err)
		data.Error = err.Error()
		return s.render(c, status, data)
	}
	data.Question = p.Question
	if p.Material != nil {
		data.MaterialName = p.Material.Name
	}
	return s.answerPage(c, data, p)
}

func (s *Server) handleExample(c *echo.Context) error {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return writeBadRequest(c, "example index must be an integer")
	}
	entry, err := s.example(idx)
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	data := s.page()
	data.Question = entry.Question
	data.MaterialName = entry.Name
	return s.answerPage(c, data, prediction{
		Material: &inference.Material{Name: entry.Name, Path: entry.Path},
		Question: entry.Question,
	})
}

func (s *Server) answerPage(c *echo.Context, data pageData, p prediction) error {
	ans, err := s.predict(c.Request().Context(), p, nil)
	if err != nil {
		status, _ := classify(err)
		data.Error = err.Error()
		return s.render(c, status, data)
	}
	data.Output = ans.Text
	data.Duration = ans.Duration.Round(time.Millisecond).String()
	return s.render(c, http.StatusOK, data)
}

func (s *Server) handlePredict(c *echo.Context) error {
	p, cleanup, err := s.formUpload(c.Request())
	defer cleanup()
	if err != nil {
		return writePredictionError(c, err)
	}
	ans, err := s.predict(c.Request().Context(), p, nil)
	if err != nil {
		return writePredictionError(c, err)
	}
	return c.JSON(http.StatusOK, PredictResponse{
		Output:       ans.Text,
		Duration:     ans.Duration.Seconds(),
		PromptTokens: ans.PromptTokens,
		Rejected:     ans.Rejected,
	})
}

func (s *Server) handleInfo(c *echo.Context) error {
	resp := infoResponse{Info: s.cfg.Info}
	if s.cfg.Queue != nil {
		st := s.cfg.Queue.Stats()
		resp.Queue = queueInfo{
			Pending:   st.Pending,
			Running:   st.Running,
			Processed: st.Processed,
			Workers:   st.Workers,
			AvgTime:   st.AvgTime.Seconds(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleExamples(c *echo.Context) error {
	out := []exampleResponse{}
	if s.cfg.Gallery != nil {
		for _, e := range s.cfg.Gallery.Available() {
			out = append(out, exampleResponse{Index: e.Index, Material: e.Name, Question: e.Question})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"examples": out})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) example(idx int) (gallery.Entry, error) {
	if s.cfg.Gallery == nil {
		return gallery.Entry{}, gallery.ErrNotFound
	}
	return s.cfg.Gallery.Get(idx)
}

func (s *Server) page() pageData {
	data := pageData{
		Title:       Title,
		Model:       s.cfg.Info.Model,
		ContextSize: s.cfg.Info.ContextSize,
		Version:     s.cfg.Info.Version,
	}
	if data.Model == "" {
		data.Model = s.cfg.Info.BaseModel
	}
	if s.cfg.Gallery != nil {
		data.Examples = s.cfg.Gallery.Available()
		data.ExampleTotal = len(data.Examples)
		for _, e := range data.Examples {
			if strings.HasPrefix(e.Name, "paper") {
				data.PaperExamples++
			} else {
				data.BookExamples++
			}
		}
	}
	return data
}

func (s *Server) render(c *echo.Context, status int, data pageData) error {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
		logger.FromContext(c.Request().Context()).Error("render page", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", "render page: "+err.Error(), "", "")
	}
	return c.HTML(status, buf.String())
}

// queueError reports whether err came from the queue rather than the task.
func queueError(err error) bool {
	return errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrClosed)
}
