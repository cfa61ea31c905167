package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/longask/internal/inference"
	"github.com/samcharles93/longask/internal/logger"
	"github.com/samcharles93/longask/internal/queue"
)

const (
	msgEstimation       = "estimation"
	msgProcessStarts    = "process_starts"
	msgProcessCompleted = "process_completed"
	msgQueueFull        = "queue_full"

	joinReadTimeout = 30 * time.Second
	writeTimeout    = 10 * time.Second
)

// JoinRequest is the single message a client sends after connecting to
// /queue/join. FileData is base64, optionally as a data URL. Example, when
// set, selects a gallery entry instead of an upload.
type JoinRequest struct {
	Question string `json:"question"`
	FileName string `json:"file_name"`
	FileData string `json:"file_data"`
	Example  *int   `json:"example,omitempty"`
}

// QueueMessage is every server-to-client message; fields not relevant to
// Msg are omitted.
type QueueMessage struct {
	Msg       string   `json:"msg"`
	Rank      *int     `json:"rank,omitempty"`
	QueueSize int      `json:"queue_size,omitempty"`
	RankETA   *float64 `json:"rank_eta,omitempty"`
	Output    string   `json:"output,omitempty"`
	Success   *bool    `json:"success,omitempty"`
	Error     string   `json:"error,omitempty"`
	Duration  float64  `json:"duration,omitempty"`
}

func (s *Server) handleQueueJoin(c *echo.Context) error {
	log := logger.FromContext(c.Request().Context())
	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return nil
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxUploadBytes/3*4 + 64<<10)

	ctx := c.Request().Context()
	var req JoinRequest
	readCtx, cancel := context.WithTimeout(ctx, joinReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		log.Debug("queue join read failed", "error", err)
		conn.Close(websocket.StatusUnsupportedData, "expected a join request")
		return nil
	}

	p, cleanup, err := s.joinPrediction(req)
	defer cleanup()
	if err != nil {
		s.sendCompleted(ctx, conn, nil, err)
		conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}

	// The client has nothing more to send; a read returning means it left.
	ctx = conn.CloseRead(ctx)

	events := make(chan queue.Event, 16)
	notify := func(ev queue.Event) {
		select {
		case events <- ev:
		default:
		}
	}
	type outcome struct {
		ans *inference.Answer
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ans, err := s.predict(ctx, p, notify)
		done <- outcome{ans: ans, err: err}
	}()

	for {
		select {
		case ev := <-events:
			if err := s.sendEvent(ctx, conn, ev); err != nil {
				log.Debug("queue client gone", "error", err)
				return nil
			}
		case out := <-done:
			for len(events) > 0 {
				if err := s.sendEvent(ctx, conn, <-events); err != nil {
					return nil
				}
			}
			if queueError(out.err) {
				s.send(ctx, conn, QueueMessage{Msg: msgQueueFull, Error: out.err.Error()})
			} else {
				s.sendCompleted(ctx, conn, out.ans, out.err)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}

func (s *Server) joinPrediction(req JoinRequest) (prediction, func(), error) {
	noop := func() {}
	p := prediction{Question: req.Question}
	if req.Example != nil {
		entry, err := s.example(*req.Example)
		if err != nil {
			return prediction{}, noop, newBadRequest(err.Error())
		}
		p.Material = &inference.Material{Name: entry.Name, Path: entry.Path}
		if p.Question == "" {
			p.Question = entry.Question
		}
		return p, noop, nil
	}
	if req.FileName == "" {
		return p, noop, nil
	}

	data := req.FileData
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return prediction{}, noop, newBadRequest("file_data is not valid base64")
	}
	m, cleanup, err := s.storeUpload(req.FileName, bytes.NewReader(raw))
	if err != nil {
		return prediction{}, noop, err
	}
	p.Material = m
	return p, cleanup, nil
}

func (s *Server) sendEvent(ctx context.Context, conn *websocket.Conn, ev queue.Event) error {
	switch ev.Kind {
	case queue.Estimation:
		rank := ev.Rank
		msg := QueueMessage{Msg: msgEstimation, Rank: &rank, QueueSize: ev.QueueSize}
		if ev.ETA > 0 {
			eta := ev.ETA.Seconds()
			msg.RankETA = &eta
		}
		return s.send(ctx, conn, msg)
	case queue.ProcessStarts:
		return s.send(ctx, conn, QueueMessage{Msg: msgProcessStarts})
	}
	return nil
}

func (s *Server) sendCompleted(ctx context.Context, conn *websocket.Conn, ans *inference.Answer, err error) {
	ok := err == nil
	msg := QueueMessage{Msg: msgProcessCompleted, Success: &ok}
	if err != nil {
		msg.Error = err.Error()
	} else {
		msg.Output = ans.Text
		msg.Duration = ans.Duration.Seconds()
	}
	_ = s.send(ctx, conn, msg)
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg QueueMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
