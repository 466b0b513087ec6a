package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/revision"
)

const wsWriteTimeout = 10 * time.Second

// Client to server message types.
const (
	msgAnswer  = "answer"
	msgNext    = "next"
	msgSave    = "save"
	msgRestart = "restart"
	msgExit    = "exit"
	msgPing    = "ping"
)

type clientMessage struct {
	Type   string `json:"type"`
	Option *int   `json:"option,omitempty"`
}

type questionView struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type stateMessage struct {
	Type            string         `json:"type"`
	SessionID       string         `json:"session_id"`
	SubjectID       string         `json:"subject_id"`
	State           string         `json:"state"`
	Index           int            `json:"index"`
	Count           int            `json:"count"`
	Progress        float64        `json:"progress"`
	Score           revision.Score `json:"score"`
	Question        *questionView  `json:"question,omitempty"`
	SelectedAnswer  *int           `json:"selected_answer"`
	ShowExplanation bool           `json:"show_explanation"`
	Resumed         bool           `json:"resumed"`
}

type resultMessage struct {
	Type          string         `json:"type"`
	QuestionID    string         `json:"question_id"`
	Correct       bool           `json:"correct"`
	CorrectAnswer int            `json:"correct_answer"`
	Explanation   string         `json:"explanation"`
	Score         revision.Score `json:"score"`
}

type completeMessage struct {
	Type  string         `json:"type"`
	Score revision.Score `json:"score"`
}

type savedMessage struct {
	Type       string  `json:"type"`
	QuestionID string  `json:"question_id"`
	Progress   float64 `json:"progress"`
}

type noticeMessage struct {
	Type string `json:"type"`
	Notice
}

// RevisionSocket runs revision sessions over a WebSocket.
type RevisionSocket struct {
	engine  *revision.Engine
	store   progress.Store
	origins []string
}

// NewRevisionSocket creates the WebSocket handler. origins are the allowed
// browser origins.
func NewRevisionSocket(engine *revision.Engine, store progress.Store, origins []string) *RevisionSocket {
	return &RevisionSocket{engine: engine, store: store, origins: originHosts(origins)}
}

// ServeHTTP upgrades the request and drives one session until the client
// saves, exits or disconnects.
func (h *RevisionSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	subjectID := r.URL.Query().Get("subject_id")
	resume := r.URL.Query().Get("resume") == "true"

	subject, err := h.store.GetSubject(r.Context(), user.ID, subjectID)
	if err != nil {
		writeStoreError(w, err, "could not load the subject")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "user_id", user.ID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "user_id", user.ID, "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &revisionConn{ws: ws, engine: h.engine, user: user}
	c.run(ctx, subject, resume)
}

type revisionConn struct {
	ws     *websocket.Conn
	engine *revision.Engine
	user   auth.User
	sess   *revision.Session
}

func (c *revisionConn) run(ctx context.Context, subject progress.Subject, resume bool) {
	var err error
	if resume {
		c.sess, _, err = c.engine.Resume(ctx, c.user, subject)
	} else {
		c.sess, err = c.engine.Start(ctx, c.user, subject, false)
	}
	if err != nil {
		if errors.Is(err, revision.ErrNoQuestions) {
			c.notice("error", "No questions available", "None of the selected topics has questions yet. Choose different topics.")
			return
		}
		slog.Error("failed to start revision session", "user_id", c.user.ID, "subject_id", subject.ID, "error", err)
		c.notice("error", "Could not start revision", "Something went wrong. Try again.")
		return
	}
	defer func() { c.engine.End(c.sess) }()

	c.sendState()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "user_id", c.user.ID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("websocket read error", "user_id", c.user.ID, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		if done := c.handle(ctx, msg); done {
			return
		}
	}
}

// handle applies one client message and reports whether the session is over.
func (c *revisionConn) handle(ctx context.Context, msg clientMessage) bool {
	switch msg.Type {
	case msgAnswer:
		if msg.Option == nil {
			c.sendError("option is required")
			return false
		}
		res, err := c.engine.Submit(ctx, c.sess, *msg.Option)
		if err != nil {
			c.sendError(err.Error())
			return false
		}
		c.write(resultMessage{
			Type:          "result",
			QuestionID:    c.sess.Current.ID,
			Correct:       res.Correct,
			CorrectAnswer: res.CorrectAnswer,
			Explanation:   res.Explanation,
			Score:         res.Score,
		})
		go c.watch(ctx, res.Task)

	case msgNext:
		if err := c.engine.Advance(ctx, c.sess); err != nil {
			c.sendError(err.Error())
			return false
		}
		if c.sess.State == revision.StateComplete {
			c.write(completeMessage{Type: "complete", Score: c.sess.Score})
			return false
		}
		c.sendState()

	case msgSave:
		snap, err := c.engine.SaveAndExit(ctx, c.sess)
		if err != nil {
			if errors.Is(err, revision.ErrNotActive) || errors.Is(err, revision.ErrSessionComplete) {
				c.sendError(err.Error())
				return false
			}
			c.notice("error", "Could not save your session", "Your place was not saved. Try again.")
			return false
		}
		c.write(savedMessage{Type: "saved", QuestionID: snap.CurrentQuestionID, Progress: snap.Progress})
		return true

	case msgRestart:
		next, err := c.engine.Restart(ctx, c.sess)
		if err != nil {
			c.sendError(err.Error())
			return false
		}
		c.sess = next
		c.sendState()

	case msgExit:
		c.engine.End(c.sess)
		c.write(map[string]string{"type": "ended"})
		return true

	case msgPing:
		c.write(map[string]string{"type": "pong"})

	default:
		c.sendError("unknown message type")
	}
	return false
}

// watch reports a failed progress write to the client. Cancelled writes are
// expected when the session ends.
func (c *revisionConn) watch(ctx context.Context, task *revision.Task) {
	if task == nil {
		return
	}
	err := task.Wait(ctx)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	c.notice("warning", "Progress not saved", "Your answer was marked but could not be saved to your progress.")
}

func (c *revisionConn) sendState() {
	s := c.sess
	msg := stateMessage{
		Type:            "state",
		SessionID:       s.ID,
		SubjectID:       s.Subject.ID,
		State:           s.State.String(),
		Index:           s.Index,
		Count:           len(s.Questions),
		Progress:        s.Progress,
		Score:           s.Score,
		SelectedAnswer:  s.SelectedAnswer,
		ShowExplanation: s.ShowExplanation,
		Resumed:         s.Resumed,
	}
	if s.State == revision.StateActive {
		msg.Question = &questionView{
			ID:       s.Current.ID,
			Topic:    s.Current.Topic,
			Question: s.Current.Prompt,
			Options:  s.Current.Options,
		}
	}
	c.write(msg)
}

func (c *revisionConn) notice(level, title, message string) {
	c.write(noticeMessage{Type: "notice", Notice: Notice{Level: level, Title: title, Message: message}})
}

func (c *revisionConn) sendError(message string) {
	c.write(map[string]string{"type": "error", "error": message})
}

func (c *revisionConn) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode websocket message", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("failed to write websocket message", "user_id", c.user.ID, "error", err)
	}
}
