package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"stepdrive/core"
	"stepdrive/standalone"
)

const (
	defaultHistory = 50
	maxHistory     = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the control loop behind a Queue
type Server struct {
	queue   *Queue
	journal *Journal // nil disables history
	hub     *Hub
	secret  []byte // empty disables auth
	log     *zap.SugaredLogger
}

// NewServer builds the HTTP surface; journal and secret are optional
func NewServer(queue *Queue, journal *Journal, secret []byte, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		queue:   queue,
		journal: journal,
		hub:     NewHub(),
		secret:  secret,
		log:     log,
	}
}

// Hub returns the status fan-out; the control loop publishes to it
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes returns the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Route("/api", func(r chi.Router) {
		if len(s.secret) > 0 {
			r.Use(RequireToken(s.secret))
		}
		r.Get("/status", s.getStatus)
		r.Post("/command", s.postCommand)
		r.Get("/history", s.getHistory)
	})
	r.Route("/ws", func(r chi.Router) {
		if len(s.secret) > 0 {
			r.Use(RequireToken(s.secret))
		}
		r.Get("/status", s.streamStatus)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugw("http", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	var (
		st  standalone.AxisStatus
		err error
	)
	if qerr := s.queue.Do(r.Context(), func(m *standalone.Manager) {
		st, err = m.Axis().Status()
	}); qerr != nil {
		writeError(w, r, http.StatusServiceUnavailable, qerr)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	render.JSON(w, r, NewStatusReport(st))
}

// CommandRequest is the body of POST /api/command
type CommandRequest struct {
	Line string `json:"line"`
}

// CommandResponse is the reply to a command that succeeded
type CommandResponse struct {
	Response string `json:"response"`
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return
	}

	var (
		resp string
		err  error
	)
	if qerr := s.queue.Do(r.Context(), func(m *standalone.Manager) {
		resp, err = m.ProcessLine(req.Line)
	}); qerr != nil {
		writeError(w, r, http.StatusServiceUnavailable, qerr)
		return
	}
	if s.journal != nil {
		if jerr := s.journal.Record(SourceAPI, req.Line, resp, err); jerr != nil {
			s.log.Warnw("journal", "error", jerr)
		}
	}
	if err != nil {
		writeError(w, r, commandStatus(err), err)
		return
	}
	render.JSON(w, r, CommandResponse{Response: resp})
}

// commandStatus maps a command error to an HTTP status
func commandStatus(err error) int {
	switch {
	case errors.Is(err, standalone.ErrUnknownCommand),
		errors.Is(err, standalone.ErrBadArgument),
		errors.Is(err, core.ErrInvalidLimit),
		errors.Is(err, core.ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, standalone.ErrUnsupported),
		errors.Is(err, core.ErrHomingBusy):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, http.StatusNotFound, errors.New("journal disabled"))
		return
	}
	n := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, errors.Errorf("limit %q", v))
			return
		}
		if n > maxHistory {
			n = maxHistory
		}
	}
	entries, err := s.journal.Recent(n)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	render.JSON(w, r, entries)
}

// streamStatus pushes every published report until the client goes away
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	reports := s.hub.subscribe()
	defer s.hub.unsubscribe(reports)

	// The client sends nothing; reading only notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case report := <-reports:
			if err := conn.WriteJSON(report); err != nil {
				s.log.Debugw("websocket write", "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}
