// Package admin implements the read-only operator HTTP surface: liveness,
// the live assignment table as JSON, and a Graphviz rendering of the
// same. It only ever reads a Snapshot; it never mutates the group
// host's assignment table.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/awalterschulze/gographviz"
	"github.com/gmbyapa/grouphost/group"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/log"
)

// SnapshotSource is the one capability admin needs from the group host:
// a point-in-time copy of the assignment table.
type SnapshotSource interface {
	Snapshot() group.Snapshot
}

// Server is the admin HTTP surface. /healthz answers 503 while the ready
// func reports false and 200 otherwise; a nil ready func always gets 200.
type Server struct {
	addr   string
	source SnapshotSource
	logger log.Logger
	srv    *http.Server

	ready func() bool
}

// New builds an admin server. ready is polled on every /healthz request;
// pass a func that reports whether the group host has come up.
func New(addr string, source SnapshotSource, ready func() bool, logger log.Logger) *Server {
	return &Server{
		addr:   addr,
		source: source,
		ready:  ready,
		logger: logger.NewLog(log.Prefixed(`Admin`)),
	}
}

// Start begins serving in the background and returns right away. The
// listener is bound on that background goroutine, so a bind failure and
// later Serve errors are logged, not returned.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc(`/healthz`, s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc(`/assignment`, s.handleAssignment).Methods(http.MethodGet)
	r.HandleFunc(`/assignment.dot`, s.handleAssignmentDot).Methods(http.MethodGet)

	s.srv = &http.Server{Addr: s.addr, Handler: handlers.CORS()(r)}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf(`admin server failed: %s`, err))
		}
	}()

	s.logger.Info(fmt.Sprintf(`admin server started on %s`, s.addr))
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type streamAssignment struct {
	Stream     stream.Name          `json:"stream"`
	Partitions []stream.PartitionID `json:"partitions"`
}

func (s *Server) handleAssignment(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	out := make([]streamAssignment, 0, len(snap))
	for _, row := range snap {
		partitions := append([]stream.PartitionID(nil), row.Partitions...)
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
		out = append(out, streamAssignment{Stream: row.Stream, Partitions: partitions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })

	w.Header().Set(`Content-Type`, `application/json`)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error(fmt.Sprintf(`assignment encode failed: %s`, err))
	}
}

func (s *Server) handleAssignmentDot(w http.ResponseWriter, _ *http.Request) {
	dot, err := renderDot(s.source.Snapshot())
	if err != nil {
		s.logger.Error(fmt.Sprintf(`assignment graph render failed: %s`, err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set(`Content-Type`, `text/vnd.graphviz`)
	if _, err := w.Write([]byte(dot)); err != nil {
		s.logger.Error(fmt.Sprintf(`assignment graph write failed: %s`, err))
	}
}

// renderDot draws one node per stream fanning out to one node per
// partition it currently holds.
func renderDot(snap group.Snapshot) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(`assignment`); err != nil {
		return ``, err
	}
	if err := g.SetDir(true); err != nil {
		return ``, err
	}

	for _, row := range snap {
		streamNode := fmt.Sprintf(`"%s"`, row.Stream)
		if err := g.AddNode(`assignment`, streamNode, map[string]string{
			`shape`: `box`,
			`label`: fmt.Sprintf(`"%s"`, row.Stream),
		}); err != nil {
			return ``, err
		}

		for _, p := range row.Partitions {
			partitionNode := fmt.Sprintf(`"%s-%d"`, row.Stream, p)
			if err := g.AddNode(`assignment`, partitionNode, map[string]string{
				`label`: fmt.Sprintf(`"%d"`, p),
			}); err != nil {
				return ``, err
			}
			if err := g.AddEdge(streamNode, partitionNode, true, nil); err != nil {
				return ``, err
			}
		}
	}

	return g.String(), nil
}
