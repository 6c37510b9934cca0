package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
	"github.com/thatsimonsguy/cbus-node/internal/node"
)

// Node is what the API reads and changes. Every call except Do must run
// inside Do.
type Node interface {
	Do(ctx context.Context, fn func()) error
	Info() node.Info
	Params() []byte
	NVs() []byte
	ReadNV(index uint8) (byte, error)
	WriteNV(index, value uint8) error
	Events() []node.EventInfo
	Produced() []node.ProducedEvent
	Lookup(e events.Event) (events.Record, bool)
	IO() []ioport.Status
}

type Server struct {
	node   Node
	router *mux.Router
	http   *http.Server
}

type NVResponse struct {
	Index uint8 `json:"index"`
	Value uint8 `json:"value"`
}

type NVRequest struct {
	Value *uint8 `json:"value"`
}

type EventsResponse struct {
	Consumed []node.EventInfo     `json:"consumed"`
	Produced []node.ProducedEvent `json:"produced"`
}

type EventResponse struct {
	NN      uint16 `json:"nn"`
	EN      uint16 `json:"en"`
	Actions []int  `json:"actions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(n Node) *Server {
	s := &Server{node: n, router: mux.NewRouter()}
	s.router.Use(cors)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/node", s.getNode).Methods(http.MethodGet)
	api.HandleFunc("/params", s.getParams).Methods(http.MethodGet)
	api.HandleFunc("/nvs", s.getNVs).Methods(http.MethodGet)
	api.HandleFunc("/nvs/{index:[0-9]+}", s.getNV).Methods(http.MethodGet)
	api.HandleFunc("/nvs/{index:[0-9]+}", s.setNV).Methods(http.MethodPut)
	api.HandleFunc("/events", s.getEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{nn:[0-9]+}/{en:[0-9]+}", s.getEvent).Methods(http.MethodGet)
	api.HandleFunc("/io", s.getIO).Methods(http.MethodGet)
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("address", addr).Msg("Starting diagnostics API server")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

// run executes fn on the node's main loop, answering 503 if the loop does
// not pick it up in time.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.node.Do(ctx, fn); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Node did not answer API request")
		s.writeError(w, http.StatusServiceUnavailable, "Node busy")
		return false
	}
	return true
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	var info node.Info
	if s.run(w, r, func() { info = s.node.Info() }) {
		s.writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	var params []int
	ok := s.run(w, r, func() {
		for _, b := range s.node.Params() {
			params = append(params, int(b))
		}
	})
	if ok {
		s.writeJSON(w, http.StatusOK, params)
	}
}

func (s *Server) getNVs(w http.ResponseWriter, r *http.Request) {
	var out []NVResponse
	ok := s.run(w, r, func() {
		for i, v := range s.node.NVs() {
			out = append(out, NVResponse{Index: uint8(i + 1), Value: v})
		}
	})
	if ok {
		s.writeJSON(w, http.StatusOK, out)
	}
}

func nvIndex(r *http.Request) (uint8, error) {
	v, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 8)
	return uint8(v), err
}

func (s *Server) getNV(w http.ResponseWriter, r *http.Request) {
	index, err := nvIndex(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Node variable not found")
		return
	}
	var v byte
	if !s.run(w, r, func() { v, err = s.node.ReadNV(index) }) {
		return
	}
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Node variable not found")
		return
	}
	s.writeJSON(w, http.StatusOK, NVResponse{Index: index, Value: v})
}

func (s *Server) setNV(w http.ResponseWriter, r *http.Request) {
	index, err := nvIndex(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Node variable not found")
		return
	}
	var req NVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if !s.run(w, r, func() { err = s.node.WriteNV(index, *req.Value) }) {
		return
	}

	var code cbus.CmdErr
	switch {
	case err == nil:
	case errors.As(err, &code) && code == cbus.CmdErrInvNVIdx:
		s.writeError(w, http.StatusNotFound, "Node variable not found")
		return
	case errors.As(err, &code):
		s.writeError(w, http.StatusBadRequest, code.Error())
		return
	default:
		log.Error().Err(err).Uint8("index", index).Msg("Failed to write node variable")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Uint8("index", index).Uint8("value", *req.Value).Msg("Node variable updated via API")
	s.writeJSON(w, http.StatusOK, NVResponse{Index: index, Value: *req.Value})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	var resp EventsResponse
	ok := s.run(w, r, func() {
		resp.Consumed = s.node.Events()
		resp.Produced = s.node.Produced()
	})
	if ok {
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	nn, err1 := strconv.ParseUint(vars["nn"], 10, 16)
	en, err2 := strconv.ParseUint(vars["en"], 10, 16)
	if err1 != nil || err2 != nil {
		s.writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	e := events.Event{NN: uint16(nn), EN: uint16(en)}

	var rec events.Record
	var found bool
	if !s.run(w, r, func() { rec, found = s.node.Lookup(e) }) {
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	resp := EventResponse{NN: rec.NN, EN: rec.EN}
	for _, a := range rec.Actions() {
		resp.Actions = append(resp.Actions, int(a))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getIO(w http.ResponseWriter, r *http.Request) {
	var status []ioport.Status
	if s.run(w, r, func() { status = s.node.IO() }) {
		s.writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
