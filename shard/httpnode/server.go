// Package httpnode exposes a shard.Store over HTTP and provides the matching
// client.
//
// Routes:
//
//	PUT    /objects/{id}/shards/{index}   store the request body
//	GET    /objects/{id}/shards/{index}   shard bytes, 404 when absent
//	DELETE /objects/{id}/shards/{index}
//	GET    /objects/{id}/shards           JSON list of present indices
//	GET    /status                        JSON node status
package httpnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/ppopth/ecstore/shard"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("shard/httpnode")

// DefaultMaxShardSize bounds the request body of a PUT.
const DefaultMaxShardSize = 64 << 20

// Status is the body of GET /status.
type Status struct {
	NodeID  string `json:"nodeID"`
	Status  string `json:"status"`
	Puts    int64  `json:"puts"`
	Gets    int64  `json:"gets"`
	Deletes int64  `json:"deletes"`
}

// Server serves shards from a local store.
type Server struct {
	nodeID       string
	store        shard.Store
	maxShardSize int64
	router       *mux.Router

	puts, gets, deletes atomic.Int64
}

// NewServer creates a server for store. The server does not close the
// store.
func NewServer(nodeID string, store shard.Store) *Server {
	s := &Server{
		nodeID:       nodeID,
		store:        store,
		maxShardSize: DefaultMaxShardSize,
		router:       mux.NewRouter(),
	}
	s.router.HandleFunc("/objects/{id}/shards/{index:[0-9]+}", s.handlePut).Methods(http.MethodPut)
	s.router.HandleFunc("/objects/{id}/shards/{index:[0-9]+}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/objects/{id}/shards/{index:[0-9]+}", s.handleDelete).Methods(http.MethodDelete)
	s.router.HandleFunc("/objects/{id}/shards", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return s
}

// SetMaxShardSize changes the PUT body limit.
func (s *Server) SetMaxShardSize(n int64) {
	s.maxShardSize = n
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func shardVars(r *http.Request) (string, int, error) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		return "", 0, fmt.Errorf("invalid shard index %q", vars["index"])
	}
	if err := shard.ValidateKey(vars["id"], index); err != nil {
		return "", 0, err
	}
	return vars["id"], index, nil
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id, index, err := shardVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxShardSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "shard too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read shard", http.StatusBadRequest)
		return
	}
	if err := s.store.Put(r.Context(), id, index, data); err != nil {
		log.Warnf("put %s/%d: %v", id, index, err)
		http.Error(w, "failed to store shard", http.StatusInternalServerError)
		return
	}
	s.puts.Add(1)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, index, err := shardVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := s.store.Get(r.Context(), id, index)
	if errors.Is(err, shard.ErrNotFound) {
		http.Error(w, "shard not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Warnf("get %s/%d: %v", id, index, err)
		http.Error(w, "failed to read shard", http.StatusInternalServerError)
		return
	}
	s.gets.Add(1)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		log.Debugf("send %s/%d: %v", id, index, err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, index, err := shardVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(r.Context(), id, index); err != nil {
		log.Warnf("delete %s/%d: %v", id, index, err)
		http.Error(w, "failed to delete shard", http.StatusInternalServerError)
		return
	}
	s.deletes.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	indices, err := s.store.ListPresence(r.Context(), id)
	if err != nil {
		log.Warnf("list %s: %v", id, err)
		http.Error(w, "failed to list shards", http.StatusInternalServerError)
		return
	}
	if indices == nil {
		indices = []int{}
	}
	writeJSON(w, indices)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Status{
		NodeID:  s.nodeID,
		Status:  "online",
		Puts:    s.puts.Load(),
		Gets:    s.gets.Load(),
		Deletes: s.deletes.Load(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("write response: %v", err)
	}
}
