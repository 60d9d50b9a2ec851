// Package httpapi exposes internal/bbboard as a JSON HTTP service,
// grounded on the teacher's router/handler conventions (gorilla/mux,
// CORS middleware, plain json.Encoder responses).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rightcommons/merkleboard/internal/bbboard"
	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/ratelimit"
	"github.com/rightcommons/merkleboard/internal/verify"
)

// Server wires a Board to an HTTP API.
type Server struct {
	board       *bbboard.Board
	rateLimiter *ratelimit.Limiter
}

// NewServer builds a Server. rateLimiter may be nil, in which case
// submissions are never rate limited.
func NewServer(board *bbboard.Board, rateLimiter *ratelimit.Limiter) *Server {
	return &Server{board: board, rateLimiter: rateLimiter}
}

// Router builds the gorilla/mux router for this Server.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/leaves", s.handleSubmitLeaf).Methods("POST")
	router.HandleFunc("/api/leaves/{hash}", s.handleGetHashInfo).Methods("GET")
	router.HandleFunc("/api/leaves/{hash}/proof", s.handleGetProof).Methods("GET")
	router.HandleFunc("/api/leaves/{hash}/censor", s.handleCensorLeaf).Methods("POST")
	router.HandleFunc("/api/roots", s.handleGetAllRoots).Methods("GET")
	router.HandleFunc("/api/roots/latest", s.handleGetLatestRoot).Methods("GET")
	router.HandleFunc("/api/roots", s.handleOrderNewRoot).Methods("POST")
	router.HandleFunc("/api/pending", s.handleGetPending).Methods("GET")
	router.HandleFunc("/api/verify-proof", s.handleVerifyProof).Methods("POST")
	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type submitLeafRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSubmitLeaf(w http.ResponseWriter, r *http.Request) {
	var req submitLeafRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.rateLimiter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.rateLimiter.CheckSubmission(ctx, submitterID(r), clientIP(r)); err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
	}

	hash, err := s.board.SubmitLeaf(req.Data)
	if err != nil {
		if errors.Is(err, bbboard.ErrIdenticalDataAlreadySubmitted) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash.String()})
}

func (s *Server) handleGetHashInfo(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}
	info, err := s.board.GetHashInfo(hash)
	if err != nil {
		if errors.Is(err, boardbackend.ErrNoSuchHash) {
			http.Error(w, "unknown hash", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}
	proof, err := s.board.GetProofChain(hash)
	if err != nil {
		if errors.Is(err, boardbackend.ErrNoSuchHash) {
			http.Error(w, "unknown hash", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleCensorLeaf(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}
	if err := s.board.CensorLeaf(hash); err != nil {
		if errors.Is(err, boardbackend.ErrNoSuchHash) || errors.Is(err, boardbackend.ErrCanOnlyCensorLeaves) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "censored"})
}

func (s *Server) handleGetAllRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := s.board.GetAllPublishedRoots()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stringifyHashes(roots))
}

func (s *Server) handleGetLatestRoot(w http.ResponseWriter, r *http.Request) {
	hash, ok, err := s.board.GetMostRecentPublishedRoot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no root has been published yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash.String()})
}

func (s *Server) handleOrderNewRoot(w http.ResponseWriter, r *http.Request) {
	hash, sth, err := s.board.OrderNewPublishedRoot()
	if err != nil {
		if errors.Is(err, bbboard.ErrPublishingNewRootInstantlyAfterLastRoot) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{"hash": hash.String()}
	if sth != nil {
		resp["signed_tree_head"] = sth
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.board.GetParentlessUnpublishedHashValues()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stringifyHashes(hashes))
}

// verifyProofRequest lets a client re-check a proof chain it already
// fetched from GET /api/leaves/{hash}/proof, without needing its own
// copy of the verify package. This is a convenience only: a distrustful
// client should run verify.Proof itself, against its own copy of the
// hashing code.
type verifyProofRequest struct {
	Data          string        `json:"data"`
	PublishedRoot string        `json:"published_root"`
	Proof         bbboard.Proof `json:"proof"`
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	root, err := hashvalue.Parse(req.PublishedRoot)
	if err != nil {
		http.Error(w, "invalid published_root", http.StatusBadRequest)
		return
	}
	if err := verify.Proof(req.Data, root, req.Proof); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"valid": "false", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"valid": "true"})
}

func parseHash(w http.ResponseWriter, r *http.Request) (hashvalue.Value, bool) {
	raw := mux.Vars(r)["hash"]
	hash, err := hashvalue.Parse(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid hash %q", raw), http.StatusBadRequest)
		return hashvalue.Value{}, false
	}
	return hash, true
}

func stringifyHashes(hashes []hashvalue.Value) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}

func submitterID(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
