package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veridian-labs/claimgate/pkg/audit"
	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/engine"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/revert"
	"github.com/veridian-labs/claimgate/pkg/review"
)

// Server exposes the gateway over HTTP. All graph writes go through the
// decision engine; the server never touches the graph directly.
type Server struct {
	Engine *engine.Engine
	Revert *revert.Controller
	Ledger *ledger.Ledger
	Table  *policy.Table
	Loader *policy.Loader
	Review review.Queue
	Audit  audit.Logger
	Logger *slog.Logger
}

func (s *Server) audit() audit.Logger {
	if s.Audit == nil {
		return audit.Nop{}
	}
	return s.Audit
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Routes builds the request multiplexer. Middleware is applied by the caller.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/claims", s.handlePropose)
	mux.HandleFunc("POST /v1/claims/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/claims/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /v1/claims/{id}", s.handleGetClaim)
	mux.HandleFunc("POST /v1/undo", s.handleUndo)
	mux.HandleFunc("GET /v1/changes", s.handleChanges)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleVerify)
	mux.HandleFunc("POST /v1/policy/reload", s.handlePolicyReload)
	mux.HandleFunc("GET /v1/review/next", s.handleReviewNext)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var p claims.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	res, err := s.Engine.Propose(r.Context(), &p)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	// A commit means a new row was written; duplicates and dry-runs return
	// the decision without one.
	status := http.StatusOK
	if res.CommitID != "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// reviewRequest carries the human verdict for a pending claim.
type reviewRequest struct {
	Reviewer  string   `json:"reviewer"`
	HumanConf *float64 `json:"human_conf,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.applyReview(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.applyReview(w, r, false)
}

func (s *Server) applyReview(w http.ResponseWriter, r *http.Request, approve bool) {
	claimID := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Reviewer == "" {
		WriteBadRequest(w, "Missing required field: reviewer")
		return
	}
	if req.HumanConf != nil && (*req.HumanConf < 0 || *req.HumanConf > 1) {
		WriteBadRequest(w, "human_conf out of [0,1]")
		return
	}

	res, err := s.Engine.ApplyReview(r.Context(), claimID, approve, req.Reviewer, req.HumanConf)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.Ledger.Claim(r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// undoRequest targets either one commit by id or the last n commits.
type undoRequest struct {
	CommitID string `json:"commit_id,omitempty"`
	Last     int    `json:"last,omitempty"`
	Actor    string `json:"actor"`
}

type undoResponse struct {
	UndoneCommits []string `json:"undone_commits"`
	Head          string   `json:"head"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Actor == "" {
		WriteBadRequest(w, "Missing required field: actor")
		return
	}
	if (req.CommitID == "") == (req.Last == 0) {
		WriteBadRequest(w, "Exactly one of commit_id or last is required")
		return
	}

	var undone []string
	if req.CommitID != "" {
		commit, err := s.Revert.Undo(r.Context(), req.CommitID, req.Actor)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		undone = append(undone, commit.Undoes)
	} else {
		commits, err := s.Revert.UndoLast(r.Context(), req.Last, req.Actor)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		for _, c := range commits {
			undone = append(undone, c.Undoes)
		}
	}
	writeJSON(w, http.StatusOK, undoResponse{UndoneCommits: undone, Head: s.Ledger.Head()})
}

type changesResponse struct {
	Head    string          `json:"head"`
	Commits []ledger.Commit `json:"commits"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, "since must be a commit sequence number")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, changesResponse{
		Head:    s.Ledger.Head(),
		Commits: s.Ledger.Since(since),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.Ledger.Verify(); err != nil {
		WriteError(w, http.StatusConflict, "Chain Verification Failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"head":    s.Ledger.Head(),
		"commits": s.Ledger.Len(),
	})
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Loader.Load(); err != nil {
		// The previous snapshot stays active on a failed reload.
		s.logger().WarnContext(r.Context(), "policy reload rejected", "error", err)
		WriteError(w, http.StatusUnprocessableEntity, "Policy Rejected", err.Error())
		return
	}
	snap := s.Table.Snapshot()
	_ = s.audit().Record(r.Context(), audit.EventPolicyReload, "operator", "reload", "policy", map[string]interface{}{
		"version": snap.Version,
		"hash":    snap.Hash,
		"mode":    string(snap.Mode),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version,
		"hash":    snap.Hash,
		"mode":    snap.Mode,
	})
}

func (s *Server) handleReviewNext(w http.ResponseWriter, r *http.Request) {
	item, err := s.Review.Next(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
