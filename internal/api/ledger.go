package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MJE43/pf-outcome-engine/internal/bets"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

const exportChunk = 500

// POST /users/{userID}/bets
func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req PlaceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Game == "" {
		s.errorHandler.HandleValidationError(w, r, "game", "game is required")
		return
	}

	bet, err := s.coordinator.PlaceBet(r.Context(), bets.PlaceBetRequest{
		UserID: userID,
		Game:   req.Game,
		Params: req.Params,
		Stake:  req.Stake,
	})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bet)
}

// GET /users/{userID}/bets?game=&pair_id=&limit=&offset=
func (s *Server) handleListBets(w http.ResponseWriter, r *http.Request) {
	query, ok := s.betsQuery(w, r)
	if !ok {
		return
	}
	page, err := s.coordinator.Bets(r.Context(), query)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if page.Bets == nil {
		page.Bets = []store.BetResolution{}
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) betsQuery(w http.ResponseWriter, r *http.Request) (store.BetsQuery, bool) {
	query := store.BetsQuery{
		UserID: chi.URLParam(r, "userID"),
		Game:   strings.ToLower(r.URL.Query().Get("game")),
		Limit:  qInt(r, "limit", 0),
		Offset: qInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("pair_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, "pair_id", "pair_id must be a uuid")
			return store.BetsQuery{}, false
		}
		query.PairID = &id
	}
	return query, true
}

// GET /users/{userID}/bets/export.csv streams the user's bets in pages.
func (s *Server) handleExportBets(w http.ResponseWriter, r *http.Request) {
	query, ok := s.betsQuery(w, r)
	if !ok {
		return
	}
	query.Limit = exportChunk
	query.Offset = 0

	first, err := s.coordinator.Bets(r.Context(), query)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bets_%s.csv"`, query.UserID))
	w.Header().Set("X-Engine-Version", EngineVersion)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "pair_id", "nonce", "created_at", "game", "table_version", "metric", "win", "multiplier", "stake", "payout"})

	// Later pages may shift if bets land during the export; rows are
	// newest first, so new bets only push older rows down.
	page := first
	for {
		for _, b := range page.Bets {
			_ = cw.Write([]string{
				b.ID.String(),
				b.PairID.String(),
				strconv.FormatUint(b.Nonce, 10),
				b.CreatedAt.UTC().Format(time.RFC3339Nano),
				b.Game,
				b.TableVersion,
				strconv.FormatFloat(b.Metric, 'f', -1, 64),
				strconv.FormatBool(b.Win),
				strconv.FormatFloat(b.Multiplier, 'f', -1, 64),
				b.Stake.String(),
				b.Payout.String(),
			})
		}
		query.Offset += len(page.Bets)
		if len(page.Bets) == 0 || query.Offset >= page.TotalCount {
			break
		}
		if page, err = s.coordinator.Bets(r.Context(), query); err != nil {
			s.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Warn("bets_export_aborted")
			break
		}
	}
	cw.Flush()
}

// GET /bets/{betID}
func (s *Server) handleGetBet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "betID"))
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "betID", "bet id must be a uuid")
		return
	}
	bet, err := s.coordinator.Bet(r.Context(), id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	// Other users' bets are reported as missing.
	if s.auth != nil && bet.UserID != subjectFrom(r.Context()) {
		s.errorHandler.HandleError(w, r, fmt.Errorf("bet %s: %w", id, store.ErrNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, bet)
}

// GET /users/{userID}/seed
func (s *Server) handleCurrentSeed(w http.ResponseWriter, r *http.Request) {
	info, err := s.coordinator.CurrentSeedInfo(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// POST /users/{userID}/seed/rotate {"pair_id": "..."}
//
// Repeating a rotation of the same pair returns the original result.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req RotateRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	rot, err := s.coordinator.Rotate(r.Context(), userID, req.PairID)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "seed_rotate", "user:"+userID, "success", map[string]any{
		"revealed_pair_id": rot.Revealed.ID.String(),
		"next_pair_id":     rot.Next.ID.String(),
		"replayed":         rot.Replayed,
	})
	s.writeJSON(w, http.StatusOK, rotationView(rot.Revealed, rot.Next))
}

// RotationResponse reveals the old pair and commits to the next one.
type RotationResponse struct {
	Revealed bets.RevealedSeed `json:"revealed"`
	Next     *bets.SeedInfo    `json:"next"`
}

func rotationView(revealed, next *store.SeedPair) RotationResponse {
	return RotationResponse{Revealed: bets.RevealedOf(revealed), Next: bets.InfoOf(next)}
}

// PUT /users/{userID}/seed/client
func (s *Server) handleSetClientSeed(w http.ResponseWriter, r *http.Request) {
	var req ClientSeedRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.coordinator.SetClientSeed(r.Context(), chi.URLParam(r, "userID"), req.ClientSeed)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// GET /users/{userID}/seed/history?limit=&offset=
func (s *Server) handleSeedHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.coordinator.SeedHistory(r.Context(), chi.URLParam(r, "userID"), qInt(r, "limit", 0), qInt(r, "offset", 0))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}
