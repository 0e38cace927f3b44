package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/arex/position_tracker/internal/domain"
	"go.uber.org/zap"
)

const defaultBook = "positions"

var bookNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// bookFromQuery resolves the tableName query param, falling back to the
// default book on anything suspicious.
func bookFromQuery(r *http.Request) string {
	book := r.URL.Query().Get("tableName")
	if !bookNamePattern.MatchString(book) {
		return defaultBook
	}
	return book
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy to status codes. Only the message text
// leaks out.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type managePayload struct {
	Action       string  `json:"Action"`
	PositionSize float64 `json:"positionSize"`
	ID           string  `json:"id"`
	Filter       *struct {
		CoinName     string `json:"coinName"`
		PositionSide string `json:"positionSide"`
		Status       string `json:"status"`
	} `json:"filter"`
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	book := bookFromQuery(r)

	var payload managePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	var (
		result any
		err    error
	)
	switch payload.Action {
	case "Long":
		result, err = s.positions.OpenPosition(ctx, book, coin, domain.SideLong, payload.PositionSize)
	case "Short":
		result, err = s.positions.OpenPosition(ctx, book, coin, domain.SideShort, payload.PositionSize)
	case "CloseLong":
		result, err = s.positions.CloseSide(ctx, book, coin, domain.SideLong)
	case "CloseShort":
		result, err = s.positions.CloseSide(ctx, book, coin, domain.SideShort)
	case "CloseById":
		result, err = s.positions.CloseByID(ctx, book, payload.ID)
	case "DeleteById":
		result, err = s.positions.DeleteByID(ctx, book, payload.ID)
	case "BulkDelete":
		var f domain.PositionFilter
		if payload.Filter != nil {
			f = domain.PositionFilter{
				Coin:   payload.Filter.CoinName,
				Side:   domain.Side(payload.Filter.PositionSide),
				Status: domain.Status(payload.Filter.Status),
			}
		}
		result, err = s.positions.BulkDelete(ctx, book, f)
	case "UpdateProfits":
		result, err = s.positions.UpdateOpenProfitTracking(ctx, book)
	case "RecalculateHistoricalProfits":
		result, err = s.positions.RecalculateHistoricalProfits(ctx, book)
	default:
		err = domain.Validationf("unknown action %q", payload.Action)
	}

	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtra(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	book := bookFromQuery(r)

	var payload struct {
		ExtraUSD float64 `json:"extraUsd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	result, err := s.positions.AddExtra(r.Context(), book, coin, payload.ExtraUSD)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type subscribePayload struct {
	Strategy string   `json:"strategy"`
	ID       *int     `json:"id"`
	Coin     string   `json:"coin"`
	Amount   *float64 `json:"amount"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var payload subscribePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}
	if payload.Strategy == "" || payload.ID == nil || payload.Coin == "" || payload.Amount == nil {
		s.writeError(w, domain.Validationf("missing fields"))
		return
	}

	if err := s.subs.Subscribe(r.Context(), payload.Strategy, *payload.ID, payload.Coin, *payload.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var payload subscribePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}
	if payload.Strategy == "" || payload.ID == nil || payload.Coin == "" {
		s.writeError(w, domain.Validationf("missing fields"))
		return
	}

	if err := s.subs.Unsubscribe(r.Context(), payload.Strategy, *payload.ID, payload.Coin); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")

	var id *int
	if raw := r.URL.Query().Get("id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, domain.Validationf("invalid id %q", raw))
			return
		}
		id = &n
	}

	strategies, err := s.subs.ListSubscriptions(r.Context(), strategy, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if strategies == nil {
		strategies = []*domain.Strategy{}
	}
	s.writeJSON(w, http.StatusOK, strategies)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	coin := r.URL.Query().Get("coinname")
	if coin == "" {
		coin = r.URL.Query().Get("coinName")
	}
	if coin == "" {
		s.writeError(w, domain.Validationf("coinname required"))
		return
	}

	price, err := s.oracle.CurrentPrice(r.Context(), coin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	book := defaultBook
	if t := q.Get("tableName"); bookNamePattern.MatchString(t) {
		book = t
	}
	coin := q.Get("coinName")
	if coin == "" {
		coin = q.Get("coinname")
	}

	trades, err := s.positions.ListTrades(r.Context(), book, coin, q.Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) handleBestPerformers(w http.ResponseWriter, r *http.Request) {
	book := defaultBook
	if t := r.URL.Query().Get("table"); bookNamePattern.MatchString(t) {
		book = t
	}

	coins, err := s.positions.BestPerformers(r.Context(), book)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tableName":  book,
		"totalCoins": len(coins),
		"coins":      coins,
	})
}

func (s *Server) handlePositionCount(w http.ResponseWriter, r *http.Request) {
	coin := r.PathValue("coin")
	book := r.PathValue("table")
	side := domain.Side(r.URL.Query().Get("side"))

	count, err := s.positions.CountOpenPositions(r.Context(), book, coin, side)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sideLabel := "all"
	if side != "" {
		sideLabel = string(side)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coinName":  coin,
		"tableName": book,
		"status":    string(domain.StatusOpen),
		"side":      sideLabel,
		"count":     count,
	})
}
