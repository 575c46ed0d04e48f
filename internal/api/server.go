package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stocksim/internal/auth"
	"stocksim/internal/config"
	"stocksim/internal/debate"
	"stocksim/internal/ledger"
	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/quiz"
	"stocksim/internal/ranking"
	"stocksim/internal/season"
	"stocksim/internal/store"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
	"stocksim/internal/watchlist"
)

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityProvider is the slice of the identity service the API needs.
// *auth.SupabaseClient implements it.
type IdentityProvider interface {
	Verify(ctx context.Context, accessToken string) (model.Identity, error)
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
}

type Services struct {
	Store     store.Store
	Quotes    oracle.Quoter
	Ledgers   *ledger.Service
	Trades    *trade.Service
	Valuation *valuation.Service
	Rankings  *ranking.Aggregator
	Seasons   *season.Manager
	Debates   *debate.Service
	Quizzes   *quiz.Service
	Watchlist *watchlist.Service
}

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	auth IdentityProvider
	svc  Services
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, idp IdentityProvider, svc Services) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		auth: idp,
		svc:  svc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/account/activate", s.handleActivate)
			r.Get("/me", s.handleMe)
			r.Get("/quests", s.handleQuests)

			r.Get("/quotes/{symbol}", s.handleQuote)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/portfolio/seasons/{id}", s.handleSeasonPortfolio)
			r.Get("/portfolio/history", s.handlePortfolioHistory)

			r.Get("/watchlist", s.handleWatchlist)
			r.Post("/watchlist", s.handleAddFavorite)
			r.Delete("/watchlist/{symbol}", s.handleRemoveFavorite)

			r.Post("/orders/market", s.handleMarketOrder)
			r.Post("/orders/limit", s.handlePlaceLimitOrder)
			r.Get("/orders/limit", s.handleListLimitOrders)
			r.Delete("/orders/limit/{id}", s.handleCancelLimitOrder)
			r.Get("/transactions", s.handleTransactions)

			r.Get("/rankings", s.handleRankings)
			r.Get("/seasons", s.handleSeasons)
			r.Get("/hall-of-fame/{id}", s.handleHallOfFame)

			r.Get("/debates", s.handleListDebates)
			r.Post("/debates", s.handleCreateDebate)
			r.Get("/debates/{id}", s.handleGetDebate)
			r.Post("/debates/{id}/vote", s.handleVote)
			r.Post("/debates/{id}/close", s.handleCloseDebate)
			r.Delete("/debates/{id}", s.handleDeleteDebate)

			r.Get("/quiz", s.handleListQuizzes)
			r.Post("/quiz", s.handleCreateQuiz)
			r.Get("/quiz/eligibility", s.handleQuizEligibility)
			r.Post("/quiz/{id}/submit", s.handleQuizSubmit)
			r.Delete("/quiz/{id}", s.handleDeleteQuiz)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/seasons/end", s.handleEndSeason)
				r.Delete("/seasons/{id}", s.handleDeleteSeason)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, model.ErrPermissionDenied.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFrom(ctx context.Context) model.Identity {
	id, _ := ctx.Value(identityContextKey).(model.Identity)
	return id
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Nickname string `json:"nickname"`
		Group    string `json:"group"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if _, err := s.svc.Ledgers.EnsureAccount(r.Context(), session.User.ID, nickname(in.Nickname, session.User.Email), strings.TrimSpace(in.Group)); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if _, err := s.svc.Ledgers.EnsureAccount(r.Context(), session.User.ID, nickname("", session.User.Email), ""); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Refresh(r.Context(), strings.TrimSpace(in.RefreshToken))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var in struct {
		Nickname string `json:"nickname"`
		Group    string `json:"group"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := s.svc.Ledgers.ActivateAccount(r.Context(), id, nickname(in.Nickname, id.Email), strings.TrimSpace(in.Group))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l.Account)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	l, err := s.svc.Ledgers.Get(r.Context(), id.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":  l.Account,
		"is_admin": id.IsAdmin,
		"email":    id.Email,
	})
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Store.GetQuestProgress(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Quotes.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Valuation.ValuePortfolio(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSeasonPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := s.svc.Seasons.PortfolioForSeason(r.Context(), identityFrom(r.Context()).UserID, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	seasonID, err := queryInt(r, "season")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	points, err := s.svc.Valuation.History(r.Context(), identityFrom(r.Context()).UserID, seasonID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var in trade.MarketOrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.UserID = identityFrom(r.Context()).UserID
	res, err := s.svc.Trades.PlaceMarketOrder(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	var in trade.LimitOrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.UserID = identityFrom(r.Context()).UserID
	o, err := s.svc.Trades.PlaceLimitOrder(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListLimitOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.Trades.ListOpenOrders(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleCancelLimitOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Trades.CancelLimitOrder(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	seasonID, err := queryInt(r, "season")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	allTime := false
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", string(model.ScopeSeason):
	case string(model.ScopeAllTime):
		allTime = true
	default:
		s.writeDomainError(w, fmt.Errorf("%w: scope must be season or all_time", model.ErrInvalidArgument))
		return
	}
	txs, err := s.svc.Trades.TransactionHistory(r.Context(), identityFrom(r.Context()).UserID, seasonID, allTime)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Rankings.Snapshot(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type archiveSummary struct {
	SeasonID   int64                `json:"season_id"`
	Name       string               `json:"name"`
	Status     model.ArchiveStatus  `json:"status"`
	StartDate  time.Time            `json:"start_date"`
	ClosedAt   time.Time            `json:"closed_at"`
	TopRankers []model.PersonalRank `json:"top_rankers,omitempty"`
}

func summarize(a model.SeasonArchive, withRankers bool) archiveSummary {
	out := archiveSummary{
		SeasonID:  a.SeasonID,
		Name:      a.Name,
		Status:    a.Status,
		StartDate: a.StartDate,
		ClosedAt:  a.ClosedAt,
	}
	if withRankers {
		out.TopRankers = a.TopRankers
	}
	return out
}

func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	cur, err := s.svc.Seasons.Current(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	archives, err := s.svc.Seasons.ListArchives(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	past := make([]archiveSummary, 0, len(archives))
	for _, a := range archives {
		past = append(past, summarize(a, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": cur, "archives": past})
}

func (s *Server) handleHallOfFame(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	a, err := s.svc.Seasons.Archive(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(*a, true))
}

type debateView struct {
	ID            string             `json:"id"`
	Topic         string             `json:"topic"`
	OVotes        int                `json:"o_votes"`
	XVotes        int                `json:"x_votes"`
	Status        model.DebateStatus `json:"status"`
	CorrectAnswer model.Choice       `json:"correct_answer,omitempty"`
	MyVote        model.Choice       `json:"my_vote,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func viewDebate(d model.Debate, userID string) debateView {
	return debateView{
		ID:            d.ID,
		Topic:         d.Topic,
		OVotes:        d.OVotes,
		XVotes:        d.XVotes,
		Status:        d.Status,
		CorrectAnswer: d.CorrectAnswer,
		MyVote:        d.Voters[userID],
		CreatedAt:     d.CreatedAt,
	}
}

func (s *Server) handleListDebates(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r.Context()).UserID
	debates, err := s.svc.Debates.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]debateView, 0, len(debates))
	for _, d := range debates {
		out = append(out, viewDebate(d, userID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"debates": out})
}

func (s *Server) handleCreateDebate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var in struct {
		Topic string `json:"topic"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.svc.Debates.Create(r.Context(), id, in.Topic)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewDebate(*d, id.UserID))
}

func (s *Server) handleGetDebate(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Debates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDebate(*d, identityFrom(r.Context()).UserID))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r.Context()).UserID
	var in struct {
		Choice string `json:"choice"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	choice, err := model.ParseChoice(in.Choice)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	d, err := s.svc.Debates.Vote(r.Context(), chi.URLParam(r, "id"), userID, choice)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDebate(*d, userID))
}

func (s *Server) handleCloseDebate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CorrectAnswer string `json:"correct_answer"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	correct, err := model.ParseChoice(in.CorrectAnswer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	res, err := s.svc.Debates.Close(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), correct)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteDebate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Debates.Delete(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.svc.Quizzes.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Question    string   `json:"question"`
		Choices     []string `json:"choices"`
		AnswerIndex int      `json:"answer_index"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := s.svc.Quizzes.Create(r.Context(), identityFrom(r.Context()), in.Question, in.Choices, in.AnswerIndex)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Quizzes.Delete(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Watchlist.List(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.svc.Watchlist.Add(r.Context(), identityFrom(r.Context()).UserID, in.Symbol, in.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Watchlist.Remove(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "symbol")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuizEligibility(w http.ResponseWriter, r *http.Request) {
	el, err := s.svc.Quizzes.Eligibility(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func (s *Server) handleQuizSubmit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AnswerIndex int `json:"answer_index"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.Quizzes.Submit(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"), in.AnswerIndex)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEndSeason(w http.ResponseWriter, r *http.Request) {
	// Closing a season outlives any single request deadline.
	ctx := context.WithoutCancel(r.Context())
	closed, err := s.svc.Seasons.EndSeason(ctx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("season ended by admin", "season_id", closed, "by", identityFrom(r.Context()).UserID)
	writeJSON(w, http.StatusOK, map[string]any{"closed_season_id": closed})
}

func (s *Server) handleDeleteSeason(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.svc.Seasons.DeleteSeason(context.WithoutCancel(r.Context()), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("season deleted by admin", "season_id", id, "by", identityFrom(r.Context()).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrTxConflict) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	switch model.Kind(err) {
	case model.ErrUnauthenticated:
		writeError(w, http.StatusUnauthorized, err.Error())
	case model.ErrPermissionDenied:
		writeError(w, http.StatusForbidden, err.Error())
	case model.ErrInvalidArgument:
		writeError(w, http.StatusBadRequest, err.Error())
	case model.ErrNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case model.ErrFailedPrecondition:
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case model.ErrAlreadyExists:
		writeError(w, http.StatusConflict, err.Error())
	case model.ErrQuoteUnavailable:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func pathInt(r *http.Request, key string) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidArgument, key)
	}
	return n, nil
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrInvalidArgument, key)
	}
	return n, nil
}

func nickname(requested, email string) string {
	if n := strings.TrimSpace(requested); n != "" {
		return n
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
