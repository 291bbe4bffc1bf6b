package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cashforge/internal/auth"
	"cashforge/internal/config"
	"cashforge/internal/economy"
	"cashforge/internal/game"
	"cashforge/internal/ledger"
	"cashforge/internal/lock"
	"cashforge/internal/proof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type contextKey string

const userContextKey contextKey = "user"

// Authenticator is the identity provider. *auth.SupabaseClient satisfies it.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.User, error)
}

type UserContext struct {
	AccountID string
	Email     string
	Token     string
}

type Server struct {
	cfg     config.Config
	log     *slog.Logger
	auth    Authenticator
	game    *game.Service
	limiter *ipLimiter
	mux     *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, authClient Authenticator, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		auth:    authClient,
		game:    gameSvc,
		limiter: newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		mux:     chi.NewRouter(),
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
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Get("/catalog", s.handleCatalog)
		r.Post("/admin/keys", s.handleGrantKeys)
		r.Post("/admin/deposits/{account}/{deposit}/{decision}", s.handleSettleDeposit)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/account", s.handleAccount)
			r.Get("/account/transactions", s.handleTransactions)

			r.Post("/deposits", s.handleDeposit)
			r.Post("/proofs", s.handleProofUpload)
			r.Post("/withdrawals", s.handleWithdraw)

			r.Get("/packages/{id}/quote", s.handleQuote)
			r.Post("/packages/{id}/purchase", s.handlePurchase)

			r.Get("/tasks", s.handleTasks)
			r.Post("/tasks/{index}/start", s.handleTaskStart)
			r.Post("/tasks/{index}/claim", s.handleTaskClaim)

			r.Get("/trade", s.handleTrade)
			r.Post("/trade", s.handleTradeStart)
			r.Post("/trade/claim", s.handleTradeClaim)

			r.Post("/wheels/{tier}/spin", s.handleSpin)

			r.Get("/referrals", s.handleReferrals)
			r.Post("/referrals", s.handleRedeemInvite)
			r.Post("/salary/{level}/claim", s.handleSalaryClaim)
		})
	})
}

// authMiddleware resolves the bearer token to an account id and makes sure
// the account exists before any handler runs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrRejected) {
				writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
				return
			}
			s.log.Warn("token verification failed", "err", err)
			writeError(w, http.StatusBadGateway, "identity provider unavailable")
			return
		}
		if _, err := s.game.EnsureAccount(r.Context(), user.ID, user.Email, ""); err != nil {
			s.writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			AccountID: user.ID,
			Email:     user.Email,
			Token:     token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.AccountID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// accountID writes a 401 and returns false when the request is not authenticated.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return user.AccountID, true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		Username   string `json:"username"`
		InviteCode string `json:"invite_code"`
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
		if _, err := s.game.EnsureAccount(r.Context(), session.User.ID, session.User.Email, in.Username); err != nil {
			s.writeDomainError(w, err)
			return
		}
		if code := strings.TrimSpace(in.InviteCode); code != "" {
			if _, err := s.game.RedeemInvite(r.Context(), session.User.ID, code); err != nil {
				s.log.Warn("signup invite not applied", "account_id", session.User.ID, "err", err)
			}
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
	if _, err := s.game.EnsureAccount(r.Context(), session.User.ID, session.User.Email, ""); err != nil {
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

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.game.Catalog())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.Dashboard(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	out, err := s.game.History(r.Context(), id, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		PKRAmount decimal.Decimal `json:"pkr_amount"`
		ProofURL  string          `json:"proof_url"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Deposit(r.Context(), id, in.PKRAmount, in.ProofURL)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleProofUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, proof.MaxBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field \"file\": %v", err))
		return
	}
	defer file.Close()
	url, err := s.game.UploadProof(r.Context(), id, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		Amount      decimal.Decimal `json:"amount"`
		Destination string          `json:"destination"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Withdraw(r.Context(), id, in.Amount, in.Destination)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.Quote(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.PurchasePackage(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.Tasks(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	out, err := s.game.StartTask(r.Context(), id, index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	out, err := s.game.ClaimTask(r.Context(), id, index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.Trade(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTradeStart(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		Tier   string          `json:"tier"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.StartTrade(r.Context(), id, strings.TrimSpace(in.Tier), in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleTradeClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.ClaimTrade(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSpin(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	tier, err := economy.ParseKeyTier(chi.URLParam(r, "tier"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.game.Spin(r.Context(), id, tier)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.game.Referrals(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		InviteCode string `json:"invite_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.RedeemInvite(r.Context(), id, in.InviteCode)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSalaryClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	level, ok := intParam(w, r, "level")
	if !ok {
		return
	}
	out, err := s.game.ClaimSalary(r.Context(), id, level)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// requireAdmin guards operator routes with the static admin token rather than
// a user session.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		writeError(w, http.StatusServiceUnavailable, "admin api disabled")
		return false
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		writeError(w, http.StatusForbidden, "admin token required")
		return false
	}
	return true
}

func (s *Server) handleGrantKeys(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var in struct {
		AccountID string `json:"account_id"`
		Tier      string `json:"tier"`
		Count     int    `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier, err := economy.ParseKeyTier(in.Tier)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	acct, err := s.game.GrantKeys(r.Context(), strings.TrimSpace(in.AccountID), tier, in.Count)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": acct.ID, "keys": acct.Keys})
}

// handleSettleDeposit approves or rejects a deposit after its proof was checked.
func (s *Server) handleSettleDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var approve bool
	switch chi.URLParam(r, "decision") {
	case "approve":
		approve = true
	case "reject":
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}
	out, err := s.game.SettleDeposit(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "deposit"), approve)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
		return 0, false
	}
	return n, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, economy.ErrInvalidInput), errors.Is(err, economy.ErrAmountOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, economy.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, economy.ErrNoKey), errors.Is(err, economy.ErrSalaryLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, economy.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, economy.ErrAlreadyActive),
		errors.Is(err, economy.ErrNotClaimable),
		errors.Is(err, economy.ErrAlreadyClaimed),
		errors.Is(err, economy.ErrNotUpgrade),
		errors.Is(err, game.ErrNoPackage),
		errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrUnavailable), errors.Is(err, lock.ErrLockTimeout):
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
