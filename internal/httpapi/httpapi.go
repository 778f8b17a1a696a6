package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/obs"
	"github.com/alippalheyss/posnew-nw-sub000/internal/service"
)

type Options struct {
	AllowedOrigin string
	Logger        zerolog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	logger        zerolog.Logger
	metrics       http.Handler
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		opts.Logger.Warn().Err(err).Msg("crypto/rand failed, using fallback csrf secret")
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestLogger{Logger: a.logger}.Middleware)
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.csrf)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/products", a.handleProducts)
			r.Get("/customers", a.handleCustomers)
			r.Get("/customers/{customerID}/statement", a.handleStatement)
			r.Post("/customers/{customerID}/settlements", a.handleSettlement)

			r.Get("/carts", a.handleCarts)
			r.Post("/carts", a.handleCreateCart)
			r.Put("/carts/active/{cartID}", a.handleSwitchCart)
			r.Route("/carts/{cartID}", func(r chi.Router) {
				r.Delete("/", a.handleCloseCart)
				r.Get("/totals", a.handleCartTotals)
				r.Post("/lines", a.handleAddLine)
				r.Patch("/lines/{lineID}", a.handleUpdateLine)
				r.Delete("/lines/{lineID}", a.handleRemoveLine)
				r.Put("/customer", a.handleSetCustomer)
				r.Put("/redemption", a.handleSetRedemption)

				r.Post("/checkout", a.handleBeginCheckout)
				r.Delete("/checkout", a.handleAbortCheckout)
				r.Post("/checkout/cash", a.handleCashCheckout)
				r.Post("/checkout/credit", a.handleCreditCheckout)
				r.Post("/checkout/electronic", a.handleElectronicCheckout)
				r.Post("/checkout/split", a.handleSeedSplit)
				r.Put("/checkout/split/{entryID}", a.handleSetSplitAmount)
				r.Post("/checkout/split/commit", a.handleCommitSplit)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Get("/reports/gst", a.handleGSTReport)
			r.Get("/reports/outstanding", a.handleOutstandingReport)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken issues the token mutating requests must send in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := a.service.Statement(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req domain.SettlementRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settlement, err := a.service.RecordSettlement(r.Context(), chi.URLParam(r, "customerID"), req.Amount)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"settlement": settlement})
}

func (a *API) handleCarts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"carts": a.service.ListCarts()})
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CreateCart(r.Context())
	a.writeCart(w, http.StatusCreated, view, err)
}

func (a *API) handleSwitchCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.SwitchCart(r.Context(), chi.URLParam(r, "cartID"))
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleCloseCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CloseCart(r.Context(), chi.URLParam(r, "cartID"))
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleCartTotals(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Cart(chi.URLParam(r, "cartID"))
	a.writeCart(w, http.StatusOK, view, err)
}

// handleAddLine lets cashiers change the price factor only with a manager PIN.
func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var req domain.AddLineRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PriceFactor != nil && !req.PriceFactor.Equal(decimal.NewFromInt(1)) {
		actor, _ := service.ActorFromContext(r.Context())
		if actor.Role != domain.RoleAdmin {
			if !a.pinLimiter.Allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
				return
			}
			if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
				writeError(w, http.StatusForbidden, errors.New("manager PIN required for price override"))
				return
			}
		}
	}
	view, err := a.service.AddLine(r.Context(), chi.URLParam(r, "cartID"), req)
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLineRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateLine(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "lineID"), req)
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveLine(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "lineID"))
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.SetCustomerRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetCustomer(r.Context(), chi.URLParam(r, "cartID"), req.CustomerID)
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleSetRedemption(w http.ResponseWriter, r *http.Request) {
	var req domain.RedemptionRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetRedemption(r.Context(), chi.URLParam(r, "cartID"), req.Points)
	a.writeCart(w, http.StatusOK, view, err)
}

func (a *API) handleBeginCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.BeginCheckoutRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	review, err := a.service.BeginCheckout(r.Context(), chi.URLParam(r, "cartID"), req.Method)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleAbortCheckout(w http.ResponseWriter, r *http.Request) {
	if err := a.service.AbortCheckout(chi.URLParam(r, "cartID")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCashCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CashCheckoutRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.service.CheckoutCash(r.Context(), chi.URLParam(r, "cartID"), req.Paid)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleCreditCheckout(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.CheckoutCredit(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleElectronicCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.ElectronicCheckoutRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.service.CheckoutElectronic(r.Context(), chi.URLParam(r, "cartID"), req.Method, req.Reference)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleSeedSplit(w http.ResponseWriter, r *http.Request) {
	var req domain.SplitSeedRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	review, err := a.service.SeedSplit(r.Context(), chi.URLParam(r, "cartID"), req.CustomerIDs)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleSetSplitAmount(w http.ResponseWriter, r *http.Request) {
	var req domain.SplitAmountRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	review, err := a.service.SetSplitAmount(chi.URLParam(r, "cartID"), chi.URLParam(r, "entryID"), req.Amount)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleCommitSplit(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.CommitSplit(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleGSTReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	report, err := a.service.GSTReport(r.Context(), query.Get("from"), query.Get("to"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleOutstandingReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.OutstandingReport(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	switch {
	case errors.Is(err, errUsernameTaken):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, errUsernameSpaces):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// writeCart answers with the cart even when only the snapshot save failed,
// flagging the failure as a warning.
func (a *API) writeCart(w http.ResponseWriter, status int, view service.CartView, err error) {
	if err != nil && !errors.Is(err, domain.ErrRemotePersistence) {
		a.fail(w, err)
		return
	}
	body := map[string]any{"cart": view}
	if err != nil {
		a.logger.Warn().Err(err).Str("cart_id", view.Cart.ID).Msg("cart change applied but not persisted")
		body["warning"] = "cart change not saved to durable storage"
	}
	writeJSON(w, status, body)
}

// fail maps a domain error to its status and detail fields.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}

	var insufficient *domain.InsufficientPaymentError
	var overLimit *domain.CreditLimitExceededError
	var mismatch *domain.SplitTotalMismatchError
	switch {
	case errors.As(err, &insufficient):
		body["due"] = insufficient.Due
		body["paid"] = insufficient.Paid
	case errors.As(err, &overLimit):
		body["customer_id"] = overLimit.CustomerID
		body["credit_limit"] = overLimit.Limit
		body["total"] = overLimit.Total
	case errors.As(err, &mismatch):
		body["remaining"] = mismatch.Remaining
	}

	if status >= 500 {
		a.logger.Error().Err(err).Int("status", status).Msg("request failed")
		body = map[string]any{"error": http.StatusText(status)}
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrLineNotFound),
		errors.Is(err, domain.ErrSplitEntryNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientPayment),
		errors.Is(err, domain.ErrCreditLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrCommitInFlight),
		errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrNoCustomer),
		errors.Is(err, domain.ErrSplitTotalMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSplitCustomerCount),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnsupportedMethod),
		errors.Is(err, domain.ErrMissingReference),
		errors.Is(err, service.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRemotePersistence):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body strictly and runs struct validation on it.
func (a *API) decode(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError hides the message of 5xx errors from clients.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
