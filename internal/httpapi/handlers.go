package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveOperator) {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleLookupProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	product, err := a.service.LookupProduct(r.Context(), actor.OperatorID, chi.URLParam(r, "code"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionOpenRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	session, err := a.service.OpenSession(r.Context(), actor.OperatorID, req.OpeningBalance)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCloseRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	rec, err := a.service.CloseSession(r.Context(), actor.OperatorID, req.ClosingBalance)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Rounded())
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	status, err := a.service.SessionStatus(r.Context(), actor.OperatorID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status.Rounded())
}

func (a *API) handleClosingSlip(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	slip, err := a.service.ClosingSlip(r.Context(), actor.OperatorID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slip.Rounded())
}

func (a *API) handleSessionsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.service.SessionsOverview(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview.Rounded())
}

func (a *API) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	// The operator always comes from the token, never from the body.
	actor, _ := service.ActorFromContext(r.Context())
	req.OperatorID = actor.OperatorID

	result, err := a.service.Settle(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result.Rounded())
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	view, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	var req domain.CancelSaleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "cancel", req.ManagerPIN) {
		return
	}

	resp, err := a.service.CancelSale(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCorrectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	var req domain.PaymentCorrectionRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, r, "payment-method", req.ManagerPIN) {
		return
	}

	correction, err := a.service.CorrectPaymentMethod(r.Context(), id, req.Method)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	correction.OldAmount = correction.OldAmount.Round(2)
	correction.NewAmount = correction.NewAmount.Round(2)
	writeJSON(w, http.StatusOK, correction)
}

// checkManagerPIN rate-limits and verifies the supervisor PIN that
// compensating operations require on top of the admin role.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		a.writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) handleReconciliationReport(w http.ResponseWriter, r *http.Request) {
	filter, err := a.parseReportFilter(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	report, err := a.service.ReconciliationReport(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Rounded())
}

// parseReportFilter reads from/to as YYYY-MM-DD days in the store's timezone
// (to is inclusive) or as RFC3339 instants (to is exclusive).
func (a *API) parseReportFilter(r *http.Request) (domain.ReportFilter, error) {
	query := r.URL.Query()
	var filter domain.ReportFilter

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, _, err := a.parseReportTime(raw)
		if err != nil {
			return filter, store.InvalidInput("from must be YYYY-MM-DD or RFC3339")
		}
		filter.From = from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, isDay, err := a.parseReportTime(raw)
		if err != nil {
			return filter, store.InvalidInput("to must be YYYY-MM-DD or RFC3339")
		}
		if isDay {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = to
	}
	if raw := strings.TrimSpace(query.Get("operator_id")); raw != "" {
		operatorID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || operatorID < 0 {
			return filter, store.InvalidInput("operator_id must be a positive integer")
		}
		filter.OperatorID = operatorID
	}
	filter.Method = domain.PaymentMethod(strings.TrimSpace(query.Get("method")))
	filter.TopN = parsePositiveLimit(query.Get("top"), domain.DefaultBestSellerLimit, 100)
	return filter, nil
}

func (a *API) parseReportTime(raw string) (time.Time, bool, error) {
	if day, err := time.ParseInLocation("2006-01-02", raw, a.service.Location()); err == nil {
		return day, true, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	return at, false, err
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash.Rounded())
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
