package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/coopLoan/pkg/application"
	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/ledger"
	"github.com/mcclellann/coopLoan/pkg/lifecycle"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger    *ledger.Ledger
	validator *application.Validator
	log       *zap.Logger
}

func NewServer(l *ledger.Ledger, log *zap.Logger) *Server {
	return &Server{
		ledger:    l,
		validator: application.NewValidator(l.Policy()),
		log:       log,
	}
}

// Router registers every route. Fixed paths come before /loans/{id}.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/quote", s.quoteHandler).Methods("POST")
	router.HandleFunc("/loans/summary", s.summaryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/status", s.updateStatusHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/installments/{index:[0-9]+}/pay", s.payInstallmentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/transactions", s.transactionsHandler).Methods("GET")
	return router
}

// loanResponse adds repayment progress and the next installment due to a
// loan.
type loanResponse struct {
	*models.Loan
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
	NextDueIndex    *int            `json:"next_due_index,omitempty"`
}

func newLoanResponse(loan *models.Loan) loanResponse {
	resp := loanResponse{Loan: loan}
	resp.PaidAmount, resp.ProgressPercent = lifecycle.Progress(loan)
	if loan.Status == models.LoanStatusApproved {
		if next := lifecycle.NextDue(loan); next >= 0 {
			resp.NextDueIndex = &next
		}
	}
	return resp
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		resp.Error = apperr.ErrValidation.Error()
		resp.Fields = verr.Fields
	}
	if !ledger.IsClientError(err) {
		status = http.StatusInternalServerError
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) loanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.badRequest(w, "Invalid loan ID")
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var form application.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	terms, err := s.validator.Validate(form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.CreateLoan(terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount     decimal.Decimal `json:"amount"`
		TermMonths int             `json:"term_months"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	q, err := s.ledger.Quote(req.Amount, req.TermMonths)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListLoans()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		resp = append(resp, newLoanResponse(loan))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.LoanStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	loan, err := s.ledger.UpdateStatus(loanID, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanID(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.badRequest(w, "Invalid installment index")
		return
	}

	loan, err := s.ledger.ApplyPayment(loanID, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanID(w, r)
	if !ok {
		return
	}

	txs, err := s.ledger.TransactionsForLoan(loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteLoan(loanID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
