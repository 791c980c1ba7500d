package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"finman/internal/auth"
	"finman/internal/chart"
	"finman/internal/core"
	"finman/internal/log"
)

type contextKey string

const userContextKey contextKey = "user"

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)
	return user
}

type recordView struct {
	Index       int         `json:"index"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
	Date        string      `json:"date"`
}

func newRecordView(index int, r core.Record) recordView {
	return recordView{
		Index:       index,
		Description: r.Description,
		Amount:      json.Number(r.Amount.String()),
		Category:    r.Category,
		Date:        core.FormatTimestamp(r.Timestamp),
	}
}

type categoryView struct {
	Category string      `json:"category"`
	Total    json.Number `json:"total"`
}

type monthView struct {
	Month string      `json:"month"`
	Net   json.Number `json:"net"`
}

type reportView struct {
	TotalIncome   json.Number    `json:"total_income"`
	TotalExpense  json.Number    `json:"total_expense"`
	Net           json.Number    `json:"net"`
	CategorySpend []categoryView `json:"category_spend"`
	MonthlyTrend  []monthView    `json:"monthly_trend"`
}

func newReportView(r core.Report) reportView {
	view := reportView{
		TotalIncome:   json.Number(r.TotalIncome.String()),
		TotalExpense:  json.Number(r.TotalExpense.String()),
		Net:           json.Number(r.Net().String()),
		CategorySpend: make([]categoryView, 0, len(r.CategorySpend)),
		MonthlyTrend:  make([]monthView, 0, len(r.MonthlyTrend)),
	}
	for _, c := range r.CategorySpend {
		view.CategorySpend = append(view.CategorySpend, categoryView{Category: c.Category, Total: json.Number(c.Total.String())})
	}
	for _, m := range r.MonthlyTrend {
		view.MonthlyTrend = append(view.MonthlyTrend, monthView{Month: m.Month.String(), Net: json.Number(m.Net.String())})
	}
	return view
}

// requireUser authenticates the request with HTTP Basic credentials.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			writeError(w, r, log.OpLogin, auth.ErrInvalidCredentials)
			return
		}
		if err := s.auth.Verify(r.Context(), user, pass); err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
					WarnContext(r.Context(), "Authentication failed", log.FieldUser, user)
			}
			writeError(w, r, log.OpLogin, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUser, user))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, log.OpRegister, err)
		return
	}
	if err := s.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, r, log.OpRegister, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "User registered", log.FieldUser, req.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	rs, err := s.recordStore(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	records := rs.List()
	views := make([]recordView, 0, len(records))
	for i, rec := range records {
		views = append(views, newRecordView(i, rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": views})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, log.OpAdd, err)
		return
	}
	rec, err := req.toRecord()
	if err != nil {
		writeError(w, r, log.OpAdd, err)
		return
	}
	rs, err := s.recordStore(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpAdd, err)
		return
	}
	stored, err := rs.Add(r.Context(), rec)
	if err != nil {
		writeError(w, r, log.OpAdd, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRecordView(rs.Len()-1, stored))
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var req recordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	rs, err := s.recordStore(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	updated, err := rs.Update(r.Context(), index, patch)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(index, updated))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	rs, err := s.recordStore(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	removed, err := rs.Delete(r.Context(), index)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(index, removed))
}

// report returns the user's report and the ledger revision it reflects,
// from the cache when an entry for that revision exists.
func (s *Server) report(ctx context.Context, user string) (core.Report, int64, error) {
	rs, err := s.recordStore(ctx, user)
	if err != nil {
		return core.Report{}, 0, err
	}
	rev := rs.Revision()
	if rep, ok := s.reports.Report(user, rev); ok {
		return rep, rev, nil
	}
	rep, rev, err := rs.ReportWithRevision()
	if err != nil {
		return core.Report{}, 0, err
	}
	s.reports.PutReport(user, rev, rep)
	return rep, rev, nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, _, err := s.report(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpReport, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(rep))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	kind, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok || !slices.Contains(chart.Kinds(), kind) {
		writeError(w, r, log.OpRender, errNotFound)
		return
	}
	user := userFrom(r.Context())

	rep, rev, err := s.report(r.Context(), user)
	if err != nil {
		writeError(w, r, log.OpRender, err)
		return
	}
	png, cached := s.reports.Chart(user, kind, rev)
	if !cached {
		png, err = s.renderer.Render(kind, rep)
		if err != nil {
			writeError(w, r, log.OpRender, err)
			return
		}
		s.reports.PutChart(user, kind, rev, png)
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
