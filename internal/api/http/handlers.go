package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jekabolt/sales-rollup/internal/cache"
	"github.com/jekabolt/sales-rollup/internal/dto"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/window"
)

type ctxKey struct{}

const cacheHeader = "X-Cache"

// accountCtx resolves {accountID} to a configured account.
func (s *Server) accountCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.d.Accounts.Find(chi.URLParam(r, "accountID"))
		if err != nil {
			render.Render(w, r, ErrFromError(err))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(ctx context.Context) *entity.Account {
	acc, _ := ctx.Value(ctxKey{}).(*entity.Account)
	return acc
}

func dateRange(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	startDate, endDate := q.Get("start"), q.Get("end")
	if err := window.ValidateRange(startDate, endDate); err != nil {
		return "", "", err
	}
	return startDate, endDate, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.d.DB != nil {
		if err := s.d.DB.Ping(r.Context()); err != nil {
			slog.Default().ErrorContext(r.Context(), "health check failed",
				slog.String("err", err.Error()))
			resp.Status = "unavailable"
			resp.Database = err.Error()
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, resp)
			return
		}
		resp.Database = "ok"
	}
	render.JSON(w, r, resp)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	resp := make([]AccountResponse, 0, len(s.d.Accounts))
	for _, acc := range s.d.Accounts {
		resp = append(resp, AccountResponse{
			Id:         acc.Id,
			ShopDomain: acc.ShopDomain,
			Timezone:   acc.Timezone,
		})
	}
	render.JSON(w, r, resp)
}

// getRollups serves a reconciliation of [start, end], from cache unless
// refresh=true is given.
func (s *Server) getRollups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acc := accountFrom(ctx)

	startDate, endDate, err := dateRange(r)
	if err != nil {
		render.Render(w, r, ErrFromError(err))
		return
	}

	if r.URL.Query().Get("refresh") != "true" {
		resp, err := s.d.Cache.Get(ctx, acc.Id, startDate, endDate)
		switch {
		case err == nil:
			w.Header().Set(cacheHeader, "HIT")
			render.JSON(w, r, resp)
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			slog.Default().WarnContext(ctx, "can't read cached rollups",
				slog.String("account_id", acc.Id),
				slog.String("err", err.Error()))
		}
	}

	res, err := s.d.Reconciler.Reconcile(ctx, acc, startDate, endDate)
	if err != nil {
		slog.Default().ErrorContext(ctx, "can't reconcile rollups",
			slog.String("account_id", acc.Id),
			slog.String("start_date", startDate),
			slog.String("end_date", endDate),
			slog.String("err", err.Error()))
		render.Render(w, r, ErrFromError(err))
		return
	}

	resp := dto.ConvertReconciliationResult(res)
	if err := s.d.Cache.Set(ctx, resp); err != nil {
		slog.Default().WarnContext(ctx, "can't cache rollups",
			slog.String("run_id", res.RunId),
			slog.String("err", err.Error()))
	}
	w.Header().Set(cacheHeader, "MISS")
	render.JSON(w, r, resp)
}

var errNoStorage = errors.New("rollup storage is not configured")

func (s *Server) getStoredRollups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acc := accountFrom(ctx)

	if s.d.Rollups == nil {
		render.Render(w, r, newErrResponse(http.StatusNotImplemented, errNoStorage))
		return
	}

	startDate, endDate, err := dateRange(r)
	if err != nil {
		render.Render(w, r, ErrFromError(err))
		return
	}

	rollups, err := s.d.Rollups.GetDailyRollups(ctx, acc.Id, startDate, endDate)
	if err != nil {
		slog.Default().ErrorContext(ctx, "can't get stored rollups",
			slog.String("account_id", acc.Id),
			slog.String("err", err.Error()))
		render.Render(w, r, ErrFromError(err))
		return
	}
	render.JSON(w, r, dto.ConvertStoredRollups(acc.Id, startDate, endDate, rollups))
}

func (s *Server) getLastRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acc := accountFrom(ctx)

	if s.d.Runs == nil {
		render.Render(w, r, newErrResponse(http.StatusNotImplemented, errNoStorage))
		return
	}

	run, err := s.d.Runs.GetLastRun(ctx, acc.Id)
	if errors.Is(err, sql.ErrNoRows) {
		render.Render(w, r, newErrResponse(http.StatusNotFound, errors.New("no runs recorded")))
		return
	}
	if err != nil {
		slog.Default().ErrorContext(ctx, "can't get last run",
			slog.String("account_id", acc.Id),
			slog.String("err", err.Error()))
		render.Render(w, r, ErrFromError(err))
		return
	}
	render.JSON(w, r, dto.ConvertRollupRun(run))
}
