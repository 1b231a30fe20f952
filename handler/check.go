package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/phbpx/referral-api/pkg/database"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

type CheckHandler struct {
	db  *sqlx.DB
	log *otelzap.SugaredLogger
}

func NewCheckHandler(db *sqlx.DB, log *otelzap.SugaredLogger) *CheckHandler {
	return &CheckHandler{
		db:  db,
		log: log,
	}
}

// Readiness checks if the database is ready and if not will return a 500 status.
func (ch CheckHandler) Readiness(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	status := "ok"
	statusCode := http.StatusOK
	if err := database.StatusCheck(ctx, ch.db); err != nil {
		ch.log.Ctx(ctx).Errorw("Readiness", "error", err.Error())
		status = "db not ready"
		statusCode = http.StatusInternalServerError
	}

	respond(ctx, rw, statusCode, map[string]string{"status": status})
}
