package handler

import (
	"errors"
	"net/http"

	referral "github.com/phbpx/referral-api"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const defaultMaxBodyBytes = 1 << 20

// Config tunes the referral handler.
type Config struct {
	MaxBodyBytes int64
}

type ReferralHandler struct {
	cfg       Config
	service   referral.ReferralService
	validator *referral.Validator
	log       *otelzap.SugaredLogger
}

func NewReferralHandler(cfg Config, service referral.ReferralService, log *otelzap.SugaredLogger) *ReferralHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &ReferralHandler{
		cfg:       cfg,
		service:   service,
		validator: referral.NewValidator(),
		log:       log,
	}
}

type submitResponse struct {
	Success    bool   `json:"success"`
	ReferrerID string `json:"referrer_id"`
	Message    string `json:"message"`
}

func (rh ReferralHandler) Submit(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		rh.fail(rw, r, referral.ErrMethodNotAllowed)
		return
	}

	sub, err := decodeSubmission(r, rh.cfg.MaxBodyBytes)
	if err != nil {
		// Carry on: the missing fields are reported by validation.
		rh.log.Ctx(ctx).Warnw("Submit", "error", err.Error())
	}

	referrer, client, err := rh.validator.Prepare(sub)
	if err != nil {
		rh.fail(rw, r, err)
		return
	}

	referrerID, err := rh.service.Submit(ctx, referrer, client)
	if err != nil {
		rh.fail(rw, r, err)
		return
	}

	rh.log.Ctx(ctx).Infow("Submit", "referrer_id", referrerID)
	respond(ctx, rw, http.StatusOK, submitResponse{
		Success:    true,
		ReferrerID: referrerID,
		Message:    "referral registered successfully",
	})
}

func (rh ReferralHandler) fail(rw http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var verr *referral.ValidationError
	switch {
	case errors.Is(err, referral.ErrMethodNotAllowed):
		respondErr(ctx, rw, http.StatusMethodNotAllowed, err.Error())
	case errors.As(err, &verr):
		rh.log.Ctx(ctx).Infow("Submit", "field", verr.Field, "error", verr.Msg)
		respondErr(ctx, rw, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, referral.ErrDuplicateClient):
		rh.log.Ctx(ctx).Infow("Submit", "error", err.Error())
		respondErr(ctx, rw, http.StatusBadRequest, err.Error())
	default:
		rh.log.Ctx(ctx).Errorw("Submit", "error", err.Error())
		respondErr(ctx, rw, http.StatusInternalServerError, "failed to register referral")
	}
}
