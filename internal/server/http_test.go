package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, mapErrorStatus(404))
	assert.Equal(t, http.StatusBadRequest, mapErrorStatus(errs.ErrCodePlanNotFound))
	assert.Equal(t, http.StatusBadRequest, mapErrorStatus(errs.ErrCodeCurrencyMismatch))
	assert.Equal(t, http.StatusPaymentRequired, mapErrorStatus(errs.ErrCodeInvalidMandate))
	assert.Equal(t, http.StatusConflict, mapErrorStatus(errs.ErrCodeItemAlreadyScheduled))
	assert.Equal(t, http.StatusConflict, mapErrorStatus(errs.ErrCodeCouponAlreadyRedeemed))
	assert.Equal(t, http.StatusConflict, mapErrorStatus(errs.ErrCodeCouponExhausted))
	assert.Equal(t, http.StatusInternalServerError, mapErrorStatus(0))
	assert.Equal(t, http.StatusInternalServerError, mapErrorStatus(990001))
}

func TestCustomErrorEncoderCodedError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)

	err := errs.New(errs.ErrCodePlanNotFound, errs.ReasonPlanNotFound, "plan %q is not configured", "gold")
	customErrorEncoder(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(errs.ErrCodePlanNotFound), body["code"])
	assert.Equal(t, errs.ReasonPlanNotFound, body["reason"])
	assert.Contains(t, body["message"], "gold")
}

func TestWebhookPaymentID(t *testing.T) {
	form := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments",
		strings.NewReader("id=tr_1234"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, "tr_1234", webhookPaymentID(form))

	query := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments?id=tr_5678", nil)
	assert.Equal(t, "tr_5678", webhookPaymentID(query))

	// Form body wins over the query string.
	both := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments?id=tr_9",
		strings.NewReader("id=tr_1234"))
	both.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, "tr_1234", webhookPaymentID(both))

	empty := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", nil)
	assert.Equal(t, "", webhookPaymentID(empty))
}
