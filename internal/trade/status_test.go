package trade

import (
	"net/http"
	"testing"

	"github.com/tradeflow/margin-engine/internal/engine"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind engine.Kind
		want int
	}{
		{engine.KindValidation, http.StatusBadRequest},
		{engine.KindInsufficientFunds, http.StatusPaymentRequired},
		{engine.KindInvalidState, http.StatusConflict},
		{engine.KindNotFound, http.StatusNotFound},
		{engine.KindLimitExceeded, http.StatusUnprocessableEntity},
		{engine.KindInvalidAccountState, http.StatusUnprocessableEntity},
		{engine.KindQuoteUnavailable, http.StatusServiceUnavailable},
		{engine.KindPersistence, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.kind); got != tc.want {
			t.Errorf("statusFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
