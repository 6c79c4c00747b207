package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/gin-gonic/gin"
)

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"record not found", utils.ErrorRecordNotFound, http.StatusNotFound, "not found"},
		{"insufficient balance", utils.ErrorInsufficientBalance, http.StatusConflict, "insufficient contract balance"},
		{"invalid state", utils.ErrorInvalidState, http.StatusConflict, "invalid state"},
		{"field error", utils.NewFieldError("qty_received", "must not be negative"), http.StatusUnprocessableEntity, "qty_received"},
		{"business error", utils.NewBusinessError("delivery order must have at least one line"), http.StatusBadRequest, "at least one line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondError(c, tt.err)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRespondErrorHidesPersistenceErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	driverErr := errors.New("Error 1062 (23000): Duplicate entry 'OD-000007' for key 'uniq_delivery_order_number'")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, driverErr)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "1062") || strings.Contains(w.Body.String(), "Duplicate entry") {
		t.Fatalf("driver error leaked to client: %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "internal error") {
		t.Fatalf("body = %q, want generic message", w.Body.String())
	}
}
