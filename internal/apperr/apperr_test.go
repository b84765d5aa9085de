package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("durationDays", "must be at least 1"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("schedule: %w", NotFound("medicine", "42")), http.StatusNotFound},
		{"upstream", &UpstreamAuthError{Provider: "calendar", Reason: "no token"}, http.StatusBadGateway},
		{"delivery", &DeliveryError{Provider: "smtp", Detail: "550"}, http.StatusBadGateway},
		{"store", Store("due reminders", errors.New("connection refused")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: HTTPStatus = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestStoreKeepsNotFound(t *testing.T) {
	t.Parallel()

	err := Store("get medicine", NotFound("medicine", "42"))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found to pass through, got %T", err)
	}

	var se *StoreError
	if errors.As(Store("get medicine", errors.New("io")), &se) == false {
		t.Fatal("expected plain errors to be wrapped as StoreError")
	}
	if Store("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
