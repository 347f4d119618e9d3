package httputil

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &HTTPError{StatusCode: 503, Status: "Service Unavailable"}, true},
		{"rate limited", &HTTPError{StatusCode: 429, Status: "Too Many Requests"}, true},
		{"bad request", &HTTPError{StatusCode: 400, Status: "Bad Request"}, false},
		{"unauthorized", &HTTPError{StatusCode: 401, Status: "Unauthorized"}, false},
		{"wrapped http error", fmt.Errorf("write: %w", &HTTPError{StatusCode: 422, Status: "Unprocessable Entity"}), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, true},
		{"unrecognized", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
