package auth

import (
	"net/http"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
		{"valid token", "Bearer abc123", "abc123", false},
		{"valid token with padding", "Bearer   abc123  ", "abc123", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(r)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []string{"alpha", "beta"}

	if !Authenticate("alpha", tokens) {
		t.Error("expected alpha to authenticate")
	}
	if !Authenticate("beta", tokens) {
		t.Error("expected beta to authenticate")
	}
	if Authenticate("gamma", tokens) {
		t.Error("expected gamma to fail")
	}
	if Authenticate("", tokens) {
		t.Error("expected empty token to fail")
	}
	if Authenticate("alpha", nil) {
		t.Error("expected no configured tokens to always fail")
	}
}
