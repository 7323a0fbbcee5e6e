package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/manuscripts/ms-1":               "/v1/manuscripts/:id",
		"/v1/manuscripts/ms-1/transitions":   "/v1/manuscripts/:id/transitions",
		"/v1/manuscripts/ms-1/decision":      "/v1/manuscripts/:id/decision",
		"/v1/cycles/abc":                     "/v1/cycles/:id",
		"/v1/cycles/abc/galley":              "/v1/cycles/:id/galley",
		"/v1/auth/token":                     "/v1/auth/token",
		"/v1/manuscripts/ms-1?include=audit": "/v1/manuscripts/:id",
		"/healthz":                           "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
