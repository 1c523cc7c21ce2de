package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetClientIsSingleton(t *testing.T) {
	if GetClient() != GetClient() {
		t.Fatal("GetClient should return the same instance")
	}
	if GetClient().Timeout != 0 {
		t.Fatal("download client must not carry an overall timeout")
	}
}

func TestNewInjectsHeaders(t *testing.T) {
	var agent, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := New(Options{Headers: http.Header{
		"User-Agent":    {"resumable-fetcher/1.0"},
		"Authorization": {"Bearer default"},
	}})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer explicit")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if agent != "resumable-fetcher/1.0" {
		t.Errorf("User-Agent = %q", agent)
	}
	if auth != "Bearer explicit" {
		t.Errorf("Authorization = %q, request header should win", auth)
	}
}
