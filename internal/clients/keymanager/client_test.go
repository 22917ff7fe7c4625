package keymanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openapim/devportal/internal/app/domain/application"
)

func TestNewValidatesBaseURL(t *testing.T) {
	for _, bad := range []string{"", "not-a-url", "ftp://km.local"} {
		if _, err := New(Config{BaseURL: bad}); err == nil {
			t.Fatalf("New(%q): expected error", bad)
		}
	}
}

func TestGetApplicationAccessKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["application_name"] != "my-app" || req["key_type"] != "PRODUCTION" {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":    "tok-1",
			"consumer_key":    "ck-1",
			"consumer_secret": "cs-1",
			"validity_secs":   3600,
			"token_scope":     "default",
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	material, err := client.GetApplicationAccessKey(context.Background(), "bob", "my-app",
		application.KeyTypeProduction, "https://cb", []string{"example.com"}, 3600, "default")
	if err != nil {
		t.Fatalf("GetApplicationAccessKey: %v", err)
	}
	if material.AccessToken != "tok-1" || material.ConsumerKey != "ck-1" || material.ValiditySecs != 3600 {
		t.Fatalf("material = %+v", material)
	}
}

func TestRegenerateApplicationAccessKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys/regenerate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["old_access_token"] != "tok-old" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-new"})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, err := client.RegenerateApplicationAccessKey(context.Background(), "default", "tok-old",
		nil, "ck-1", "cs-1", 3600)
	if err != nil {
		t.Fatalf("RegenerateApplicationAccessKey: %v", err)
	}
	if token != "tok-new" {
		t.Fatalf("token = %q, want tok-new", token)
	}
}

func TestErrorResponseSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "consumer key revoked", http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.GetApplicationAccessKey(context.Background(), "bob", "my-app",
		application.KeyTypeProduction, "", nil, 0, "")
	if err == nil {
		t.Fatal("expected error")
	}
}
