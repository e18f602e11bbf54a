package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/aide/internal/agent"
	"github.com/nextlevelbuilder/aide/internal/llm"
)

type fakeAgent struct {
	resp *agent.Response
	err  error
	last agent.IncomingMessage
}

func (f *fakeAgent) Handle(_ context.Context, msg agent.IncomingMessage) (*agent.Response, error) {
	f.last = msg
	return f.resp, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

func post(t *testing.T, h http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	a := &fakeAgent{resp: &agent.Response{Content: "ok"}}
	h := NewServer(a, &fakeEmbedder{}, "secret").Handler()

	body := `{"platform":"discord","platform_user_id":"u","platform_channel_id":"c","content":"hi"}`

	t.Run("missing token", func(t *testing.T) {
		if rec := post(t, h, "/message", "", body); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
	t.Run("wrong token", func(t *testing.T) {
		if rec := post(t, h, "/message", "wrong", body); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
	t.Run("valid token", func(t *testing.T) {
		if rec := post(t, h, "/message", "secret", body); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
	t.Run("health is open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestAuthDisabled(t *testing.T) {
	a := &fakeAgent{resp: &agent.Response{Content: "ok"}}
	h := NewServer(a, &fakeEmbedder{}, "").Handler()
	body := `{"platform":"p","platform_user_id":"u","platform_channel_id":"c","content":"hi"}`
	if rec := post(t, h, "/message", "", body); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestHandleMessage(t *testing.T) {
	a := &fakeAgent{resp: &agent.Response{Content: "hello there"}}
	h := NewServer(a, &fakeEmbedder{}, "").Handler()

	rec := post(t, h, "/message", "", `{"platform":"telegram","platform_user_id":"42","platform_channel_id":"42","content":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp agent.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if a.last.Platform != "telegram" || a.last.PlatformUserID != "42" {
		t.Errorf("decoded message = %+v", a.last)
	}
}

func TestHandleMessage_Errors(t *testing.T) {
	t.Run("bad json", func(t *testing.T) {
		h := NewServer(&fakeAgent{}, &fakeEmbedder{}, "").Handler()
		if rec := post(t, h, "/message", "", "{nope"); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
	t.Run("agent transport failure", func(t *testing.T) {
		h := NewServer(&fakeAgent{err: errors.New("db down")}, &fakeEmbedder{}, "").Handler()
		body := `{"platform":"p","platform_user_id":"u","platform_channel_id":"c","content":"x"}`
		if rec := post(t, h, "/message", "", body); rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestHandleEmbed(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := NewServer(&fakeAgent{}, &fakeEmbedder{vec: []float32{0.5, 0.25}}, "").Handler()
		rec := post(t, h, "/embed", "", `{"text":"hello"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Embedding) != 2 {
			t.Errorf("embedding len = %d, want 2", len(resp.Embedding))
		}
	})
	t.Run("empty text", func(t *testing.T) {
		h := NewServer(&fakeAgent{}, &fakeEmbedder{}, "").Handler()
		if rec := post(t, h, "/embed", "", `{"text":"  "}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
	t.Run("no embedder degrades to null", func(t *testing.T) {
		h := NewServer(&fakeAgent{}, &fakeEmbedder{err: llm.ErrNoEmbedder}, "").Handler()
		rec := post(t, h, "/embed", "", `{"text":"x"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp["embedding"] != nil {
			t.Errorf("embedding = %v, want null", resp["embedding"])
		}
	})
	t.Run("embedder failure", func(t *testing.T) {
		h := NewServer(&fakeAgent{}, &fakeEmbedder{err: errors.New("upstream")}, "").Handler()
		if rec := post(t, h, "/embed", "", `{"text":"x"}`); rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", ""},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
