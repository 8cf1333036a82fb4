package gcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/dropline-backend/pkg/storage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &Client{
		httpClient: server.Client(),
		bucket:     "dropline-media",
		apiBase:    server.URL,
		publicBase: "https://cdn.dropline.app",
		tokenSource: &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
			return "test-token", time.Now().Add(time.Hour), nil
		}},
	}
}

func TestDeleteObjectSuccess(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteObject(context.Background(), "raw/u1/clip.mp4"); err != nil {
		t.Fatalf("DeleteObject returned error: %v", err)
	}
	if gotPath != "/b/dropline-media/o/raw%2Fu1%2Fclip.mp4" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
}

func TestDeleteObjectNotFoundMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
	})

	err := client.DeleteObject(context.Background(), "raw/missing.mp4")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestDeleteObjectServerErrorIsNotNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.DeleteObject(context.Background(), "raw/u1/clip.mp4")
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("503 must not be treated as not found: %v", err)
	}
}

func TestDeleteObjectRequiresKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if err := client.DeleteObject(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestPingChecksBucketListing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/b/dropline-media/o") {
			t.Errorf("unexpected ping path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("missing storage.objects.list"))
	})

	err := client.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "storage.objects.list") {
		t.Fatalf("expected forbidden ping error with body, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	client := &Client{publicBase: "https://cdn.dropline.app/"}
	if got := client.PublicURL("images/u1/a.png"); got != "https://cdn.dropline.app/images/u1/a.png" {
		t.Fatalf("unexpected public url %q", got)
	}
}

func TestTokenSourceCachesUntilNearExpiry(t *testing.T) {
	calls := 0
	ts := &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
		calls++
		return "tok", time.Now().Add(time.Hour), nil
	}}
	for i := 0; i < 3; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("token: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestServiceAccountTokenSourceSignsAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	var tokenURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(tokenURI))
		if err != nil {
			t.Errorf("assertion did not verify: %v", err)
		}
		if claims["iss"] != "uploader@dropline.iam.gserviceaccount.com" {
			t.Errorf("unexpected issuer %v", claims["iss"])
		}
		if claims["scope"] != scope {
			t.Errorf("unexpected scope %v", claims["scope"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sa-token","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	tokenURI = server.URL

	creds, err := json.Marshal(map[string]string{
		"client_email": "uploader@dropline.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    tokenURI,
	})
	if err != nil {
		t.Fatalf("marshal creds: %v", err)
	}

	ts, err := newServiceAccountTokenSource(server.Client(), string(creds))
	if err != nil {
		t.Fatalf("newServiceAccountTokenSource: %v", err)
	}
	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "sa-token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestServiceAccountTokenSourceRejectsBadKey(t *testing.T) {
	_, err := newServiceAccountTokenSource(http.DefaultClient, `{"client_email":"a@b","private_key":"not a key"}`)
	if err == nil {
		t.Fatal("expected error for garbage key")
	}
}
