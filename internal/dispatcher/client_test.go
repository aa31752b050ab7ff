package dispatcher

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newAuthServer(t *testing.T, key *rsa.PrivateKey, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	challengePlain := []byte("the-challenge")

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, challengePlain)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(authChallengeResponse{
			ID:        "challenge-1",
			Challenge: base64.StdEncoding.EncodeToString(ciphertext),
		})
	})
	mux.HandleFunc("/auth/challenge-1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		plaintext, err := base64.StdEncoding.DecodeString(body["response"])
		require.NoError(t, err)
		require.Equal(t, challengePlain, plaintext)
		json.NewEncoder(w).Encode(authSolveResponse{JWT: "test-jwt"})
	})
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}
	return httptest.NewServer(mux)
}

func TestAuthenticateSolvesChallenge(t *testing.T) {
	key := newTestKey(t)
	srv := newAuthServer(t, key, nil)
	defer srv.Close()

	c := NewClient(srv.URL, key)
	require.NoError(t, c.authenticate(context.Background()))
	require.Equal(t, "test-jwt", c.token)
}

func TestGetSubmissionReturnsNotFoundAsNoWork(t *testing.T) {
	key := newTestKey(t)
	srv := newAuthServer(t, key, map[string]http.HandlerFunc{
		"/submissions": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, key)
	_, ok, err := c.GetSubmission(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetSubmissionDecodesPayload(t *testing.T) {
	key := newTestKey(t)
	srv := newAuthServer(t, key, map[string]http.HandlerFunc{
		"/submissions": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(SubmissionInfo{ID: "s1", ProblemID: "p1", Language: "cpp", SourceCode: "int main(){}"})
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, key)
	sub, ok, err := c.GetSubmission(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", sub.ID)
}

func TestDoAuthedRetriesOnceAfter401(t *testing.T) {
	key := newTestKey(t)
	attempts := 0
	srv := newAuthServer(t, key, map[string]http.HandlerFunc{
		"/submissions": func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(SubmissionInfo{ID: "retry-ok"})
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, key)
	c.token = "stale-token"
	sub, ok, err := c.GetSubmission(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "retry-ok", sub.ID)
	require.Equal(t, 2, attempts)
}

func TestLoadPrivateKeyRejectsMissingFile(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/path/key.pem")
	require.Error(t, err)
}
