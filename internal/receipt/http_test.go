package receipt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier_Verify(t *testing.T) {
	var gotBody verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(verifyResponse{
			Valid:         true,
			ProductID:     "speaking_4",
			TransactionID: "txn-42",
		})
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(HTTPVerifierConfig{
		Endpoints: map[Platform]string{PlatformAppStore: srv.URL},
	})
	require.NoError(t, err)

	out, err := v.Verify(context.Background(), PlatformAppStore, []byte("receipt-blob"))
	require.NoError(t, err)

	assert.True(t, out.Valid)
	assert.Equal(t, "speaking_4", out.ProductID)
	assert.Equal(t, "txn-42", out.TransactionID)
	assert.Equal(t, PlatformAppStore, gotBody.Platform)
	assert.Equal(t, []byte("receipt-blob"), gotBody.ReceiptBlob)
}

func TestHTTPVerifier_InvalidReceiptIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(HTTPVerifierConfig{
		Endpoints: map[Platform]string{PlatformPlayStore: srv.URL},
	})
	require.NoError(t, err)

	out, err := v.Verify(context.Background(), PlatformPlayStore, []byte("bad"))
	require.NoError(t, err)
	assert.False(t, out.Valid)
}

func TestHTTPVerifier_StorefrontError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(HTTPVerifierConfig{
		Endpoints: map[Platform]string{PlatformAppStore: srv.URL},
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), PlatformAppStore, []byte("blob"))
	assert.Error(t, err)
}

func TestHTTPVerifier_UnknownPlatform(t *testing.T) {
	v, err := NewHTTPVerifier(HTTPVerifierConfig{
		Endpoints: map[Platform]string{PlatformAppStore: "http://localhost:1"},
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), PlatformPlayStore, []byte("blob"))
	assert.Error(t, err)
}

func TestNewHTTPVerifier_RequiresEndpoints(t *testing.T) {
	_, err := NewHTTPVerifier(HTTPVerifierConfig{})
	assert.Error(t, err)
}
