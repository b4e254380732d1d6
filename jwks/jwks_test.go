package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestJWKRoundTrip(t *testing.T) {
	key := generateKey(t)

	jwk := FromRSAPublicKey("kid-1", &key.PublicKey)
	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "RS256", jwk.Alg)
	assert.Equal(t, "sig", jwk.Use)

	decoded, err := jwk.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, decoded.N)
	assert.Equal(t, key.PublicKey.E, decoded.E)
}

func TestKeysByIDSkipsBrokenKeys(t *testing.T) {
	key := generateKey(t)
	set := JSONWebKeySet{Keys: []JSONWebKey{
		FromRSAPublicKey("good", &key.PublicKey),
		{Kid: "bad", Kty: "RSA", N: "!!!not-base64!!!", E: "AQAB"},
		{Kid: "ec", Kty: "EC"},
	}}

	keys := set.KeysByID()
	require.Len(t, keys, 1)
	assert.Contains(t, keys, "good")
}

func jwksServer(t *testing.T, set *JSONWebKeySet, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCacheResolvesKey(t *testing.T) {
	key := generateKey(t)
	set := &JSONWebKeySet{Keys: []JSONWebKey{FromRSAPublicKey("kid-1", &key.PublicKey)}}

	var hits atomic.Int32
	srv := jwksServer(t, set, &hits)
	cache := NewCache(srv.URL, time.Minute, nil)

	got, err := cache.Key(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, got.N)

	// A fresh cache hit must not refetch.
	_, err = cache.Key(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCacheUnknownKidFailsClosed(t *testing.T) {
	key := generateKey(t)
	set := &JSONWebKeySet{Keys: []JSONWebKey{FromRSAPublicKey("kid-1", &key.PublicKey)}}
	srv := jwksServer(t, set, nil)

	cache := NewCache(srv.URL, time.Minute, nil)
	_, err := cache.Key(context.Background(), "other-kid")
	assert.Error(t, err)
}

func TestCachePicksUpRotatedKey(t *testing.T) {
	oldKey := generateKey(t)
	set := &JSONWebKeySet{Keys: []JSONWebKey{FromRSAPublicKey("old", &oldKey.PublicKey)}}
	srv := jwksServer(t, set, nil)

	// Zero refresh interval: every lookup consults the endpoint.
	cache := NewCache(srv.URL, 0, nil)
	_, err := cache.Key(context.Background(), "old")
	require.NoError(t, err)

	newKey := generateKey(t)
	set.Keys = append(set.Keys, FromRSAPublicKey("new", &newKey.PublicKey))

	got, err := cache.Key(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, newKey.PublicKey.N, got.N)
}

func TestCacheUnreachableEndpoint(t *testing.T) {
	cache := NewCache("http://127.0.0.1:1/jwks.json", time.Minute, &http.Client{Timeout: 200 * time.Millisecond})
	_, err := cache.Key(context.Background(), "any")
	assert.Error(t, err)
}
