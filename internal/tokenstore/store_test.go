package tokenstore

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

// runContract ejercita el contrato común de Store.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Clear(ctx); _ = s.Close() })

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	p1 := types.TokenPair{AccessToken: accessToken(t, exp), RefreshToken: "rt-1"}
	require.NoError(t, s.Save(ctx, p1))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1.AccessToken, got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
	assert.True(t, exp.Equal(got.AccessTokenExpiry), "expiry is derived from the access token")

	p2 := types.TokenPair{AccessToken: "opaque-access-2", RefreshToken: "rt-2"}
	require.NoError(t, s.Save(ctx, p2))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-access-2", got.AccessToken)
	assert.Equal(t, "rt-2", got.RefreshToken)

	assert.ErrorIs(t, s.Save(ctx, types.TokenPair{AccessToken: "only-access"}), ErrIncompletePair)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	runContract(t, NewMemory())
}

func TestFileStore_Plain(t *testing.T) {
	s, err := NewFile(filepath.Join(t.TempDir(), "session.json"), "")
	require.NoError(t, err)
	runContract(t, s)
}

func TestFileStore_Encrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	s, err := NewFile(path, key)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), types.TokenPair{AccessToken: "acc-secret", RefreshToken: "ref-secret"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ref-secret")

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, s.Clear(context.Background()))
	runContract(t, s)
}

func TestFileStore_PartialDocumentIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accessToken":"a"}`), 0o600))
	s, err := NewFile(path, "")
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_Drivers(t *testing.T) {
	s, err := New(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = New(Config{Driver: "file"})
	assert.Error(t, err)

	_, err = New(Config{Driver: "etcd"})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SESSIONKIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SESSIONKIT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	runContract(t, NewRedisFromClient(client, "sessionkit-test"))
}
