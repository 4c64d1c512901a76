package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := New(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("hola mundo ✓ secreto"), []byte("session.json"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hola")

	pt, err := box.Open(sealed, []byte("session.json"))
	require.NoError(t, err)
	assert.Equal(t, "hola mundo ✓ secreto", string(pt))
}

func TestOpen_DetectsTamperAndWrongAAD(t *testing.T) {
	box, err := New(hex.EncodeToString(testKey()))
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("top secret"), nil)
	require.NoError(t, err)

	_, err = box.Open(sealed, []byte("other"))
	assert.Error(t, err)

	parts := strings.Split(sealed, "|")
	ct, _ := base64.StdEncoding.DecodeString(parts[1])
	ct[0] ^= 0xFF
	_, err = box.Open(parts[0]+"|"+base64.StdEncoding.EncodeToString(ct), nil)
	assert.Error(t, err)

	_, err = box.Open("garbage", nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrKeyLength)
}
