package sessionreuse

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402labs/x402-go"
)

func requestWithProof(t *testing.T, header, resource string) *x402.RequestContext {
	t.Helper()

	return &x402.RequestContext{
		Resource: resource,
		Method:   "GET",
		Header: func(name string) string {
			if name == HeaderSessionProof {
				return header
			}
			return ""
		},
	}
}

func TestHookGrantsBypass(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	store := NewMemorySessionStore()
	require.NoError(t, store.Record(context.Background(), "/weather", payer, time.Hour))

	proof, err := SignProof(key, "/weather")
	require.NoError(t, err)
	header, err := EncodeProofHeader(proof)
	require.NoError(t, err)

	hook := NewHook(store, time.Hour)
	rc := requestWithProof(t, header, "/weather")
	require.NoError(t, hook.HandleRequest(context.Background(), rc))

	granted, ok := rc.Bypassed()
	assert.True(t, ok)
	assert.Equal(t, proof.Payer, granted)
}

func TestHookRejectsWithoutRecordedSession(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Valid proof, but this payer never settled a payment here.
	proof, err := SignProof(key, "/weather")
	require.NoError(t, err)
	header, err := EncodeProofHeader(proof)
	require.NoError(t, err)

	hook := NewHook(NewMemorySessionStore(), time.Hour)
	rc := requestWithProof(t, header, "/weather")
	err = hook.HandleRequest(context.Background(), rc)
	assert.ErrorContains(t, err, "no recorded session")

	_, ok := rc.Bypassed()
	assert.False(t, ok)
}

func TestHookRejectsProofForOtherResource(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	store := NewMemorySessionStore()
	require.NoError(t, store.Record(context.Background(), "/weather", payer, time.Hour))
	require.NoError(t, store.Record(context.Background(), "/joke", payer, time.Hour))

	// A /weather proof must not unlock /joke, even though the payer has a
	// session there too.
	proof, err := SignProof(key, "/weather")
	require.NoError(t, err)
	header, err := EncodeProofHeader(proof)
	require.NoError(t, err)

	hook := NewHook(store, time.Hour)
	rc := requestWithProof(t, header, "/joke")
	err = hook.HandleRequest(context.Background(), rc)
	assert.Error(t, err)

	_, ok := rc.Bypassed()
	assert.False(t, ok)
}

func TestHookRejectsMissingOrMalformedHeader(t *testing.T) {
	hook := NewHook(NewMemorySessionStore(), time.Hour)

	rc := requestWithProof(t, "", "/weather")
	assert.Error(t, hook.HandleRequest(context.Background(), rc))

	rc = requestWithProof(t, "not-a-proof", "/weather")
	assert.Error(t, hook.HandleRequest(context.Background(), rc))
}

func TestHookDefaultWindow(t *testing.T) {
	hook := NewHook(NewMemorySessionStore(), 0)
	assert.Equal(t, DefaultWindow, hook.window)
}
