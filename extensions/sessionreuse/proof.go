package sessionreuse

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// HeaderSessionProof carries a session proof on a request.
const HeaderSessionProof = "PAYMENT-SESSION"

// SessionProof is an unforgeable claim that the bearer previously paid for
// a resource. The signature is an EIP-191 personal-sign over the canonical
// proof message; the recovered address must equal Payer.
type SessionProof struct {
	Payer     string `json:"payer"`
	Resource  string `json:"resource"`
	IssuedAt  int64  `json:"issuedAt"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// proofMessage is the exact byte string that gets signed. Every field that
// binds the proof to a payer, resource and moment is part of it.
func proofMessage(payer, resource string, issuedAt int64, nonce string) []byte {
	return []byte(fmt.Sprintf("x402-session\npayer: %s\nresource: %s\nissuedAt: %d\nnonce: %s",
		strings.ToLower(payer), resource, issuedAt, nonce))
}

// personalHash applies the EIP-191 personal message prefix.
func personalHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// SignProof creates a signed session proof for a resource.
func SignProof(key *ecdsa.PrivateKey, resource string) (SessionProof, error) {
	payer := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	issuedAt := time.Now().Unix()
	nonce := uuid.NewString()

	signature, err := crypto.Sign(personalHash(proofMessage(payer, resource, issuedAt, nonce)), key)
	if err != nil {
		return SessionProof{}, fmt.Errorf("failed to sign session proof: %w", err)
	}

	// Shift V into the 27/28 convention used on the wire.
	signature[64] += 27

	return SessionProof{
		Payer:     payer,
		Resource:  resource,
		IssuedAt:  issuedAt,
		Nonce:     nonce,
		Signature: hexutil.Encode(signature),
	}, nil
}

// VerifyProof checks a proof's signature, freshness and audience against
// the resource currently being requested. On success it returns the
// lower-cased payer identity.
func VerifyProof(proof SessionProof, resource string, window time.Duration) (string, error) {
	if proof.Resource != resource {
		return "", fmt.Errorf("session proof bound to %s, not %s", proof.Resource, resource)
	}

	issued := time.Unix(proof.IssuedAt, 0)
	now := time.Now()
	if issued.After(now.Add(30 * time.Second)) {
		return "", fmt.Errorf("session proof issued in the future")
	}
	if now.Sub(issued) > window {
		return "", fmt.Errorf("session proof expired")
	}

	signature, err := hexutil.Decode(proof.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid proof signature encoding: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("invalid proof signature length: %d", len(signature))
	}

	// Normalize V back to the 0/1 recovery id.
	recoverable := make([]byte, 65)
	copy(recoverable, signature)
	if recoverable[64] >= 27 {
		recoverable[64] -= 27
	}

	hash := personalHash(proofMessage(proof.Payer, proof.Resource, proof.IssuedAt, proof.Nonce))
	pubkey, err := crypto.SigToPub(hash, recoverable)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}

	recovered := strings.ToLower(crypto.PubkeyToAddress(*pubkey).Hex())
	if recovered != strings.ToLower(proof.Payer) {
		return "", fmt.Errorf("session proof signer mismatch")
	}

	return recovered, nil
}

// EncodeProofHeader encodes a proof into its header value.
func EncodeProofHeader(proof SessionProof) (string, error) {
	data, err := json.Marshal(proof)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeProofHeader parses a session proof header value.
func DecodeProofHeader(header string) (SessionProof, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return SessionProof{}, fmt.Errorf("invalid session proof encoding: %w", err)
	}

	var proof SessionProof
	if err := json.Unmarshal(data, &proof); err != nil {
		return SessionProof{}, fmt.Errorf("invalid session proof: %w", err)
	}
	return proof, nil
}
