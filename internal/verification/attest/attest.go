// Package attest submits the one-time on-chain write recording that a wallet
// address has passed identity verification. The write goes through a signed
// relay call; at-most-once semantics are enforced by the reconciler, which
// checks the stored attestation record before calling Attest.
package attest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	dErrors "veriflow/pkg/domain-errors"
)

// contractFunction is the registry function invoked on the attestation
// contract for every verified wallet.
const contractFunction = "markVerified"

// Attester performs the on-chain write and returns the transaction hash.
type Attester interface {
	Attest(ctx context.Context, walletAddress string) (txHash string, err error)
}

// RelayAttester posts a signed payload to an attestation relay that holds the
// contract connection. The authority signing key is configuration, never
// derived from request data.
type RelayAttester struct {
	endpoint   string
	signingKey []byte
	client     *http.Client
}

func NewRelayAttester(endpoint, signingKey string, timeout time.Duration) *RelayAttester {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelayAttester{
		endpoint:   endpoint,
		signingKey: []byte(signingKey),
		client:     &http.Client{Timeout: timeout},
	}
}

type relayRequest struct {
	Function      string `json:"function"`
	WalletAddress string `json:"walletAddress"`
	Nonce         string `json:"nonce"`
	IssuedAt      int64  `json:"issuedAt"`
}

type relayResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

func (a *RelayAttester) Attest(ctx context.Context, walletAddress string) (string, error) {
	if walletAddress == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "wallet address is required")
	}

	body, err := json.Marshal(relayRequest{
		Function:      contractFunction,
		WalletAddress: walletAddress,
		Nonce:         uuid.NewString(),
		IssuedAt:      time.Now().Unix(),
	})
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAttestationFailed, "encode attestation payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAttestationFailed, "build attestation request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Attestor-Signature", a.sign(body))

	resp, err := a.client.Do(req)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAttestationFailed, "attestation relay unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", dErrors.New(dErrors.CodeAttestationFailed,
			fmt.Sprintf("attestation relay returned %d", resp.StatusCode))
	}

	var decoded relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", dErrors.Wrap(dErrors.CodeAttestationFailed, "decode relay response", err)
	}
	if decoded.Error != "" {
		return "", dErrors.New(dErrors.CodeAttestationFailed, decoded.Error)
	}
	if decoded.TxHash == "" {
		return "", dErrors.New(dErrors.CodeAttestationFailed, "relay returned no transaction hash")
	}
	return decoded.TxHash, nil
}

// sign computes a keyed Keccak-256 digest over the canonical payload. The
// relay recomputes the digest with the shared authority key to authenticate
// the write.
func (a *RelayAttester) sign(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(a.signingKey)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
