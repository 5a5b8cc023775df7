package api

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := NewAuth("0x"+hex.EncodeToString(crypto.FromECDSA(key)), 137)
	if err != nil {
		t.Fatalf("NewAuth() error: %v", err)
	}
	return auth
}

func TestNewAuth_InvalidKey(t *testing.T) {
	if _, err := NewAuth("not-a-key", 137); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestNewAuth_DefaultChain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	auth, err := NewAuth(hex.EncodeToString(crypto.FromECDSA(key)), 0)
	if err != nil {
		t.Fatalf("NewAuth() error: %v", err)
	}
	if auth.chainID != 137 {
		t.Errorf("chainID = %d, want 137", auth.chainID)
	}
	if auth.GetAddress() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("address does not match key")
	}
}

func TestSignRequest_RecoversSigner(t *testing.T) {
	auth := newTestAuth(t)
	auth.now = func() time.Time { return time.Unix(1700000000, 0) }

	headers, err := auth.SignRequest()
	if err != nil {
		t.Fatalf("SignRequest() error: %v", err)
	}

	for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
		if headers[h] == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if headers["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("timestamp = %s", headers["POLY_TIMESTAMP"])
	}
	if headers["POLY_NONCE"] != "0" {
		t.Errorf("nonce = %s", headers["POLY_NONCE"])
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(headers["POLY_SIGNATURE"], "0x"))
	if err != nil || len(sig) != 65 {
		t.Fatalf("bad signature encoding: %v len=%d", err, len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}
	sig[64] -= 27

	hash, _, err := apitypes.TypedDataAndHash(auth.clobAuthTypedData("1700000000", 0))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != auth.GetAddress() {
		t.Error("recovered address does not match signer")
	}
}
