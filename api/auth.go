package api

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const clobAuthMessage = "This message attests that I control the given wallet"

// Auth signs L1 (wallet) requests and orders for one private key.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	now        func() time.Time
}

// NewAuth parses a hex private key, with or without 0x prefix.
func NewAuth(privateKeyHex string, chainID int64) (*Auth, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if chainID == 0 {
		chainID = 137
	}
	return &Auth{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		now:        time.Now,
	}, nil
}

// GetAddress returns the signer's wallet address.
func (a *Auth) GetAddress() common.Address {
	return a.address
}

// SignRequest builds the L1 headers used to create or derive API credentials.
func (a *Auth) SignRequest() (map[string]string, error) {
	return a.signClobAuth(a.now().Unix(), 0)
}

func (a *Auth) signClobAuth(timestamp int64, nonce int64) (map[string]string, error) {
	ts := strconv.FormatInt(timestamp, 10)

	sig, err := a.signTypedData(a.clobAuthTypedData(ts, nonce))
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": ts,
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}

func (a *Auth) clobAuthTypedData(timestamp string, nonce int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(a.chainID),
		},
		Message: map[string]interface{}{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthMessage,
		},
	}
}

func (a *Auth) signTypedData(typedData apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}
