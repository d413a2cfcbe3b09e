package oracle

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ObservationDigest is the keccak256 hash reporters sign. The encoding is the
// canonical pipe-joined string form so every reporter produces the same
// digest for the same tuple.
func ObservationDigest(obs Observation) []byte {
	msg := fmt.Sprintf("%s|%s|%s|%d", obs.ChainID, obs.Total.String(), obs.Locked.String(), obs.Nonce)
	return crypto.Keccak256([]byte(msg))
}

// SignObservation produces a 65-byte recoverable signature over the
// observation digest.
func SignObservation(obs Observation, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(ObservationDigest(obs), key)
}

// RecoverReporter returns the address that signed the observation.
func RecoverReporter(obs Observation, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(ObservationDigest(obs), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
