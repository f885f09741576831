package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"cybermesh/node/pkg/config"
)

func deriveIdentity(cfg *config.NodeConfig) (crypto.PrivKey, peer.ID, error) {
	// hex seed, at least 32 bytes
	if cfg.IdentitySeed != "" {
		seed, err := hex.DecodeString(cfg.IdentitySeed)
		if err != nil || len(seed) < ed25519.SeedSize {
			return nil, "", fmt.Errorf("P2P_ID_SEED must be at least %d hex-encoded bytes", ed25519.SeedSize)
		}
		return fromSeed(seed[:ed25519.SeedSize])
	}

	// Production must not use random IDs
	if cfg.IsProduction() {
		return nil, "", fmt.Errorf("no P2P identity seed provided in %s", cfg.Environment)
	}

	// Development only: the peer ID changes across restarts.
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, "", err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	return priv, pid, err
}

func fromSeed(seed []byte) (crypto.PrivKey, peer.ID, error) {
	std := ed25519.NewKeyFromSeed(seed)

	libPriv, err := crypto.UnmarshalEd25519PrivateKey([]byte(std))
	if err != nil {
		return nil, "", err
	}

	pid, err := peer.IDFromPrivateKey(libPriv)
	return libPriv, pid, err
}

// DerivePeerIDFromSeed returns the peer ID a node started with seed will use.
func DerivePeerIDFromSeed(seed []byte) (peer.ID, error) {
	_, pid, err := fromSeed(seed)
	if err != nil {
		return "", err
	}
	return pid, nil
}
