// identity.go - Identity file persistence.
//
// An identity file holds the user's secret pair as decimal strings. It is written
// with owner-only permissions and is the only secret the projection needs.

package user

import (
	"encoding/json"
	"fmt"
	"os"

	"repledger/internal/crypto"
)

type identityFile struct {
	Nullifier string `json:"identity_nullifier"`
	Trapdoor  string `json:"identity_trapdoor"`
}

// SaveIdentity writes id to path.
func SaveIdentity(path string, id crypto.Identity) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(identityFile{
		Nullifier: crypto.Format(id.Nullifier),
		Trapdoor:  crypto.Format(id.Trapdoor),
	})
}

// LoadIdentity reads an identity written by SaveIdentity.
func LoadIdentity(path string) (crypto.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return crypto.Identity{}, err
	}
	defer f.Close()
	var raw identityFile
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return crypto.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	n, err := crypto.Parse(raw.Nullifier)
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("identity nullifier: %w", err)
	}
	t, err := crypto.Parse(raw.Trapdoor)
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("identity trapdoor: %w", err)
	}
	return crypto.Identity{Nullifier: n, Trapdoor: t}, nil
}
