// keys.go - Groth16 key files.

package groth16

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
)

// writeKey writes k to path through a temporary file so a crash never leaves a
// truncated key behind.
func writeKey(path string, k io.WriterTo) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := k.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readKey(path string, k io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := k.ReadFrom(f); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SetupOrLoadKeys returns the key pair stored as dir/name.{pk,vk}. When either
// file is missing a fresh setup runs and both are rewritten. A file that exists
// but does not decode is an error.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, dir, name string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pkPath := filepath.Join(dir, name+".pk")
	vkPath := filepath.Join(dir, name+".vk")

	pk := groth16.NewProvingKey(ecc.BN254)
	vk := groth16.NewVerifyingKey(ecc.BN254)
	missing := false
	for _, f := range []struct {
		path string
		key  io.ReaderFrom
	}{{pkPath, pk}, {vkPath, vk}} {
		err := readKey(f.path, f.key)
		switch {
		case errors.Is(err, os.ErrNotExist):
			missing = true
		case err != nil:
			return nil, nil, fmt.Errorf("load keys %s: %w", name, err)
		}
	}
	if !missing {
		return pk, vk, nil
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("setup %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	if err := writeKey(pkPath, pk); err != nil {
		return nil, nil, fmt.Errorf("store proving key %s: %w", name, err)
	}
	if err := writeKey(vkPath, vk); err != nil {
		return nil, nil, fmt.Errorf("store verifying key %s: %w", name, err)
	}
	return pk, vk, nil
}
