// Package crypto provides the field hash collaborators and the protocol derivations
// built on them.
//
// Overview:
//   - Hasher abstracts the field hash; MiMC (gnark-crypto) and Poseidon (iden3) are provided
//   - All values are BN254 scalar field elements (fr.Element), rendered as decimal strings on the wire
//   - Epoch keys, blinded values and nullifiers are derived from an Identity's nullifier
//
// The MiMC hasher absorbs whole field elements so that native results equal the
// std/hash/mimc gadget used in the circuits package.
package crypto
