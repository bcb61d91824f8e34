// keys.go - Circuit compilation and Groth16 key files.

package circuits

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"shieldpool/internal/types"
)

// Curve is the proving curve of every circuit.
const Curve = ecc.BN254

// Keys bundles a compiled circuit with its proving and verifying keys.
type Keys struct {
	Kind  types.Kind
	Depth int
	CCS   constraint.ConstraintSystem
	PK    groth16.ProvingKey
	VK    groth16.VerifyingKey
}

// Circuit returns an empty circuit of the given kind sized for depth.
func Circuit(kind types.Kind, depth int) (frontend.Circuit, error) {
	switch kind {
	case types.KindMint:
		return &MintCircuit{}, nil
	case types.KindPrivateTransfer:
		return NewTransferCircuit(depth), nil
	case types.KindReclaim:
		return NewReclaimCircuit(depth), nil
	default:
		return nil, fmt.Errorf("no circuit for %s", kind)
	}
}

// Compile builds the R1CS of the given kind.
func Compile(kind types.Kind, depth int) (constraint.ConstraintSystem, error) {
	c, err := Circuit(kind, depth)
	if err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, c)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", kind, err)
	}
	return ccs, nil
}

// KeyPaths returns the proving and verifying key file paths of kind under dir.
// The tree depth is part of the file name, so keys of a tree with another depth
// are never picked up.
func KeyPaths(dir string, kind types.Kind, depth int) (pkPath, vkPath string) {
	base := fmt.Sprintf("%s_d%d", kind, depth)
	return filepath.Join(dir, base+"_pk.bin"), filepath.Join(dir, base+"_vk.bin")
}

// SetupOrLoadKeys compiles the circuit of kind and loads its keys from dir,
// running a fresh Groth16 setup and saving the keys if either file is missing.
func SetupOrLoadKeys(kind types.Kind, depth int, dir string) (*Keys, error) {
	ccs, err := Compile(kind, depth)
	if err != nil {
		return nil, err
	}
	pkPath, vkPath := KeyPaths(dir, kind, depth)
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return &Keys{Kind: kind, Depth: depth, CCS: ccs, PK: pk, VK: vk}, nil
	}

	pk, vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", kind, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, err
	}
	return &Keys{Kind: kind, Depth: depth, CCS: ccs, PK: pk, VK: vk}, nil
}

// Setup runs an in-memory Groth16 setup without touching the filesystem.
func Setup(kind types.Kind, depth int) (*Keys, error) {
	ccs, err := Compile(kind, depth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", kind, err)
	}
	return &Keys{Kind: kind, Depth: depth, CCS: ccs, PK: pk, VK: vk}, nil
}

func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(Curve)
	_, err = pk.ReadFrom(f)
	return pk, err
}

func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(Curve)
	_, err = vk.ReadFrom(f)
	return vk, err
}
