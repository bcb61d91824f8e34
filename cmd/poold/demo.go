// demo.go - End to end walk through the pool with real proofs.
//
// The demo credits alice, mints a note from her balance, splits it privately
// between alice and bob, replays the transfer and finally reclaims bob's note
// to his public balance.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"shieldpool/internal/circuits"
	"shieldpool/internal/ledger"
	"shieldpool/internal/types"
	"shieldpool/internal/verifier"
)

const demoAsset types.AssetID = 1

var demoMemory bool

var (
	stepStyle = color.New(color.FgCyan, color.Bold)
	okStyle   = color.New(color.FgGreen)
	failStyle = color.New(color.FgRed)
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a mint, private transfer and reclaim against the pool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if demoMemory {
			cfg.Store.Path = ""
		}
		keys, v, err := demoKeys()
		if err != nil {
			return err
		}
		audit, err := openAudit()
		if err != nil {
			return err
		}
		n, err := openNode(cfg, v, logger.Logger, audit)
		if err != nil {
			audit.Close()
			return err
		}
		defer n.Close()
		n.health.RegisterComponent("verifier", verifierCheck(v))

		if err := runDemo(context.Background(), n, keys); err != nil {
			return err
		}
		printBalances(n)
		return nil
	},
}

func init() {
	demoCmd.Flags().BoolVar(&demoMemory, "memory", false, "keep pool state in memory instead of the configured store")
	rootCmd.AddCommand(demoCmd)
}

// demoKeys sets up or loads the keys of every kind and builds a verifier
// pinned to the configured checksums.
func demoKeys() (map[types.Kind]*circuits.Keys, *verifier.Groth16Verifier, error) {
	log := componentLogger("demo")
	keys := make(map[types.Kind]*circuits.Keys, len(types.Kinds))
	vks := make(map[types.Kind]groth16.VerifyingKey, len(types.Kinds))
	for _, kind := range types.Kinds {
		start := time.Now()
		k, err := circuits.SetupOrLoadKeys(kind, cfg.Ledger.TreeDepth, cfg.Verifier.KeyDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Stringer("kind", kind).Dur("took", time.Since(start)).Msg("keys ready")
		keys[kind] = k
		vks[kind] = k.VK
	}
	sums, err := cfg.Checksums()
	if err != nil {
		return nil, nil, err
	}
	v, err := verifier.NewGroth16Verifier(vks, verifier.Options{
		Depth:     cfg.Ledger.TreeDepth,
		Checksums: sums,
		CacheSize: cfg.Verifier.CacheSize,
		Logger:    componentLogger("verifier"),
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, v, nil
}

func runDemo(ctx context.Context, n *node, keys map[types.Kind]*circuits.Keys) error {
	step := func(format string, args ...interface{}) {
		stepStyle.Printf("==> "+format+"\n", args...)
	}
	expect := func(what string, err error, want ledger.ErrorKind) error {
		got := ledger.Classify(err)
		if got != want {
			failStyle.Printf("    %s: got %q, want %q\n", what, got, want)
			return fmt.Errorf("%s: %w", what, err)
		}
		if err != nil {
			okStyle.Printf("    %s rejected as %s\n", what, got)
		} else {
			okStyle.Printf("    %s accepted\n", what)
		}
		return nil
	}

	step("credit alice with 100")
	if err := n.setBalance(demoAsset, "alice", n.ledger.Balance(demoAsset, "alice")+100); err != nil {
		return err
	}

	step("mint a note of 40 from alice")
	note, err := circuits.NewNote(demoAsset, 40)
	if err != nil {
		return err
	}
	start := time.Now()
	m, err := circuits.ProveMint(keys[types.KindMint], note, "alice")
	if err != nil {
		return err
	}
	n.metrics.RecordProofGeneration(types.KindMint, time.Since(start))
	d, err := n.submit(ctx, m)
	if err := expect("mint", err, ledger.KindNone); err != nil {
		return err
	}

	step("split the note privately into 15 for alice and 25 for bob")
	path, err := n.ledger.MembershipProof(d.Positions[0])
	if err != nil {
		return err
	}
	toAlice, err := circuits.NewNote(demoAsset, 15)
	if err != nil {
		return err
	}
	toBob, err := circuits.NewNote(demoAsset, 25)
	if err != nil {
		return err
	}
	start = time.Now()
	tr, err := circuits.ProveTransfer(keys[types.KindPrivateTransfer], n.ledger.Root(),
		[]circuits.SpendInput{{Note: note, Path: path}}, []*circuits.Note{toAlice, toBob})
	if err != nil {
		return err
	}
	n.metrics.RecordProofGeneration(types.KindPrivateTransfer, time.Since(start))
	d, err = n.submit(ctx, tr)
	if err := expect("transfer", err, ledger.KindNone); err != nil {
		return err
	}

	step("replay the transfer")
	_, err = n.submit(ctx, tr)
	if err := expect("replayed transfer", err, ledger.KindNullifierAlreadySpent); err != nil {
		return err
	}

	step("reclaim bob's note to his public balance")
	path, err = n.ledger.MembershipProof(d.Positions[1])
	if err != nil {
		return err
	}
	start = time.Now()
	rc, err := circuits.ProveReclaim(keys[types.KindReclaim], n.ledger.Root(),
		[]circuits.SpendInput{{Note: toBob, Path: path}}, "bob")
	if err != nil {
		return err
	}
	n.metrics.RecordProofGeneration(types.KindReclaim, time.Since(start))
	_, err = n.submit(ctx, rc)
	return expect("reclaim", err, ledger.KindNone)
}

func printBalances(n *node) {
	s := n.ledger.Stats()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Account", "Balance")
	for _, acct := range []types.AccountID{"alice", "bob"} {
		table.Append([]string{string(acct), strconv.FormatUint(n.ledger.Balance(demoAsset, acct), 10)})
	}
	table.Append([]string{color.CyanString("(pool)"), strconv.FormatUint(n.ledger.PoolBalance(demoAsset), 10)})
	table.Render()

	fmt.Printf("seq %d, %d commitments, %d nullifiers, root %s\n", s.Seq, s.Commitments, s.Nullifiers, s.Root)
	for _, m := range n.metrics.GetAllMetrics() {
		if m.Type == Histogram {
			continue
		}
		fmt.Printf("  %-28s %v %v\n", m.Name, m.Labels, m.Value)
	}
}
