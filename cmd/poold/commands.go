package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/fxamacker/cbor/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"shieldpool/internal/circuits"
	"shieldpool/internal/config"
	"shieldpool/internal/ledger"
	"shieldpool/internal/store"
	"shieldpool/internal/types"
	"shieldpool/internal/verifier"
)

var (
	setupPin    bool
	submitBlock bool
	submitFrom  string

	statusNullifier  string
	statusCommitment string
	statusRoot       string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Compile the circuits and generate or load their Groth16 keys",
	Long: "Compiles the mint, private transfer and reclaim circuits for the configured tree depth.\n" +
		"Keys found in the key directory are loaded, missing ones are generated and saved.\n" +
		"With --pin the verifying key checksums are written into the configuration file.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		audit, err := openAudit()
		if err != nil {
			return err
		}
		defer audit.Close()

		log := componentLogger("setup")
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Kind", "Constraints", "Public", "Checksum")
		sums := make(map[string]string, len(types.Kinds))
		for _, kind := range types.Kinds {
			start := time.Now()
			k, err := circuits.SetupOrLoadKeys(kind, cfg.Ledger.TreeDepth, cfg.Verifier.KeyDir)
			if err != nil {
				return err
			}
			sum, err := verifier.Checksum(k.VK)
			if err != nil {
				return err
			}
			hexSum := hex.EncodeToString(sum[:])
			sums[kind.String()] = hexSum
			log.Info().Stringer("kind", kind).Int("depth", k.Depth).Dur("took", time.Since(start)).Msg("keys ready")
			audit.Event("key_checksum", map[string]interface{}{"kind": kind.String(), "checksum": hexSum})
			table.Append([]string{
				kind.String(),
				strconv.Itoa(k.CCS.GetNbConstraints()),
				strconv.Itoa(k.CCS.GetNbPublicVariables()),
				hexSum,
			})
		}
		if err := table.Render(); err != nil {
			return err
		}

		if setupPin {
			cfg.Verifier.Checksums = sums
			if err := config.Save(cfg, configPath); err != nil {
				return err
			}
			fmt.Println(color.GreenString("pinned"), "verifying key checksums in", configPath)
		}
		return nil
	},
}

var creditCmd = &cobra.Command{
	Use:   "credit [asset] [account] [amount]",
	Short: "Set the public balance of an account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("asset: %w", err)
		}
		amount, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		n, err := startNode()
		if err != nil {
			return err
		}
		defer n.Close()

		if err := n.setBalance(types.AssetID(asset), types.AccountID(args[1]), amount); err != nil {
			return err
		}
		fmt.Printf("%s %s holds %d of asset %d\n", color.GreenString("ok"), args[1], amount, asset)
		return nil
	},
}

var issueCmd = &cobra.Command{
	Use:   "issue [asset] [account] [total]",
	Short: "Create an asset with its whole supply held by one account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("asset: %w", err)
		}
		total, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("total: %w", err)
		}
		n, err := startNode()
		if err != nil {
			return err
		}
		defer n.Close()

		if err := n.issue(types.AssetID(asset), types.AccountID(args[1]), total); err != nil {
			return err
		}
		fmt.Printf("%s asset %d issued, %s holds %d\n", color.GreenString("ok"), asset, args[1], total)
		return nil
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer [asset] [from] [to] [amount]",
	Short: "Move a public balance of an issued asset between accounts",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("asset: %w", err)
		}
		amount, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		n, err := startNode()
		if err != nil {
			return err
		}
		defer n.Close()

		from, to := types.AccountID(args[1]), types.AccountID(args[2])
		if err := n.transfer(types.AssetID(asset), from, to, amount); err != nil {
			return err
		}
		fmt.Printf("%s %s now holds %d, %s holds %d of asset %d\n", color.GreenString("ok"),
			from, n.ledger.Balance(types.AssetID(asset), from), to, n.ledger.Balance(types.AssetID(asset), to), asset)
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [path/to/operations.json]",
	Short: "Apply operations read from a JSON or CBOR file",
	Long: "Reads a list of operation envelopes and applies them to the pool.\n" +
		"Files ending in .cbor are decoded as CBOR, anything else as JSON.\n" +
		"With --block the operations are verified in parallel and committed as one block.\n\n" +
		"A mint proof does not bind its source account: the Source of every mint in the\n" +
		"file is trusted and debited as written. Pass --from to require that every mint\n" +
		"is drawn from that account.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := readOperations(args[0])
		if err != nil {
			return err
		}
		if err := checkSource(ops, types.AccountID(submitFrom)); err != nil {
			return err
		}
		n, err := startNode()
		if err != nil {
			return err
		}
		defer n.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var results []ledger.Result
		if submitBlock {
			res, err := n.submitBlock(ctx, ops)
			if err != nil {
				return err
			}
			results = res.Results
		} else {
			for _, op := range ops {
				d, err := n.submit(ctx, op)
				results = append(results, ledger.Result{Delta: d, Err: err})
				if ledger.Classify(err) == ledger.KindCanceled {
					break
				}
			}
		}
		return printResults(ops, results)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted pool state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(store.Options{
			Path:        cfg.Store.Path,
			Cache:       cfg.Store.Cache,
			Handles:     cfg.Store.Handles,
			ReadOnly:    true,
			RootHistory: cfg.Ledger.RootHistory,
			Logger:      componentLogger("store"),
		})
		if err != nil {
			return err
		}
		defer st.Close()
		p, err := st.Load()
		if err != nil {
			return err
		}

		root := "-"
		if len(p.History) > 0 {
			root = p.History[len(p.History)-1].String()
		}
		summary := tablewriter.NewWriter(os.Stdout)
		summary.Header("Seq", "Commitments", "Nullifiers", "Roots", "Latest root")
		summary.Append([]string{
			strconv.FormatUint(p.Seq, 10),
			strconv.Itoa(len(p.Leaves)),
			strconv.Itoa(len(p.Nullifiers)),
			strconv.Itoa(len(p.History)),
			root,
		})
		if err := summary.Render(); err != nil {
			return err
		}

		rows, err := lookup(p, statusNullifier, statusCommitment, statusRoot)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			found := tablewriter.NewWriter(os.Stdout)
			found.Header("Lookup", "Value", "Result")
			for _, r := range rows {
				found.Append(r)
			}
			if err := found.Render(); err != nil {
				return err
			}
		}

		if len(p.Balances) == 0 && len(p.Pool) == 0 {
			return nil
		}
		balances := tablewriter.NewWriter(os.Stdout)
		balances.Header("Asset", "Account", "Amount")
		for _, b := range p.Balances {
			balances.Append([]string{strconv.FormatUint(uint64(b.Asset), 10), string(b.Account), strconv.FormatUint(b.Amount, 10)})
		}
		for _, a := range p.Pool {
			balances.Append([]string{strconv.FormatUint(uint64(a.Asset), 10), color.CyanString("(pool)"), strconv.FormatUint(a.Amount, 10)})
		}
		return balances.Render()
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the health checks of the store, accumulator and verifier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := startNode()
		if err != nil {
			return err
		}
		defer n.Close()

		h := n.health.CheckHealth()
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Component", "Status", "Message", "Latency")
		for _, c := range h.Components {
			table.Append([]string{c.Name, statusString(c.Status), c.Message, c.Latency.String()})
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Println("overall:", statusString(h.OverallStatus), "version:", h.Version)
		if h.OverallStatus == Unhealthy {
			return errors.New("pool is unhealthy")
		}
		return nil
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupPin, "pin", false, "write the verifying key checksums into the config file")
	submitCmd.Flags().BoolVar(&submitBlock, "block", false, "submit all operations as one block")
	submitCmd.Flags().StringVar(&submitFrom, "from", "", "authenticated submitter every mint must be drawn from")
	statusCmd.Flags().StringVar(&statusNullifier, "nullifier", "", "report whether this hex nullifier is spent")
	statusCmd.Flags().StringVar(&statusCommitment, "commitment", "", "report the tree position of this hex commitment")
	statusCmd.Flags().StringVar(&statusRoot, "root", "", "report whether this hex root is in the root history")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(creditCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

// startNode loads the verifier and opens the node described by cfg.
func startNode() (*node, error) {
	v, err := loadVerifier(cfg, logger.Logger)
	if err != nil {
		return nil, err
	}
	audit, err := openAudit()
	if err != nil {
		return nil, err
	}
	n, err := openNode(cfg, v, logger.Logger, audit)
	if err != nil {
		audit.Close()
		return nil, err
	}
	n.health.RegisterComponent("verifier", verifierCheck(v))
	return n, nil
}

// verifierCheck reports the verifier degraded when most proofs it sees fail.
func verifierCheck(v *verifier.Groth16Verifier) func() error {
	return func() error {
		s := v.Stats()
		if total := s.Verified + s.Rejected; total >= 10 && s.Rejected*2 > total {
			return fmt.Errorf("%w: %d of %d proofs rejected", ErrDegraded, s.Rejected, total)
		}
		return nil
	}
}

// readOperations decodes a list of envelopes from path.
func readOperations(path string) ([]types.Operation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envs []types.Envelope
	if filepath.Ext(path) == ".cbor" {
		err = cbor.Unmarshal(b, &envs)
	} else {
		err = json.Unmarshal(b, &envs)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	ops := make([]types.Operation, len(envs))
	for i, e := range envs {
		if ops[i], err = e.Operation(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return ops, nil
}

func printResults(ops []types.Operation, results []ledger.Result) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Kind", "Result", "Seq", "Positions")
	for i, r := range results {
		outcome := color.GreenString("accepted")
		seq, positions := strconv.FormatUint(r.Delta.Seq, 10), fmt.Sprint(r.Delta.Positions)
		if r.Err != nil {
			outcome = color.RedString(reason(r.Err))
			seq, positions = "-", "-"
		}
		table.Append([]string{strconv.Itoa(i), ops[i].Kind().String(), outcome, seq, positions})
	}
	return table.Render()
}

// lookup answers the status queries for the hex encoded nullifier, commitment
// and root against p. Empty queries are skipped.
func lookup(p ledger.Persisted, nullifierHex, commitmentHex, rootHex string) ([][]string, error) {
	var rows [][]string
	if nullifierHex != "" {
		nf, err := types.ParseNullifier(nullifierHex)
		if err != nil {
			return nil, fmt.Errorf("nullifier: %w", err)
		}
		i := sort.Search(len(p.Nullifiers), func(i int) bool {
			return bytes.Compare(p.Nullifiers[i][:], nf[:]) >= 0
		})
		result := "unspent"
		if i < len(p.Nullifiers) && p.Nullifiers[i] == nf {
			result = "spent"
		}
		rows = append(rows, []string{"nullifier", nf.String(), result})
	}
	if commitmentHex != "" {
		c, err := types.ParseCommitment(commitmentHex)
		if err != nil {
			return nil, fmt.Errorf("commitment: %w", err)
		}
		result := "not found"
		for pos, leaf := range p.Leaves {
			if leaf == c {
				result = "position " + strconv.Itoa(pos)
				break
			}
		}
		rows = append(rows, []string{"commitment", c.String(), result})
	}
	if rootHex != "" {
		r, err := types.ParseRoot(rootHex)
		if err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
		result := "unknown"
		for i := len(p.History) - 1; i >= 0; i-- {
			if p.History[i] == r {
				result = fmt.Sprintf("valid, %d behind latest", len(p.History)-1-i)
				break
			}
		}
		rows = append(rows, []string{"root", r.String(), result})
	}
	return rows, nil
}

// reason names the rejection class of err.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrHalted):
		return "halted"
	}
	return string(ledger.Classify(err))
}

func statusString(s HealthStatus) string {
	switch s {
	case Healthy:
		return color.GreenString(string(s))
	case Degraded:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}
