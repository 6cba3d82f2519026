package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ringstore/ring"
)

// logged runs fn, then logs operation, duration, and outcome exactly as the
// teacher's internal/api/middleware.go Logger logs method/path/status/
// latency for an HTTP request — here there is no request to intercept, so
// each RunE calls it directly around its own body.
func logged(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	log.Printf("[%s] %s | %s", op, outcome, time.Since(start))
	return err
}

func backend() ring.Backend {
	switch flagBackend {
	case "file":
		return ring.BackendFile
	default:
		return ring.BackendMemory
	}
}

func openRing() (*ring.Ring, error) {
	return ring.Open(backend(), flagLocation)
}

func printRingIfRequested(r *ring.Ring) {
	if !flagPrintRing {
		return
	}
	data, err := r.Serialize()
	if err != nil {
		fmt.Fprintln(os.Stderr, "serialize after mutation:", err)
		return
	}
	fmt.Println(string(data))
}

func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// ─── create ───────────────────────────────────────────────────────────────

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("create", func() error {
				if len(flagVnodes) == 0 {
					return fmt.Errorf("-v vnode-count is required")
				}
				v, err := strconv.Atoi(flagVnodes[0])
				if err != nil {
					return fmt.Errorf("invalid vnode count %q: %w", flagVnodes[0], err)
				}
				r, err := ring.Create(ring.CreateOptions{
					Algorithm: flagAlgorithm,
					Pnodes:    flagPnodes,
					Vnodes:    v,
					Backend:   backend(),
					Location:  flagLocation,
				})
				if err != nil {
					return err
				}
				defer r.Close()
				printRingIfRequested(r)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&flagAlgorithm, "algorithm", "a", "sha256", "hash algorithm: sha1|sha256|sha512|blake2b256")
	cmd.Flags().StringArrayVarP(&flagVnodes, "vnodes", "v", nil, "vnode count")
	cmd.Flags().StringArrayVarP(&flagPnodes, "pnode", "p", nil, "pnode name (repeatable)")
	cmd.Flags().BoolVarP(&flagPrintRing, "output", "o", false, "print ring after mutation")
	return cmd
}

// ─── deserialize-ring ─────────────────────────────────────────────────────

func deserializeRingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deserialize-ring",
		Short: "Reconstruct a ring from a canonical snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("deserialize-ring", func() error {
				if len(flagFiles) == 0 {
					return fmt.Errorf("-f file is required")
				}
				data, err := os.ReadFile(flagFiles[0])
				if err != nil {
					return err
				}
				r, err := ring.Deserialize(data, ring.DeserializeOptions{
					Backend:  backend(),
					Location: flagLocation,
				})
				if err != nil {
					return err
				}
				defer r.Close()
				printRingIfRequested(r)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagFiles, "file", "f", nil, "snapshot file path")
	cmd.Flags().BoolVarP(&flagPrintRing, "output", "o", false, "print ring after loading")
	return cmd
}

// ─── add-data ─────────────────────────────────────────────────────────────

func addDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-data",
		Short: "Attach a data value to a vnode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("add-data", func() error {
				if len(flagVnodes) == 0 {
					return fmt.Errorf("-v vnode-id is required")
				}
				vn, err := strconv.Atoi(flagVnodes[0])
				if err != nil {
					return fmt.Errorf("invalid vnode id %q: %w", flagVnodes[0], err)
				}
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()

				var value any
				if flagData == "null" {
					value = nil
				} else {
					value = flagData
				}
				if err := r.AddData(vn, value); err != nil {
					return err
				}
				printRingIfRequested(r)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagVnodes, "vnode", "v", nil, "vnode id")
	cmd.Flags().StringVarP(&flagData, "data", "d", "", "data value, or \"null\" to clear")
	cmd.Flags().BoolVarP(&flagPrintRing, "output", "o", false, "print ring after mutation")
	return cmd
}

// ─── remap-vnode ──────────────────────────────────────────────────────────

func remapVnodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remap-vnode",
		Short: "Reassign vnodes to a target pnode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("remap-vnode", func() error {
				if len(flagPnodes) == 0 {
					return fmt.Errorf("-p target-pnode is required")
				}
				if len(flagVnodes) == 0 {
					return fmt.Errorf("-v vnode-id is required (repeatable)")
				}
				vnodes := make([]int, 0, len(flagVnodes))
				for _, s := range flagVnodes {
					vn, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("invalid vnode id %q: %w", s, err)
					}
					vnodes = append(vnodes, vn)
				}
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()

				cs, err := r.Remap(ring.Pnode(flagPnodes[0]), vnodes)
				if err != nil {
					return err
				}
				printRingIfRequested(r)
				return printJSON(cs)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagPnodes, "pnode", "p", nil, "target pnode")
	cmd.Flags().StringArrayVarP(&flagVnodes, "vnode", "v", nil, "vnode id (repeatable)")
	cmd.Flags().BoolVarP(&flagPrintRing, "output", "o", false, "print ring after mutation")
	return cmd
}

// ─── remove-pnode ─────────────────────────────────────────────────────────

func removePnodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-pnode",
		Short: "Remove a pnode that owns zero vnodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("remove-pnode", func() error {
				if len(flagPnodes) == 0 {
					return fmt.Errorf("-p pnode is required")
				}
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				if err := r.RemovePnode(ring.Pnode(flagPnodes[0])); err != nil {
					return err
				}
				printRingIfRequested(r)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagPnodes, "pnode", "p", nil, "pnode to remove")
	cmd.Flags().BoolVarP(&flagPrintRing, "output", "o", false, "print ring after mutation")
	return cmd
}

// ─── get-pnodes ───────────────────────────────────────────────────────────

func getPnodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-pnodes",
		Short: "List the pnode set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("get-pnodes", func() error {
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				return printJSON(r.GetPnodes())
			})
		},
	}
}

// ─── get-vnodes ───────────────────────────────────────────────────────────

func getVnodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-vnodes",
		Short: "List the vnodes owned by a pnode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("get-vnodes", func() error {
				if len(flagPnodes) == 0 {
					return fmt.Errorf("-p pnode is required")
				}
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				return printJSON(r.GetVnodes(ring.Pnode(flagPnodes[0])))
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagPnodes, "pnode", "p", nil, "pnode name")
	return cmd
}

// ─── get-vnode-pnode-and-data ─────────────────────────────────────────────

func getVnodePnodeAndDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-vnode-pnode-and-data",
		Short: "Show the owning pnode and data value of a vnode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("get-vnode-pnode-and-data", func() error {
				if len(flagVnodes) == 0 {
					return fmt.Errorf("-v vnode-id is required")
				}
				vn, err := strconv.Atoi(flagVnodes[0])
				if err != nil {
					return fmt.Errorf("invalid vnode id %q: %w", flagVnodes[0], err)
				}
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				pnode, data, err := r.GetVnodePnodeAndData(vn)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"pnode": pnode, "data": data})
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagVnodes, "vnode", "v", nil, "vnode id")
	return cmd
}

// ─── get-data-vnodes ──────────────────────────────────────────────────────

func getDataVnodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-data-vnodes",
		Short: "List vnodes carrying non-sentinel data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("get-data-vnodes", func() error {
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				return printJSON(r.GetDataVnodes())
			})
		},
	}
}

// ─── get-node ─────────────────────────────────────────────────────────────

func getNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-node",
		Short: "Resolve a key to its owning pnode, vnode, and data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("get-node", func() error {
				r, err := openRing()
				if err != nil {
					return err
				}
				defer r.Close()
				lookup := r.GetNode([]byte(flagData))
				return printJSON(lookup)
			})
		},
	}
	cmd.Flags().StringVarP(&flagData, "data", "d", "", "key bytes (UTF-8)")
	return cmd
}

// ─── print-hash ───────────────────────────────────────────────────────────

func printHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print-hash",
		Short: "Print the vnode a key hashes to under an algorithm and vnode count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("print-hash", func() error {
				if len(flagVnodes) == 0 {
					return fmt.Errorf("-v vnode-count is required")
				}
				v, err := strconv.Atoi(flagVnodes[0])
				if err != nil {
					return fmt.Errorf("invalid vnode count %q: %w", flagVnodes[0], err)
				}
				algo, err := ring.AlgorithmByName(flagAlgorithm)
				if err != nil {
					return err
				}
				fmt.Println(algo.VnodeOf([]byte(flagData), v))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&flagAlgorithm, "algorithm", "a", "sha256", "hash algorithm")
	cmd.Flags().StringArrayVarP(&flagVnodes, "vnodes", "v", nil, "vnode count")
	cmd.Flags().StringVarP(&flagData, "data", "d", "", "key bytes (UTF-8)")
	return cmd
}

// ─── diff ─────────────────────────────────────────────────────────────────

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Diff the topology of two canonical snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logged("diff", func() error {
				if len(flagFiles) != 2 {
					return fmt.Errorf("exactly two -f file flags are required")
				}
				snapA, err := os.ReadFile(flagFiles[0])
				if err != nil {
					return err
				}
				snapB, err := os.ReadFile(flagFiles[1])
				if err != nil {
					return err
				}
				a, err := ring.Deserialize(snapA, ring.DeserializeOptions{Backend: ring.BackendMemory})
				if err != nil {
					return err
				}
				defer a.Close()
				b, err := ring.Deserialize(snapB, ring.DeserializeOptions{Backend: ring.BackendMemory})
				if err != nil {
					return err
				}
				defer b.Close()
				return printJSON(ring.Diff(a, b))
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flagFiles, "file", "f", nil, "snapshot file path (repeat twice: A then B)")
	return cmd
}
