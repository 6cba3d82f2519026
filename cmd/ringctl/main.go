// cmd/ringctl is the CLI front-end for the ring library, built with Cobra.
//
// Usage:
//
//	ringctl create -l ./ring.db -b file -a sha256 -v 6 -p host1 -p host2
//	ringctl get-node -l ./ring.db -b file -d "/yunong/yunong.txt"
//	ringctl remap-vnode -l ./ring.db -b file -p host3 -v 4 -o
//	ringctl diff -f a.json -f b.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagLocation  string
	flagBackend   string
	flagAlgorithm string
	flagVnodes    []string
	flagPnodes    []string
	flagFiles     []string
	flagData      string
	flagPrintRing bool
)

func main() {
	root := &cobra.Command{
		Use:   "ringctl",
		Short: "Inspect and mutate a consistent hashing ring",
	}

	root.PersistentFlags().StringVarP(&flagLocation, "location", "l", "", "store location (file path)")
	root.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "memory", "store backend: memory|file")

	root.AddCommand(
		createCmd(),
		deserializeRingCmd(),
		addDataCmd(),
		remapVnodeCmd(),
		removePnodeCmd(),
		getPnodesCmd(),
		getVnodesCmd(),
		getVnodePnodeAndDataCmd(),
		getDataVnodesCmd(),
		getNodeCmd(),
		printHashCmd(),
		diffCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
