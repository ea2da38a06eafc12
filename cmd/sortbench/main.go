// Command sortbench exercises a Stage[int64] end to end: it generates a
// stream of random integers, sorts them through the library, checks that
// the output is sorted, and reports how many records it emitted.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nyxsort/extsort"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		count       int
		objectLimit int
		fileLimit   int
		seed        int64
		verbose     bool
		compressed  bool
	)

	cmd := &cobra.Command{
		Use:   "sortbench",
		Short: "Sort a generated stream of integers through an external-memory sorter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(count, objectLimit, fileLimit, seed, verbose, compressed)
		},
	}

	cmd.Flags().IntVar(&count, "count", 1_000_000, "number of records to generate")
	cmd.Flags().IntVar(&objectLimit, "object-limit", 100_000, "in-memory record cap before a spill")
	cmd.Flags().IntVar(&fileLimit, "file-limit", 20, "max on-disk runs before cascade compaction")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log reduce/spill/compact steps")
	cmd.Flags().BoolVar(&compressed, "compressed", false, "zstd-compress each spilled record")

	return cmd
}

func run(count, objectLimit, fileLimit int, seed int64, verbose, compressed bool) error {
	logger := zerolog.Nop()
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	cfg := &extsort.Config{
		ObjectLimit: objectLimit,
		FileLimit:   fileLimit,
		Logger:      logger,
	}

	less := func(a, b int64) bool { return a < b }
	var got []int64
	down := extsort.ProcessorFunc[int64](func(v int64) error {
		got = append(got, v)
		return nil
	})

	var codec extsort.Codec[int64] = extsort.Int64Codec{}
	if compressed {
		c, err := extsort.NewCompressedCodec[int64](extsort.Int64Codec{})
		if err != nil {
			return err
		}
		codec = c
	}

	stage, err := extsort.New[int64](less, nil, codec, down, cfg)
	if err != nil {
		return fmt.Errorf("constructing sorter: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		if err := stage.Process(rng.Int63()); err != nil {
			return fmt.Errorf("processing record %d: %w", i, err)
		}
	}
	if err := stage.Close(); err != nil {
		return fmt.Errorf("closing sorter: %w", err)
	}

	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		return fmt.Errorf("output of %d records was not sorted", len(got))
	}
	fmt.Printf("sorted %d records\n", len(got))
	return nil
}
