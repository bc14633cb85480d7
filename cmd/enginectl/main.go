package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synapsedb/engine/pkg/types"
	"github.com/synapsedb/engine/pkg/wire"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "enginectl is an operator CLI for an engined instance, speaking the wire protocol directly",
}

func init() {
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7070", "engined wire protocol address")
	rootCmd.AddCommand(learnCmd, getCmd, searchCmd, associateCmd, statsCmd, checkpointCmd, contradictionsCmd)
}

func dialFromFlags(cmd *cobra.Command) (*wire.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	return wire.Dial(addr)
}

var learnCmd = &cobra.Command{
	Use:   "learn [content]",
	Short: "Learn a new concept from literal content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.LearnConcept(wire.LearnConceptRequest{Content: []byte(args[0])})
		if err != nil {
			return err
		}
		fmt.Printf("concept id: %s\n", id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [concept-id-hex]",
	Short: "Fetch a concept by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConceptID(args[0])
		if err != nil {
			return err
		}
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GetConcept(id)
		if err != nil {
			return err
		}
		if !resp.Found {
			fmt.Println("not found")
			return nil
		}
		fmt.Printf("content:    %s\n", resp.Content)
		fmt.Printf("strength:   %.3f\n", resp.Strength)
		fmt.Printf("confidence: %.3f\n", resp.Confidence)
		fmt.Printf("embedding:  %d dims\n", len(resp.Embedding))
		return nil
	},
}

var associateCmd = &cobra.Command{
	Use:   "associate [source-id-hex] [target-id-hex] [type]",
	Short: "Add an association between two concepts",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := parseConceptID(args[0])
		if err != nil {
			return err
		}
		dst, err := parseConceptID(args[1])
		if err != nil {
			return err
		}
		strength, _ := cmd.Flags().GetFloat32("strength")

		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.AddAssociation(wire.AddAssociationRequest{
			Source:   src,
			Target:   dst,
			Type:     types.AssociationType(args[2]),
			Strength: strength,
		})
		if err != nil {
			return err
		}
		fmt.Printf("association id: %d\n", id)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [k]",
	Short: "Vector search is not supported from literal CLI args; reserved for scripted clients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("enginectl search requires a query embedding; use the wire.Client library from a scripted caller")
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate engine counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("concepts:        %d\n", st.Concepts)
		fmt.Printf("edges:           %d\n", st.Edges)
		fmt.Printf("vectors:         %d\n", st.Vectors)
		fmt.Printf("wal appends:     %d\n", st.WALAppends)
		fmt.Printf("wal dropped:     %d\n", st.WALDropped)
		fmt.Printf("reconciliations: %d\n", st.Reconciliations)
		fmt.Printf("uptime:          %ds\n", st.UptimeSeconds)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force a checkpoint: reconcile, compact, and truncate the WAL on every shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Checkpoint(); err != nil {
			return err
		}
		fmt.Println("checkpoint complete")
		return nil
	},
}

var contradictionsCmd = &cobra.Command{
	Use:   "contradictions [concept-id-hex]",
	Short: "Find concepts linked to this one by an association marked as a contradiction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConceptID(args[0])
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		c, err := wire.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.FindContradictions(id)
		if err != nil {
			return err
		}
		if len(resp.ConceptIds) == 0 {
			fmt.Println("no contradictions found")
			return nil
		}
		for _, cid := range resp.ConceptIds {
			fmt.Println(cid)
		}
		return nil
	},
}

func parseConceptID(s string) (types.ConceptId, error) {
	var id types.ConceptId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid concept id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("concept id %q must decode to %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func init() {
	associateCmd.Flags().Float32("strength", 0.5, "Association strength in [0,1]")
}
