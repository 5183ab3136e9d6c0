// Package catalog implements the prototype catalog admin commands.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
)

// Command creates the catalog command with build/activate/list subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage prototype catalog sets",
	}
	cmd.AddCommand(buildCommand(settings), activateCommand(settings), listCommand(settings))
	return cmd
}

// prototypeFile is the JSON shape accepted by catalog build.
type prototypeFile struct {
	Notes      string `json:"notes"`
	Prototypes []struct {
		ItemID    int       `json:"item_id"`
		Embedding []float32 `json:"embedding"`
	} `json:"prototypes"`
}

func buildCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "build [prototypes.json]",
		Short: "Build a new INACTIVE prototype set from an embeddings file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read prototypes file: %w", err)
			}
			var file prototypeFile
			if err := json.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("parse prototypes file: %w", err)
			}
			if len(file.Prototypes) == 0 {
				return fmt.Errorf("prototypes file contains no entries")
			}

			itemIDs := make([]int, 0, len(file.Prototypes))
			vectors := make([][]float32, 0, len(file.Prototypes))
			for _, p := range file.Prototypes {
				itemIDs = append(itemIDs, p.ItemID)
				vectors = append(vectors, p.Embedding)
			}

			setID, err := catalog.BuildSet(store, file.Notes, itemIDs, vectors)
			if err != nil {
				return err
			}
			cmd.Printf("built prototype set %d with %d entries (INACTIVE)\n", setID, len(itemIDs))
			return nil
		},
	}
}

func activateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "activate [set-id]",
		Short: "Make a prototype set the serving catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid set id %q", args[0])
			}

			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := catalog.Activate(store, uint(setID)); err != nil {
				return err
			}
			cmd.Printf("prototype set %d activated\n", setID)
			return nil
		},
	}
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prototype sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sets, err := store.ListPrototypeSets()
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				cmd.Println("no prototype sets")
				return nil
			}
			for i := range sets {
				cmd.Printf("%d\t%s\t%s\t%s\n",
					sets[i].ID,
					sets[i].Status,
					sets[i].CreatedAt.Format("2006-01-02 15:04:05"),
					sets[i].Notes)
			}
			return nil
		},
	}
}

func openStore(settings *conf.Settings) (datastore.Interface, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, fmt.Errorf("no database configured, enable output.sqlite or output.mysql")
	}
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	return store, nil
}
