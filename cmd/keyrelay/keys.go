package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/keys"
)

var keysFlags struct {
	name      string
	fromStdin bool
	output    string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage pooled API keys",
	Long: `Add, list, toggle and delete the API keys in the pool.

Secrets are never printed in full; listings show a masked prefix.

Subcommands:
  add     - Add a key (from an argument or stdin)
  list    - List keys
  toggle  - Enable or disable a key
  delete  - Remove a key

Examples:
  # Add a key
  keyrelay keys add --name main AIza...

  # Add many keys, one per line
  keyrelay keys add --stdin < keys.txt

  # List keys as CSV
  keyrelay keys list --output csv`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add [secret]",
	Short: "Add a key to the pool",
	Args:  cobra.MaximumNArgs(1),
	RunE:  addKeys,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pooled keys",
	Args:  cobra.NoArgs,
	RunE:  listKeys,
}

var keysToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a key's enabled flag",
	Args:  cobra.ExactArgs(1),
	RunE:  toggleKey,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd, keysListCmd, keysToggleCmd, keysDeleteCmd)

	keysAddCmd.Flags().StringVar(&keysFlags.name, "name", "", "display name for the key")
	keysAddCmd.Flags().BoolVar(&keysFlags.fromStdin, "stdin", false, "read secrets from stdin, one per line")
	keysListCmd.Flags().StringVarP(&keysFlags.output, "output", "o", "text", "output format: text, json, csv")
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(ctx context.Context, store keys.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, nil); err != nil {
		return err
	}
	store, err := openStore(&cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func addKeys(cmd *cobra.Command, args []string) error {
	var secrets []string
	switch {
	case keysFlags.fromStdin:
		var err error
		if secrets, err = readSecrets(cmd.InOrStdin()); err != nil {
			return err
		}
	case len(args) == 1:
		secrets = []string{args[0]}
	default:
		return fmt.Errorf("a secret argument or --stdin is required")
	}

	return withStore(func(ctx context.Context, store keys.Store) error {
		out := cmd.OutOrStdout()
		added := 0
		for i, secret := range secrets {
			name := keysFlags.name
			if name != "" && len(secrets) > 1 {
				name = fmt.Sprintf("%s-%d", name, i+1)
			}
			rec, err := store.Add(ctx, name, secret)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", keys.MaskSecret(secret), err)
				continue
			}
			added++
			fmt.Fprintf(out, "Added %s (%s)\n", rec.ID, keys.MaskSecret(rec.Secret))
		}
		if added == 0 {
			return cli.NewCommandError("keys add", fmt.Errorf("no keys added"))
		}
		return nil
	})
}

// readSecrets reads one secret per line, ignoring blanks and # comments.
func readSecrets(r io.Reader) ([]string, error) {
	var secrets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		secrets = append(secrets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no secrets on stdin")
	}
	return secrets, nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(keysFlags.output))
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store keys.Store) error {
		records, err := store.List(ctx)
		if err != nil {
			return err
		}
		table := make(cli.KeyTable, 0, len(records))
		for _, rec := range records {
			table = append(table, rec.Masked())
		}
		return formatter.FormatTo(cmd.OutOrStdout(), table)
	})
}

func toggleKey(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store keys.Store) error {
		rec, err := store.Toggle(ctx, args[0])
		if err != nil {
			return cli.NewCommandError("keys toggle", err)
		}
		state := "disabled"
		if rec.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key %s %s\n", rec.ID, state)
		return nil
	})
}

func deleteKey(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store keys.Store) error {
		ok, err := store.Delete(ctx, args[0])
		if err != nil {
			return cli.NewCommandError("keys delete", err)
		}
		if !ok {
			return cli.NewCommandError("keys delete", keys.ErrNotFound)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted key %s\n", args[0])
		return nil
	})
}
