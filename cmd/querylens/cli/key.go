package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the QueryLens API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeySetBackendCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  querylens key create ci-pipeline
  querylens key create dashboard`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(args[0])
		},
	}
	return cmd
}

func runKeyCreate(name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rawKey, err := st.CreateAPIKey(context.Background(), name)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", rawKey)
	fmt.Printf("  Name: %s\n", name)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Name    string `json:"name"`
		Created string `json:"created"`
		Active  bool   `json:"active"`
	}
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Name:    k.Name,
			Created: k.CreatedAt.Format("2006-01-02"),
			Active:  k.RevokedAt == nil,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'querylens key create' to create one.")
		return nil
	}

	fmt.Printf("%-24s %-12s %-8s\n", "NAME", "CREATED", "ACTIVE")
	fmt.Printf("%-24s %-12s %-8s\n", "----", "-------", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-24s %-12s %-8s\n", k.Name, k.Created, active)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <name>",
		Short: "Revoke an API key by name",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
	return cmd
}

func runKeyRevoke(name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RevokeAPIKey(context.Background(), name); err != nil {
		return fmt.Errorf("revoke api key %q: %w", name, err)
	}
	fmt.Printf("API key %q revoked.\n", name)
	return nil
}

// ---------- key set-backend ----------

func newKeySetBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-backend",
		Short: "Store the generative backend's API key",
		Long: `Prompt for the remote backend's API key and store it in the local
database, so the config file never has to contain the secret. The stored
key takes precedence over backend.api_key in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeySetBackend()
		},
	}
	return cmd
}

func runKeySetBackend() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fmt.Print("Backend API key: ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if len(keyBytes) == 0 {
		return fmt.Errorf("empty key")
	}

	if err := st.SetSetting(context.Background(), "backend.api_key", string(keyBytes)); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	fmt.Println("Backend API key stored.")
	return nil
}
