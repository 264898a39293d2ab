package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/querylens/querylens/internal/service"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <key-name>",
		Short: "Issue a short-lived bearer token for an API key",
		Long: `Issue a signed bearer token bound to an existing API key name. Clients
can present the token in the Authorization header instead of carrying the
key itself.`,
		Example: `  querylens token ci-pipeline
  querylens token dashboard --ttl 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(args[0], ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

func runToken(name string, ttl time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// The key must exist and be active before a token is minted for it.
	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	found := false
	for _, k := range keys {
		if k.Name == name && k.RevokedAt == nil {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no active API key named %q", name)
	}

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = viper.GetString("auth.jwt_secret")
	}
	if jwtSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	authSvc := service.NewAuthService(st, jwtSecret)
	token, err := authSvc.IssueToken(context.Background(), name, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
