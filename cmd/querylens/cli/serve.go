package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/querylens/querylens/internal/server"
	"github.com/querylens/querylens/internal/service"
)

const banner = `
  ___  _   _ ___ _____   _  _     ___ _  _ ___
 / _ \| | | | __| _ \ \ | || |   | __| \| / __|
| (_) | |_| | _||   /\ V /| |__  | _|| .' \__ \
 \__\_\\___/|___|_|_\ |_| |____| |___|_|\_|___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the QueryLens API server",
		Long:  "Start the HTTP server that explains SQL queries, with caching, rate limiting, and an OpenAPI document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dev {
		cfg.Logging.Level = "debug"
	}
	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", resolveDataDir(cfg))

	ctx := context.Background()
	svc, mem, coll := buildService(ctx, cfg, st, logger)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = viper.GetString("auth.jwt_secret")
	}
	if jwtSecret == "" {
		jwtSecret = "querylens-dev-secret-change-me"
	}
	authSvc := service.NewAuthService(st, jwtSecret)

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	srvCfg := server.Config{
		Host:               host,
		Port:               port,
		ShutdownTimeout:    shutdownTimeout,
		CORSOrigins:        cfg.Server.CORS.Origins,
		RequireAuth:        cfg.Auth.Enabled,
		RateLimitPerMinute: cfg.Server.RateLimitPerMin,
	}

	backendKind := cfg.Backend.Kind
	if backendKind == "" {
		backendKind = "static"
	}

	srv := server.New(srvCfg, server.Deps{
		ExplainSvc:  svc,
		Store:       st,
		AuthSvc:     authSvc,
		Collector:   coll,
		CacheStats:  mem.Stats,
		BackendName: backendKind,
	}, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Backend:  %s\n", backendKind)
	if len(cfg.Targets) > 0 {
		fmt.Printf("→ Targets:  %d configured\n", len(cfg.Targets))
	}
	fmt.Println()

	return srv.ListenAndServe()
}
