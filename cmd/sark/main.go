// Command sark is the gateway's entrypoint: it wires every core component
// into the HTTP surface (serve), applies versioned schema migrations
// (migrate), mints bearer tokens for local/dev use (token issue), and
// triggers an out-of-band policy recompile (policy reload).
//
// The CLI is a single cobra root command with package-level flag
// variables bound to each subcommand, and a runServe that constructs
// every component in dependency order before handing them to the API
// server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/apathy-ca/sark/internal/adapter"
	"github.com/apathy-ca/sark/internal/adapter/database"
	"github.com/apathy-ca/sark/internal/adapter/grpcadapter"
	httpadapter "github.com/apathy-ca/sark/internal/adapter/http"
	"github.com/apathy-ca/sark/internal/adapter/mcpstdio"
	"github.com/apathy-ca/sark/internal/api"
	"github.com/apathy-ca/sark/internal/approval"
	"github.com/apathy-ca/sark/internal/audit"
	"github.com/apathy-ca/sark/internal/budget"
	"github.com/apathy-ca/sark/internal/cache"
	"github.com/apathy-ca/sark/internal/classifier"
	"github.com/apathy-ca/sark/internal/config"
	"github.com/apathy-ca/sark/internal/cost"
	"github.com/apathy-ca/sark/internal/enforcement"
	"github.com/apathy-ca/sark/internal/governance"
	"github.com/apathy-ca/sark/internal/policy"
	"github.com/apathy-ca/sark/internal/principal"
	"github.com/apathy-ca/sark/internal/ratelimit"
	"github.com/apathy-ca/sark/internal/registry"
	"github.com/apathy-ca/sark/internal/store"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sark",
		Short: "Policy enforcement gateway for MCP servers",
		Long:  "SARK — Secure Access Routing and Kontrol.\nA policy enforcement gateway sitting in front of MCP/HTTP/gRPC servers.",
	}

	var configFile string
	var port int

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the enforcement gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: ./sark.yaml)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")

	var migrateConfigFile string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending versioned schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(migrateConfigFile)
		},
	}
	migrateCmd.Flags().StringVarP(&migrateConfigFile, "config", "c", "", "Path to config file (default: ./sark.yaml)")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	var tokenSubject, tokenEmail, tokenIssuer string
	var tokenRoles []string
	var tokenTTL time.Duration
	tokenIssueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token signed with SARK_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(tokenSubject, tokenEmail, tokenIssuer, tokenRoles, tokenTTL)
		},
	}
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "Principal ID the token is issued for (required)")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "Principal email")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "sark", "JWT issuer claim")
	tokenIssueCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{"agent"}, "Roles to embed (repeatable)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)

	var reloadPort int
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage policy documents",
	}
	policyReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Recompile every policy document without restarting",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := reloadPort
			if p == 0 {
				p = config.DefaultConfig().Server.Port
			}
			resp, err := http.Post(
				fmt.Sprintf("http://localhost:%d/admin/policy/reload", p),
				"application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to sark: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("policies reloaded")
				return nil
			}
			return fmt.Errorf("reload failed: HTTP %d", resp.StatusCode)
		},
	}
	policyReloadCmd.Flags().IntVar(&reloadPort, "port", 0, "Gateway admin port")
	policyCmd.AddCommand(policyReloadCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("sark %s (%s)\n", version, commit)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, policyCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func findConfigFile() string {
	for _, candidate := range []string{"./sark.yaml", "./sark.yml", "/etc/sark/sark.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadConfig(configFile string) (*config.Config, error) {
	loader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := loader.Get()
	if err := config.ApplyEnvOverlay(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overlay: %w", err)
	}
	return cfg, nil
}

func newLogger(levelName string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runMigrate(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if err := store.Migrate(cfg.Storage); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func runTokenIssue(subject, email, issuer string, roles []string, ttl time.Duration) error {
	secret, err := config.JWTSecretFromEnv()
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("SARK_JWT_SECRET is not set")
	}
	if subject == "" {
		return fmt.Errorf("--subject is required")
	}

	principalRoles := make([]principal.Role, 0, len(roles))
	for _, r := range roles {
		principalRoles = append(principalRoles, principal.Role(r))
	}

	verifier := principal.NewHMACVerifier([]byte(secret), issuer)
	tok, err := verifier.Issue([]byte(secret), principal.Principal{
		ID:    subject,
		Email: email,
		Roles: principalRoles,
	}, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

// weekdayByName maps the config's lowercase day names to time.Weekday,
// the shape governance.TimeRule expects.
var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func buildTimeRules(cfgRules []config.TimeRuleConfig) []governance.TimeRule {
	rules := make([]governance.TimeRule, 0, len(cfgRules))
	for _, c := range cfgRules {
		days := make([]time.Weekday, 0, len(c.DaysOfWeek))
		for _, d := range c.DaysOfWeek {
			if wd, ok := weekdayByName[strings.ToLower(d)]; ok {
				days = append(days, wd)
			}
		}
		action := governance.TimeRuleAlert
		switch strings.ToLower(c.Action) {
		case "allow":
			action = governance.TimeRuleAllow
		case "block":
			action = governance.TimeRuleBlock
		}
		rules = append(rules, governance.TimeRule{
			Name:       c.Name,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
			DaysOfWeek: days,
			AppliesTo:  c.AppliesTo,
			Action:     action,
		})
	}
	return rules
}

// newAuditSink constructs the concrete Sink for one configured sink, or
// nil if the kind is unrecognized (logged and skipped, never fatal).
func newAuditSink(c config.AuditSinkConfig, logger *slog.Logger) audit.Sink {
	switch c.Kind {
	case "splunk_hec":
		return audit.NewSplunkHECSink(audit.SplunkHECConfig{
			Endpoint: c.Endpoint,
			Token:    c.Token,
			Index:    c.Index,
		})
	case "datadog":
		return audit.NewDatadogSink(audit.DatadogConfig{
			APIKey: c.Token,
		})
	case "slack":
		return audit.NewSlackSink(c.Endpoint, "")
	case "file":
		return audit.NewFileSink(c.Name, c.Endpoint)
	default:
		logger.Warn("unknown audit sink kind, skipping", "kind", c.Kind, "name", c.Name)
		return nil
	}
}

// redisSyncFunc builds a ratelimit.Limiter.SyncFunc backed by a shared
// Redis INCR+EXPIRE counter, so rate limits hold across replicas instead
// of each process tracking its own in-memory window.
func redisSyncFunc(client *redis.Client) func(identifier string, windowSeconds int) (int, error) {
	return func(identifier string, windowSeconds int) (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		key := "sark:ratelimit:" + identifier
		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("redis incr: %w", err)
		}
		if count == 1 {
			client.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)
		}
		return int(count), nil
	}
}

func runServe(configFile string, portOverride int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	logger := newLogger(cfg.Server.LogLevel)

	db, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	// Each domain store's own Migrate is an idempotent CREATE TABLE IF NOT
	// EXISTS, run here so `sark serve` works unattended against a fresh
	// sqlite file; `sark migrate` exists separately for deployments that
	// want schema changes reviewed and applied as discrete, tracked steps.
	regStore := registry.NewSQLStore(db)
	if err := regStore.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate registry schema: %w", err)
	}
	budgetStore := budget.NewSQLStore(db)
	if err := budgetStore.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate budget schema: %w", err)
	}

	decisionCache := cache.New(
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithLogger(logger),
	)
	decisionCache.Start()
	defer decisionCache.Stop()

	emergency := governance.NewEmergencySwitch(logger)
	allowlist := governance.NewAllowlist(cfg.Governance.Allowlist)
	bgOverride := governance.NewOverrideStore()
	timeRules := governance.NewTimeRuleSet(buildTimeRules(cfg.Governance.TimeRules), cfg.Budget.Timezone)

	costReg := cost.NewRegistry(logger)
	for _, provider := range []string{"openai", "anthropic", "azure-openai"} {
		costReg.Register(provider, cost.NewTokenPricedEstimator(provider))
	}

	budgetTrk := budget.New(
		budgetStore,
		decimal.NewFromFloat(cfg.Budget.DailyCap),
		decimal.NewFromFloat(cfg.Budget.MonthlyCap),
		cfg.Budget.Timezone,
		budget.WithLogger(logger),
	)

	limiter := ratelimit.New(logger)
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		limiter.SyncFunc = redisSyncFunc(rdb)
		logger.Info("rate limiter synchronized via redis", "addr", cfg.RateLimit.RedisAddr)
	}

	celBackend, err := policy.NewCELBackend(logger)
	if err != nil {
		return fmt.Errorf("failed to create CEL backend: %w", err)
	}
	regoBackend := policy.NewRegoBackend(logger)
	docIndex := policy.NewDocumentIndex()
	docLoader := policy.NewDocumentLoader(celBackend, regoBackend, docIndex, logger)
	if loaded, failures := docLoader.LoadDir(ctx, cfg.Policy.Directory); len(failures) > 0 {
		for _, f := range failures {
			logger.Warn("policy document failed to load", "error", f)
		}
		logger.Info("policy documents loaded", "count", loaded, "failures", len(failures))
	} else {
		logger.Info("policy documents loaded", "count", loaded)
	}

	rollout := policy.NewRollout(cfg.Policy.RolloutPercent)

	policyOpts := []policy.Option{policy.WithLogger(logger)}
	if cfg.Policy.Engine == "remote" && cfg.Policy.RemoteURL != "" {
		remote := policy.NewRemoteBackend(cfg.Policy.RemoteURL, cfg.Policy.RemoteTimeout, logger)
		policyOpts = append(policyOpts, policy.WithRemote(remote))
	}
	policyAdp := policy.NewAdapter(celBackend, regoBackend, docIndex, rollout, policyOpts...)

	var policyWatcher *policy.Watcher
	if w, err := policy.NewWatcher(cfg.Policy.Directory, docLoader, logger); err != nil {
		logger.Warn("failed to start policy directory watcher", "error", err)
	} else {
		policyWatcher = w
		policyWatcher.Start()
		defer policyWatcher.Stop()
	}

	auditPipe := audit.New(logger)
	for _, sinkCfg := range cfg.AuditSinks {
		sink := newAuditSink(sinkCfg, logger)
		if sink == nil {
			continue
		}
		sinkOpts := audit.DefaultSinkConfig()
		if sinkCfg.BatchSize > 0 {
			sinkOpts.BatchSize = sinkCfg.BatchSize
		}
		if sinkCfg.BatchTimeout > 0 {
			sinkOpts.BatchTimeout = sinkCfg.BatchTimeout
		}
		if sinkCfg.MinSizeBytes > 0 {
			sinkOpts.MinCompressBytes = sinkCfg.MinSizeBytes
		}
		if sinkCfg.CircuitBreaker.FailureThreshold > 0 {
			sinkOpts.FailureThreshold = sinkCfg.CircuitBreaker.FailureThreshold
		}
		if sinkCfg.CircuitBreaker.RecoveryTimeout > 0 {
			sinkOpts.RecoveryTimeout = sinkCfg.CircuitBreaker.RecoveryTimeout
		}
		sinkOpts.FallbackDir = sinkCfg.FallbackDir
		auditPipe.AddSink(sink, sinkOpts)
	}
	defer auditPipe.Stop()

	pipeline := enforcement.New(
		decisionCache, emergency, allowlist, bgOverride, timeRules,
		budgetTrk, limiter, policyAdp,
		enforcement.WithLogger(logger),
		enforcement.WithAudit(func(ctx context.Context, req enforcement.Request, d enforcement.Decision) {
			kind := audit.EventAuthorizationAllowed
			severity := audit.SeverityLow
			decision := "allow"
			if !d.Allow {
				kind = audit.EventAuthorizationDenied
				severity = audit.SeverityMedium
				decision = "deny"
			}
			details := map[string]any{"source": string(d.Source), "reason": d.Reason}
			if d.CacheHit {
				details["cache_hit"] = true
			}
			auditPipe.Emit(audit.Event{
				EventType:      kind,
				Severity:       severity,
				PrincipalEmail: req.PrincipalID,
				ResourceID:     req.Resource,
				ToolName:       req.Action,
				Decision:       decision,
				RequestID:      req.RequestID,
				Details:        details,
			})
		}),
	)

	reg := registry.New(regStore, registry.WithLogger(logger), registry.WithInvalidation(func(serverID string) {
		decisionCache.Invalidate(serverID)
	}))
	capStore := registry.NewCapabilityStore()
	overrideStore := classifier.NewOverrideStore()
	approvalQueue := approval.NewQueue(approval.NewMemStore())

	// Keyed by registry.Transport's string values, the lookup
	// internal/api's invoke handler uses — not each Adapter's own
	// ProtocolName (mcpstdio.Adapter reports "mcp-stdio" for
	// logging/metrics, but a Server's Transport field is "stdio").
	adapters := adapter.NewRegistry(map[string]adapter.Adapter{
		"http":     httpadapter.New(),
		"grpc":     grpcadapter.New(),
		"database": database.New(),
		"stdio":    mcpstdio.New(),
	})

	var verifier *principal.Verifier
	var jwtSecret []byte
	if secret, err := config.JWTSecretFromEnv(); err == nil && secret != "" {
		jwtSecret = []byte(secret)
		verifier = principal.NewHMACVerifier(jwtSecret, cfg.Identity.JWTIssuer)
	} else {
		logger.Warn("SARK_JWT_SECRET unset, running without bearer-token verification (dev mode)")
	}

	server := api.NewServer(cfg.Server, cfg.RateLimit, api.Deps{
		Pipeline:     pipeline,
		Registry:     reg,
		Caps:         capStore,
		Overrides:    overrideStore,
		Approvals:    approvalQueue,
		CostReg:      costReg,
		BudgetTrk:    budgetTrk,
		Audit:        auditPipe,
		Rollout:      rollout,
		Adapters:     adapters,
		Emergency:    emergency,
		Allowlist:    allowlist,
		BGOverride:   bgOverride,
		Limiter:      limiter,
		Verifier:     verifier,
		JWTSecret:    jwtSecret,
		PolicyLoader: docLoader,
		PolicyDir:    cfg.Policy.Directory,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCh:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	return nil
}
