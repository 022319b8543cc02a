package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/config"
	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/orchestrator"
	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/verify"
)

var Version = "dev"

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		zone      = flag.String("zone", "", "zone to change (required)")
		name      = flag.String("name", "", "record name, fully qualified (required)")
		rtype     = flag.String("type", "A", "record type")
		op        = flag.String("op", "add", "operation: add, replace or delete")
		ttl       = flag.Int("ttl", 300, "record TTL in seconds")
		comment   = flag.String("comment", "", "submission comment")
		verbosity = flag.Int("v", 0, "log verbosity")
	)
	var values stringList
	flag.Var(&values, "value", "record value (repeatable)")
	flag.Parse()

	zapLog, err := zap.NewDevelopment(zap.IncreaseLevel(zapcore.Level(-*verbosity)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	if err := run(log, *zone, *name, *rtype, *op, *ttl, values, *comment); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(log logr.Logger, zone, name, rtype, op string, ttl int, values []string, comment string) error {
	log.Info("starting yk-zone-manager", "version", Version)

	if zone == "" || name == "" {
		return fmt.Errorf("both -zone and -name are required")
	}
	mutation := orchestrator.Mutation{
		Name:   name,
		Type:   strings.ToUpper(rtype),
		TTL:    ttl,
		Values: values,
	}
	switch strings.ToLower(op) {
	case "add":
		mutation.Op = orchestrator.OpAdd
	case "replace":
		mutation.Op = orchestrator.OpReplace
	case "delete":
		mutation.Op = orchestrator.OpDelete
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	log.Info("loaded config", "baseURL", cfg.API.BaseURL)

	sign := func(req *http.Request) error {
		req.Header.Set(cfg.API.AuthHeader, cfg.API.AuthToken)
		return nil
	}
	doer, err := edgeapi.NewHTTPDoer(cfg.API.BaseURL, sign, edgeapi.HTTPDoerOptions{SkipTLSVerify: cfg.API.SkipTLSVerify})
	if err != nil {
		return fmt.Errorf("unable to create API client: %w", err)
	}
	client := edgeapi.NewClient(doer, log.WithName("edgeapi"))

	var verifier orchestrator.Verifier
	if cfg.Verify.Enabled {
		verifier = verify.New(log.WithName("verify"), verify.Config{
			Servers: cfg.Verify.Servers,
			Backoff: cfg.Verify.Backoff.Std(),
			Timeout: cfg.Verify.Timeout.Std(),
		})
	}

	engine := orchestrator.NewEngine(client, verifier, log.WithName("orchestrator"), orchestrator.Options{
		PollInterval:          cfg.Orchestration.PollInterval.Std(),
		ConvergenceTimeout:    cfg.Orchestration.ConvergenceTimeout.Std(),
		RollbackOnTimeout:     cfg.Orchestration.RollbackOnTimeout,
		CancelRollbackTimeout: cfg.Orchestration.CancelRollbackTimeout.Std(),
		VerifyAttempts:        cfg.Verify.Attempts,
		SafetyChecks: edgeapi.SafetyChecks{
			ValidateRecords: cfg.Orchestration.ValidateRecords,
			BypassWarnings:  cfg.Orchestration.BypassWarnings,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Apply(ctx, zone, []orchestrator.Mutation{mutation}, comment)
	if err != nil {
		return err
	}
	log.Info("run finished", "zone", result.Zone, "outcome", result.Outcome,
		"requestId", result.RequestID, "percent", result.Status.Percent, "verified", result.Verified)
	if result.Outcome != orchestrator.OutcomeSucceeded {
		return fmt.Errorf("run ended with outcome %s: %w", result.Outcome, result.Err)
	}
	return nil
}
