package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/flow-hydraulics/credential-vault/accounts"
	"github.com/flow-hydraulics/credential-vault/analytics"
	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/connections"
	"github.com/flow-hydraulics/credential-vault/datastore"
	"github.com/flow-hydraulics/credential-vault/datastore/gorm"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/basic"
	"github.com/flow-hydraulics/credential-vault/keys/encryption"
	"github.com/flow-hydraulics/credential-vault/oauthstate"
	"github.com/flow-hydraulics/credential-vault/otel"
	"github.com/flow-hydraulics/credential-vault/users"
	"github.com/flow-hydraulics/credential-vault/vault"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

const version = "0.1.0"

var (
	sha1ver   string // sha1 revision used to build the program
	buildTime string // when the executable was built
)

const usage = `usage: credential-vault [-version] <command> [args]

commands:
  migrate                              create or upgrade the database schema
  register <userId> <email>            register a user allowed to store secrets
  google-begin <userId> <redirectUri>  print the google consent url for a user
  google-accounts <userId>             list connected google accounts
  plaid-list <userId>                  list linked plaid institutions
  plaid-delete <userId> <entryId>      unlink one plaid institution
  plaid-reset <userId>                 unlink every plaid institution
  prune-states                         delete used and expired oauth states
`

func main() {
	var printVersion bool

	// If we should just print the version number and exit
	flag.BoolVar(&printVersion, "version", false, "if true, print version and exit")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if printVersion {
		fmt.Printf("v%s build on %s from sha1 %s\n", version, buildTime, sha1ver)
		os.Exit(0)
	}

	cfg, err := configs.Parse()
	if err != nil {
		panic(err)
	}

	configs.ConfigureLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Command failed")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	if cfg.TracingEnabled {
		tp, err := otel.InitTracer(cfg.TracingProjectID)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn(err)
			}
		}()
	}

	// Database
	db, err := gorm.New(cfg)
	if err != nil {
		return err
	}
	defer gorm.Close(db)

	cmd, args := args[0], args[1:]

	if cmd == "migrate" {
		log.Info("Database migrated")
		return nil
	}

	userStore := users.NewGormStore(db)
	if cmd == "register" {
		if err := expectArgs(cmd, args, 2); err != nil {
			return err
		}
		return userStore.Register(ctx, &users.User{ID: args[0], Email: args[1], IsRegistered: true})
	}

	kms, closeKMS, err := basic.NewKMS(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKMS()

	codecOpts := []encryption.CodecOption{}
	if cfg.KMSMaxRequestRate > 0 {
		codecOpts = append(codecOpts, encryption.WithRateLimiter(ratelimit.New(cfg.KMSMaxRequestRate)))
	}
	codec := encryption.NewCodec(cfg.IsLocal(), kms, codecOpts...)

	store := datastore.NewGormStore(db)

	var stateStore oauthstate.Store
	switch cfg.OAuthStateStore {
	// Shared SQL/Gorm store (same as for main app)
	case configs.StateStoreShared:
		stateStore = oauthstate.NewDocumentStore(store)
	// Redis, separate from app db
	case configs.StateStoreRedis:
		pool := oauthstate.NewRedisPool(cfg.RedisURL)
		defer func() {
			log.Info("Closing Redis pool..")
			if err := pool.Close(); err != nil {
				log.Warn(err)
			}
		}()
		stateStore = oauthstate.NewRedisStore(pool, cfg.OAuthStateTTL)
	}

	google := oauthstate.NewGoogleProvider(cfg)

	var sink analytics.Sink = analytics.LogSink{}
	if cfg.AnalyticsWebhookURL != "" {
		if sink, err = analytics.NewWebhookSink(cfg.AnalyticsWebhookURL, cfg.AnalyticsWebhookTimeout); err != nil {
			return err
		}
	}

	svc := vault.NewService(
		userStore,
		keys.NewProvisioner(cfg, kms, userStore),
		oauthstate.NewLedger(stateStore, google, cfg.OAuthStateTTL),
		accounts.NewStore(store, codec),
		connections.NewStore(store, codec),
		vault.WithAnalytics(sink),
		vault.WithGoogleProvider(google),
	)

	switch cmd {
	case "google-begin":
		if err := expectArgs(cmd, args, 2); err != nil {
			return err
		}
		u, err := svc.GoogleAuthURL(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, u)
		return nil
	case "google-accounts":
		if err := expectArgs(cmd, args, 1); err != nil {
			return err
		}
		emails, err := svc.ListGoogleAccountEmails(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, emails)
	case "plaid-list":
		if err := expectArgs(cmd, args, 1); err != nil {
			return err
		}
		list, err := svc.ListPlaidAccounts(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, list)
	case "plaid-delete":
		if err := expectArgs(cmd, args, 2); err != nil {
			return err
		}
		deleted, err := svc.DeletePlaidAccount(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(out, map[string]bool{"deleted": deleted})
	case "plaid-reset":
		if err := expectArgs(cmd, args, 1); err != nil {
			return err
		}
		existed, err := svc.ResetPlaidAccounts(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, map[string]bool{"deleted": existed})
	case "prune-states":
		n, err := svc.PruneStates(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"pruned": n})
	}

	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func expectArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d arguments, got %d", cmd, n, len(args))
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
