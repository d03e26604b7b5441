package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/handler"
	"github.com/xenking/homechef/internal/storage/postgres"
)

const upsertConcurrency = 8

func main() {
	var (
		databaseURL string
		catalogFile string
		jwtSecret   string
		tokenTTL    time.Duration
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog", "db/seed/catalog.json", "path to catalog JSON, optionally .gz")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print bearer tokens for seeded accounts signed with this secret (or HOMECHEF_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("HOMECHEF_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := readCatalog(catalogFile)
	if err != nil {
		lg.Fatal("Read catalog", zap.Error(err))
	}
	if err := seed(ctx, lg, databaseURL, c); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed",
		zap.Int("clients", len(c.Clients)),
		zap.Int("chefs", len(c.Chefs)),
		zap.Int("dishes", len(c.Dishes)),
	)

	if jwtSecret != "" {
		if err := printTokens(handler.NewAuthenticator([]byte(jwtSecret)), c, tokenTTL); err != nil {
			lg.Fatal("Issue tokens", zap.Error(err))
		}
	}
}

func seed(ctx context.Context, lg *zap.Logger, databaseURL string, c *catalog) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	accounts := postgres.NewAccountRepository(pool)
	dishes := postgres.NewDishRepository(pool)

	// Accounts first: dishes reference chefs.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)
	for _, cl := range c.Clients {
		g.Go(func() error { return accounts.UpsertClient(gctx, cl) })
	}
	for _, ch := range c.Chefs {
		g.Go(func() error { return accounts.UpsertChef(gctx, ch) })
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "upsert accounts")
	}
	lg.Info("Accounts upserted", zap.Int("clients", len(c.Clients)), zap.Int("chefs", len(c.Chefs)))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)
	for _, ds := range c.Dishes {
		g.Go(func() error { return dishes.Upsert(gctx, ds) })
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "upsert dishes")
	}
	lg.Info("Dishes upserted", zap.Int("count", len(c.Dishes)))
	return nil
}

func printTokens(a *handler.Authenticator, c *catalog, ttl time.Duration) error {
	issue := func(id auth.Identity, name string) error {
		tok, err := a.Issue(id, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", id.Role, id.SubjectID, name, tok)
		return nil
	}
	for _, cl := range c.Clients {
		if err := issue(auth.Identity{SubjectID: cl.ID, Role: auth.RoleClient}, cl.Name); err != nil {
			return err
		}
	}
	for _, ch := range c.Chefs {
		if err := issue(auth.Identity{SubjectID: ch.ID, Role: auth.RoleChef}, ch.Name); err != nil {
			return err
		}
	}
	return issue(auth.Identity{SubjectID: "admin", Role: auth.RoleAdmin}, "admin")
}
