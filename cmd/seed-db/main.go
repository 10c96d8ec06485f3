package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderkeeper/internal/domain/product"
	"github.com/xenking/orderkeeper/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		migrate     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&migrate, "migrate", true, "apply pending migrations before seeding")
	flag.Usage = func() {
		_, _ = io.WriteString(flag.CommandLine.Output(),
			"usage: seed-db [flags] items.json [more.json.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		files = []string{"db/seed/items.json"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, migrate, files); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, migrate bool, files []string) error {
	// Parse everything before touching the database so a bad file seeds nothing.
	catalog, err := readFiles(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if migrate {
		slog.Info("running migrations")
		if err := postgres.RunMigrations(databaseURL); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	return seedProducts(ctx, postgres.NewProductRepository(pool), catalog)
}

// readFiles parses all files concurrently. Later files override earlier ones
// for the same id.
func readFiles(ctx context.Context, files []string) ([]product.Product, error) {
	results := make([][]product.Product, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			products, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("parsed items file", slog.String("path", path), slog.Int("count", len(products)))
			results[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var merged []product.Product
	for _, products := range results {
		for _, p := range products {
			if i, ok := index[p.ID]; ok {
				merged[i] = p
				continue
			}
			index[p.ID] = len(merged)
			merged = append(merged, p)
		}
	}
	return merged, nil
}

func readFile(ctx context.Context, path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeProducts(jx.Decode(r, 64*1024))
}

// decodeProducts reads a JSON array of {"id", "name", "price"} objects. The
// price may be a JSON number or a decimal string.
func decodeProducts(d *jx.Decoder) ([]product.Product, error) {
	var products []product.Product
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			p        product.Product
			hasPrice bool
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Str()
				p.ID = v
				return err
			case "name":
				v, err := d.Str()
				p.Name = v
				return err
			case "price":
				hasPrice = true
				return decodePrice(d, &p.Price)
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		switch {
		case strings.TrimSpace(p.ID) == "":
			return errors.New("item without id")
		case !hasPrice:
			return errors.Errorf("item %s: missing price", p.ID)
		case p.Price.IsNegative():
			return errors.Errorf("item %s: negative price %s", p.ID, p.Price)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return products, nil
}

func decodePrice(d *jx.Decoder, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		raw = n.String()
	default:
		return errors.Errorf("price: unexpected %s", d.Next())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrap(err, "price")
	}
	*dst = v
	return nil
}

func seedProducts(ctx context.Context, repo product.Repository, products []product.Product) error {
	slog.Info("upserting items", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert item %s", p.ID)
		}
		slog.Debug("upserted item", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}
