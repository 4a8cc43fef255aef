package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/pagecrowd/pagecrowd/internal/annot"
	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/handler"
	"github.com/pagecrowd/pagecrowd/internal/images"
	"github.com/pagecrowd/pagecrowd/internal/ledger"
	"github.com/pagecrowd/pagecrowd/internal/marketplace"
	"github.com/pagecrowd/pagecrowd/internal/middleware"
	"github.com/pagecrowd/pagecrowd/internal/pipeline"
	"github.com/pagecrowd/pagecrowd/internal/review"
	"github.com/pagecrowd/pagecrowd/internal/store"
	"github.com/pagecrowd/pagecrowd/internal/ws"
)

// app bundles the wired components behind one CLI invocation.
type app struct {
	cfg      *config.Config
	rdb      *redis.Client
	store    *store.Store
	market   *marketplace.Client
	comparer *annot.Comparer
	ledger   ledger.Ledger
	pipeline *pipeline.Service
	review   *review.Service
}

// newApp wires configuration, storage and services for one command run.
func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg := config.Load(cmd.String("env"))
	if cmd.Bool("accept-prompts") {
		log.Printf("[main] running with --accept-prompts, cost confirmations are skipped")
		cfg.AcceptPrompts = true
	}
	if cmd.Bool("verbose") {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	// ── Redis ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// ── SQL Store ──
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	st, err := store.NewStore(dsn, rdb, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	// ── Services ──
	market := marketplace.NewClient(cfg)
	imageStore := images.NewStore(cfg)
	comparer := annot.NewComparer(imageStore, annot.DefaultIoUThreshold)
	ledg := ledger.NewLedger(st, market, cfg)

	return &app{
		cfg:      cfg,
		rdb:      rdb,
		store:    st,
		market:   market,
		comparer: comparer,
		ledger:   ledg,
		pipeline: pipeline.NewService(st, market, comparer, ledg, cfg),
		review:   review.NewService(st, market, ledg, cfg),
	}, nil
}

func (a *app) close() {
	a.rdb.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cli.Command{
		Name:  "pagecrowd",
		Usage: "crowdsourced page annotation pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment variable file path",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
			&cli.BoolFlag{
				Name:    "accept-prompts",
				Aliases: []string{"y"},
				Usage:   "skip interactive cost confirmations",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "register pages from a document manifest CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "manifest",
						Usage:    "manifest CSV path (columns: id, page_count, optional group)",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.Ingest(ctx, cmd.String("manifest"))
				},
			},
			{
				Name:  "publish",
				Usage: "publish pages as marketplace tasks",
				Commands: []*cli.Command{
					{
						Name:  "random",
						Usage: "publish randomly sampled unannotated pages",
						Flags: append(publishGateFlags(),
							&cli.IntFlag{
								Name:     "count",
								Aliases:  []string{"n"},
								Usage:    "number of pages to publish",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "comment",
								Usage: "instruction text shown to workers",
							},
						),
						Action: func(ctx context.Context, cmd *cli.Command) error {
							a, err := newApp(ctx, cmd)
							if err != nil {
								return err
							}
							defer a.close()
							return a.pipeline.PublishRandom(ctx, int(cmd.Int("count")), cmd.String("comment"),
								int(cmd.Int("min-points")), int(cmd.Int("max-points")), cmd.Bool("require-qual-done"))
						},
					},
					{
						Name:  "pages",
						Usage: "publish specific pages by id",
						Flags: append(publishGateFlags(),
							&cli.StringSliceFlag{
								Name:     "ids",
								Usage:    "page ids",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "comment",
								Usage: "instruction text shown to workers",
							},
						),
						Action: func(ctx context.Context, cmd *cli.Command) error {
							a, err := newApp(ctx, cmd)
							if err != nil {
								return err
							}
							defer a.close()
							return a.pipeline.PublishSpecific(ctx, cmd.StringSlice("ids"), cmd.String("comment"),
								int(cmd.Int("min-points")), int(cmd.Int("max-points")), cmd.Bool("require-qual-done"))
						},
					},
					{
						Name:  "qualification",
						Usage: "republish the qualification page set",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "comment",
								Usage: "instruction text shown to workers",
							},
							&cli.IntFlag{
								Name:    "max-assignments",
								Aliases: []string{"a"},
								Usage:   "max number of workers per page",
								Value:   10,
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							a, err := newApp(ctx, cmd)
							if err != nil {
								return err
							}
							defer a.close()
							return a.pipeline.PublishQualificationPages(ctx, cmd.String("comment"), int(cmd.Int("max-assignments")))
						},
					},
				},
			},
			{
				Name:  "fetch-results",
				Usage: "poll submitted pages and pull in finished work",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.FetchResults(ctx)
				},
			},
			{
				Name:  "eval-retrieved",
				Usage: "evaluate retrieved pages against each other",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.EvalRetrieved(ctx)
				},
			},
			{
				Name:  "create-qual-types",
				Usage: "provision the marketplace qualification types",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.CreateQualTypes(ctx)
				},
			},
			{
				Name:  "create-hit-type",
				Usage: "register a task template from the configured parameters",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "active",
						Usage: "make this the active template for the environment",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.CreateHITType(ctx, cmd.Bool("active"))
				},
			},
			{
				Name:  "mark-qual-pages",
				Usage: "flag pages as the qualification set",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "ids",
						Usage:    "page ids",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.MarkPagesForQualification(ctx, cmd.StringSlice("ids"))
				},
			},
			{
				Name:  "compare",
				Usage: "run the agreement check between two assignments",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "page", Usage: "page id", Required: true},
					&cli.StringFlag{Name: "assignment1", Usage: "first assignment id", Required: true},
					&cli.StringFlag{Name: "assignment2", Usage: "second assignment id", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					match, err := a.pipeline.CompareAssignments(ctx, cmd.String("page"),
						cmd.String("assignment1"), cmd.String("assignment2"))
					if err != nil {
						return err
					}
					if match {
						fmt.Println("assignments match")
					} else {
						fmt.Println("assignments don't match")
					}
					return nil
				},
			},
			{
				Name:  "export",
				Usage: "export accepted answers as JSON files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "output-dir",
						Aliases:  []string{"o"},
						Usage:    "output directory",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "crop-whitespace",
						Usage: "tighten annotations to visible content before export",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return a.pipeline.ExportAnswers(ctx, cmd.String("output-dir"), cmd.Bool("crop-whitespace"))
				},
			},
			{
				Name:  "notify",
				Usage: "message workers on the marketplace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "message subject", Required: true},
					&cli.StringFlag{Name: "text", Usage: "message body", Required: true},
					&cli.StringSliceFlag{Name: "workers", Usage: "worker ids"},
					&cli.IntFlag{Name: "min-points", Usage: "lower verification point bound", Value: -1},
					&cli.IntFlag{Name: "max-points", Usage: "upper verification point bound", Value: -1},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					if workers := cmd.StringSlice("workers"); len(workers) > 0 {
						return a.pipeline.NotifyWorkers(ctx, cmd.String("subject"), cmd.String("text"), workers)
					}
					var min, max *int
					if v := int(cmd.Int("min-points")); v >= 0 {
						min = &v
					}
					if v := int(cmd.Int("max-points")); v >= 0 {
						max = &v
					}
					return a.pipeline.NotifyWorkersInPointRange(ctx, cmd.String("subject"), cmd.String("text"), min, max)
				},
			},
			{
				Name:  "status",
				Usage: "show per-status page counts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					counts, err := a.pipeline.StatusCounts(ctx)
					if err != nil {
						return err
					}
					var total int64
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Status", "Pages"})
					for _, sc := range counts {
						tw.AppendRow(table.Row{sc.Status, sc.Count})
						total += sc.Count
					}
					tw.AppendFooter(table.Row{"TOTAL", total})
					tw.Render()
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "run the review web server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.close()
					return serve(ctx, a)
				},
			},
		},
	}

	if err := root.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// publishGateFlags are the worker gating options shared by publish commands.
func publishGateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "min-points",
			Usage: "minimum qualification score (0 disables)",
		},
		&cli.IntFlag{
			Name:  "max-points",
			Usage: "maximum qualification score (0 disables)",
		},
		&cli.BoolFlag{
			Name:  "require-qual-done",
			Usage: "gate on qualification-task completion instead of points",
		},
	}
}

// serve runs the review web surface until the context is cancelled.
func serve(ctx context.Context, a *app) error {
	// ── WebSocket Hub ──
	hub := ws.NewHub()

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	h := handler.NewHandler(a.store, a.review, a.comparer, hub, a.cfg)
	h.RegisterRoutes(r)

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    a.cfg.ServerAddr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", a.cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Println("server exited cleanly")
	return nil
}
