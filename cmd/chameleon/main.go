// Command chameleon runs the MySQL-to-Postgres continuous replication
// pipeline described across pkg/catalog, pkg/snapshot, pkg/binlog, and
// pkg/cdc: an initial consistent snapshot followed by a continuous stream
// of binlog-derived changes, staged and replayed through a Postgres target.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chamgo/chameleon/pkg/binlog"
	"github.com/chamgo/chameleon/pkg/catalog"
	"github.com/chamgo/chameleon/pkg/cdc"
	"github.com/chamgo/chameleon/pkg/config"
	"github.com/chamgo/chameleon/pkg/dbconn"
	"github.com/chamgo/chameleon/pkg/projection"
	"github.com/chamgo/chameleon/pkg/snapshot"
	"github.com/chamgo/chameleon/pkg/target"
)

var cli struct {
	Config string `help:"Path to the TOML configuration file." short:"c"`

	Snapshot  snapshotCmd  `cmd:"" help:"Lock tracked tables, capture master status, and bulk-load the target."`
	Replicate replicateCmd `cmd:"" help:"Run the continuous CDC loop against an already-seeded target."`
}

func main() {
	ctx := kong.Parse(&cli, kong.Name("chameleon"), kong.Description("MySQL to PostgreSQL continuous replication."))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

type snapshotCmd struct {
	Concurrency int `help:"Number of tables copied in parallel." default:"4"`
}

type replicateCmd struct{}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func loadConfig() (config.Config, error) {
	return config.Load(cli.Config)
}

func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func dialSource(cfg config.Config) (*dbconnHandle, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.MySQLConn.User, cfg.MySQLConn.Passwd, cfg.MySQLConn.Host, cfg.MySQLConn.Port, cfg.MyDatabase)
	dbCfg := dbconn.NewDBConfig()
	db, err := dbconn.New(dsn, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	return &dbconnHandle{db: db, cfg: dbCfg}, nil
}

type dbconnHandle struct {
	db  *sql.DB
	cfg *dbconn.DBConfig
}

func dialTarget(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.TargetConn.User, cfg.TargetConn.Passwd, cfg.TargetConn.Host, cfg.TargetConn.Port,
		cfg.TargetConn.Database, cfg.TargetConn.SSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to target: %w", err)
	}
	return pool, nil
}

func (c *snapshotCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	ctx, cancel := rootContext()
	defer cancel()

	src, err := dialSource(cfg)
	if err != nil {
		return err
	}
	defer src.db.Close()

	pool, err := dialTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tgt := target.New(pool)
	if err := tgt.EnsureSchema(ctx); err != nil {
		return err
	}

	reader := catalog.NewReader(src.db, cfg.MyDatabase, cfg.TablesLimit)
	tables, _, dropped, err := reader.Load(ctx)
	if err != nil {
		return err
	}
	for _, name := range dropped {
		logger.Warnf("snapshot: table %s disappeared before it could be loaded, skipping", name)
	}

	engine := snapshot.NewEngine(src.db, src.cfg, tgt, snapshot.Config{
		Window:      cfg.SnapshotWindow,
		CopyMode:    cfg.CopyMode,
		Concurrency: c.Concurrency,
	}, logger)

	var progress snapshot.ProgressFunc
	var updates chan snapshotProgressMsg
	var tuiErrCh chan error
	if isTerminal() {
		updates = make(chan snapshotProgressMsg, 64)
		progress = func(table string, slice, totalSlices int, rowsCopied, totalRows int64) {
			updates <- snapshotProgressMsg{table, slice, totalSlices, rowsCopied, totalRows}
		}
		tuiErrCh = make(chan error, 1)
		go func() {
			tuiErrCh <- runSnapshotTUI(updates)
			// Keep draining after a ctrl+c detach so progress sends never block.
			for range updates {
			}
		}()
	} else {
		progress = func(table string, slice, totalSlices int, rowsCopied, totalRows int64) {
			logger.Infof("snapshot: %s slice %d/%d (%d/%d rows)", table, slice, totalSlices, rowsCopied, totalRows)
		}
	}

	status, runErr := engine.Run(ctx, tables, cfg.HexifySet(), progress)
	if updates != nil {
		close(updates)
		if tuiErr := <-tuiErrCh; tuiErr != nil {
			logger.Warnf("snapshot: tui exited with error: %v", tuiErr)
		}
	}
	if runErr != nil {
		return runErr
	}
	if err := tgt.SeedBatch(ctx, status); err != nil {
		return err
	}
	logger.Infof("snapshot complete at %s:%d, seeded first replication batch", status.LogFile, status.LogPos)
	return nil
}

func (c *replicateCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	ctx, cancel := rootContext()
	defer cancel()

	src, err := dialSource(cfg)
	if err != nil {
		return err
	}
	defer src.db.Close()

	pool, err := dialTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	tgt := target.New(pool)
	if err := tgt.EnsureSchema(ctx); err != nil {
		return err
	}

	reader := catalog.NewReader(src.db, cfg.MyDatabase, cfg.TablesLimit)
	tables, typeMap, dropped, err := reader.Load(ctx)
	if err != nil {
		return err
	}
	for _, name := range dropped {
		logger.Warnf("replicate: table %s disappeared before it could be loaded, skipping", name)
	}

	decoder := binlog.NewDecoder(binlog.Config{
		Addr:              fmt.Sprintf("%s:%d", cfg.MySQLConn.Host, cfg.MySQLConn.Port),
		User:              cfg.MySQLConn.User,
		Password:          cfg.MySQLConn.Passwd,
		ServerID:          cfg.MyServerID,
		IncludeTableRegex: []string{fmt.Sprintf("%s\\..*", cfg.MyDatabase)},
		Logger:            logger,
	})

	engine := cdc.NewEngine(cfg, typeMap, tgt, decoder, logger)
	engine.SetKeyMap(catalog.BuildKeyMap(tables))
	logger.Info("replicate: starting continuous replication loop")
	return cdc.Run(ctx, engine)
}
