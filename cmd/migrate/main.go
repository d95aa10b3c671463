package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/clinicops/backend/internal/infrastructure/config"
	"github.com/clinicops/backend/internal/infrastructure/logger"
	"github.com/clinicops/backend/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// cmdEnv carries what a command needs to run. The migrator is only wired
// for commands that declare needsDB.
type cmdEnv struct {
	log            *zap.Logger
	migrator       *migration.Migrator
	migrationsPath string
}

type command struct {
	usage   string
	help    string
	needsDB bool
	run     func(env *cmdEnv, args []string) error
}

var commands = map[string]command{
	"up": {
		usage:   "up",
		help:    "apply all pending migrations",
		needsDB: true,
		run: func(env *cmdEnv, _ []string) error {
			return env.migrator.Up()
		},
	},
	"down": {
		usage:   "down",
		help:    "roll back all migrations",
		needsDB: true,
		run: func(env *cmdEnv, _ []string) error {
			return env.migrator.Down()
		},
	},
	"step": {
		usage:   "step <n>",
		help:    "apply n migrations, negative n rolls back",
		needsDB: true,
		run: func(env *cmdEnv, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("step count required")
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return env.migrator.Steps(n)
		},
	},
	"goto": {
		usage:   "goto <version>",
		help:    "migrate up or down to a specific version",
		needsDB: true,
		run: func(env *cmdEnv, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("target version required")
			}
			version, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return env.migrator.GoTo(uint(version))
		},
	},
	"version": {
		usage:   "version",
		help:    "show the current schema version",
		needsDB: true,
		run: func(env *cmdEnv, _ []string) error {
			version, dirty, err := env.migrator.Version()
			if err != nil {
				return err
			}
			if version == 0 {
				env.log.Info("no migrations applied")
				return nil
			}
			env.log.Info("current schema version",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
			return nil
		},
	},
	"force": {
		usage:   "force <version>",
		help:    "overwrite the recorded version without running SQL",
		needsDB: true,
		run: func(env *cmdEnv, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("version required")
			}
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return env.migrator.Force(version)
		},
	},
	"drop": {
		usage:   "drop --confirm",
		help:    "drop every database object, data included",
		needsDB: true,
		run: func(env *cmdEnv, args []string) error {
			confirmed := false
			for _, arg := range args {
				if arg == "-confirm" || arg == "--confirm" {
					confirmed = true
				}
			}
			if !confirmed {
				return fmt.Errorf("refusing to drop without --confirm")
			}
			return env.migrator.Drop()
		},
	},
	"create": {
		usage: "create <name> [description]",
		help:  "write a new up/down migration pair",
		run: func(env *cmdEnv, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("migration name required")
			}
			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			mf, err := migration.CreateMigration(env.migrationsPath, args[0], description)
			if err != nil {
				return err
			}
			env.log.Info("migration created",
				zap.String("version", mf.Version),
				zap.String("up_file", mf.UpPath),
				zap.String("down_file", mf.DownPath),
			)
			return nil
		},
	},
	"list": {
		usage: "list",
		help:  "list the migrations on disk",
		run: func(env *cmdEnv, _ []string) error {
			migrations, err := migration.ListMigrations(env.migrationsPath)
			if err != nil {
				return err
			}
			if len(migrations) == 0 {
				env.log.Info("no migrations found")
				return nil
			}
			env.log.Info("available migrations", zap.Int("count", len(migrations)))
			for _, m := range migrations {
				fmt.Println("  -", m)
			}
			return nil
		},
	},
}

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", "migrations", "path to the migrations directory")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		log.Fatal("failed to resolve migrations path", zap.Error(err))
	}

	env := &cmdEnv{log: log, migrationsPath: absPath}

	if cmd.needsDB {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal("failed to load configuration", zap.Error(err))
		}

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			log.Fatal("failed to ping database", zap.Error(err))
		}

		m, err := migration.New(db, absPath, log)
		if err != nil {
			log.Fatal("failed to create migrator", zap.Error(err))
		}
		defer m.Close()
		env.migrator = m
	}

	if err := cmd.run(env, args[1:]); err != nil {
		log.Fatal("command failed", zap.String("command", name), zap.Error(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Clinic database migration tool")
	fmt.Fprintln(os.Stderr, "\nUsage:\n  migrate [flags] <command> [arguments]\n\nCommands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-26s %s\n", commands[name].usage, commands[name].help)
	}

	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nDatabase settings come from config.toml and CLINIC_ environment")
	fmt.Fprintln(os.Stderr, "overrides (CLINIC_DATABASE_HOST, CLINIC_DATABASE_USER, ...).")
}
