// Command biomass-report runs the FishMIP biomass projection ensemble
// pipeline: per-model decade means, percentage change against the historical
// reference decade, multi-model ensemble aggregation, and the join onto
// CCAMLR planning domains and MEASO assessment regions.
//
// Usage:
//
//	biomass-report [flags]                 run the full pipeline
//	biomass-report [flags] migrate <cmd>   manage the run-archive schema
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/measo-data/biomass.report/internal/config"
	"github.com/measo-data/biomass.report/internal/pipeline"
	"github.com/measo-data/biomass.report/internal/resultdb"
	"github.com/measo-data/biomass.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a pipeline config JSON file")
	inputRoot  = flag.String("input", "", "Directory holding raw model series and mask tables")
	outputRoot = flag.String("output", "", "Destination for intermediate and final artifacts")
	dbPath     = flag.String("db", "", "Run-archive database path (default <output>/"+config.DefaultDatabaseFile+")")
	noDB       = flag.Bool("no-db", false, "Skip recording the run in the archive database")
	workers    = flag.Int("workers", 0, "Reduction worker pool size (default 4)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override both the config file and the environment.
	if *inputRoot != "" {
		cfg.InputRoot = inputRoot
	}
	if *outputRoot != "" {
		cfg.OutputRoot = outputRoot
	}
	if *dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if *noDB {
		cfg.DisableDB = noDB
	}
	if *workers > 0 {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		runMigrateCommand(flag.Args()[1:], cfg.GetDatabasePath())
		return
	}

	summary, err := pipeline.Run(cfg)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	log.Printf("pipeline complete: %d model pairs, %d skipped files, %d ensemble cells", summary.Models, summary.Skipped, summary.Cells)
	if summary.RunID != "" {
		log.Printf("run recorded as %s", summary.RunID)
	}
}

// runMigrateCommand handles the 'migrate' subcommand dispatching.
func runMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		printMigrateHelp()
		os.Exit(1)
	}

	// Open without running migrations; the subcommands manage the schema.
	sqlDB, err := resultdb.OpenRaw(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	switch args[0] {
	case "up":
		if err := sqlDB.MigrateUp(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Print("migrations applied")

	case "down":
		if err := sqlDB.MigrateDown(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Print("rolled back one migration")

	case "status":
		version, dirty, err := sqlDB.MigrateVersion()
		if err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: biomass-report migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[1], err)
		}
		if err := sqlDB.MigrateForce(version); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		log.Printf("schema version forced to %d", version)

	default:
		printMigrateHelp()
		os.Exit(1)
	}
}

func printMigrateHelp() {
	fmt.Fprintln(os.Stderr, `Usage: biomass-report [flags] migrate <command>

Commands:
  up       apply all pending migrations
  down     roll back the most recent migration
  status   print the current schema version
  force    force the schema version (recovery only)`)
}
