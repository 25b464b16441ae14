package pipeline

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/measo-data/biomass.report/internal/artifact"
	"github.com/measo-data/biomass.report/internal/config"
	"github.com/measo-data/biomass.report/internal/monitoring"
	"github.com/measo-data/biomass.report/internal/regions"
	"github.com/measo-data/biomass.report/internal/resultdb"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fixtureTree builds a two-model input tree: at cell (0,-65) model A
// projects +20% and model B −20% (ensemble mean 0), at cell (1,-65) both
// project +10%, and cell (50,-50) has data but no regional assignment.
func fixtureTree(t *testing.T) (inputRoot, outputRoot string) {
	t.Helper()
	inputRoot, outputRoot = t.TempDir(), t.TempDir()

	writeFile(t, filepath.Join(inputRoot, "apecosm_ipsl_ssp126_tcb.csv"),
		"lat,lon,date,tcb",
		"-65,0,2005-01-16,100",
		"-65,0,2091-01-16,120",
		"-65,1,2005-01-16,100",
		"-65,1,2091-01-16,110",
		"-50,50,2005-01-16,100",
		"-50,50,2091-01-16,150",
	)

	writeFile(t, filepath.Join(inputRoot, "boats_ipsl_ssp126_tcb.csv"),
		"lat,lon,date,tcb",
		"-65,0,2005-01-16,100",
		"-65,0,2091-01-16,80",
		"-65,1,2005-01-16,100",
		"-65,1,2091-01-16,110",
	)

	maskDir := filepath.Join(inputRoot, "masks")
	if err := os.MkdirAll(maskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(maskDir, "ccamlr_domains.csv"),
		"lon,lat,domain",
		"0,-65,1",
		"1,-65,1",
	)
	writeFile(t, filepath.Join(maskDir, "ccamlr_domain_names.csv"),
		"key,name",
		"1,Ross Sea",
	)
	writeFile(t, filepath.Join(maskDir, "measo_regions.csv"),
		"lon,lat,region",
		"0,-65,Atlantic Antarctic",
		"1,-65,Atlantic Antarctic",
	)

	return inputRoot, outputRoot
}

func fixtureConfig(inputRoot, outputRoot string) *config.Config {
	cfg := config.Empty()
	cfg.InputRoot = &inputRoot
	cfg.OutputRoot = &outputRoot
	cfg.Scenarios = []string{"ssp126"}
	return cfg
}

func readRows(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// fixed6 mirrors the artifact value formatting.
func fixed6(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func TestRun_EndToEnd(t *testing.T) {
	inputRoot, outputRoot := fixtureTree(t)
	cfg := fixtureConfig(inputRoot, outputRoot)

	summary, err := Run(cfg)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if summary.Models != 2 {
		t.Errorf("expected 2 contributing model pairs, got %d", summary.Models)
	}
	if summary.Skipped != 0 {
		t.Errorf("expected no skips, got %d", summary.Skipped)
	}
	if summary.Cells != 3 {
		t.Errorf("expected 3 ensemble cells, got %d", summary.Cells)
	}
	if summary.RunID == "" {
		t.Error("expected a recorded run ID")
	}

	paths, err := artifact.Collect(outputRoot)
	if err != nil || len(paths) != 2 {
		t.Fatalf("expected 2 percent-change artifacts, got %v (err %v)", paths, err)
	}

	// CCAMLR result: opposing changes cancel at (0,-65); SD over {0,10} is
	// 10/sqrt(2); the unassigned cell (50,-50) is dropped.
	lines := readRows(t, filepath.Join(outputRoot, artifact.RegionalResultName(regions.SchemeCCAMLR)))
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if lines[0] != "lon,lat,region,mean_perc_change_ssp126,sd_perc_change_ssp126" {
		t.Errorf("unexpected header %q", lines[0])
	}
	wantSD := fixed6(10 / math.Sqrt2)
	if lines[1] != "0,-65,Ross Sea,0.000000,"+wantSD {
		t.Errorf("unexpected row %q", lines[1])
	}
	if lines[2] != "1,-65,Ross Sea,10.000000,"+wantSD {
		t.Errorf("unexpected row %q", lines[2])
	}

	// MEASO result exists independently.
	measo := readRows(t, filepath.Join(outputRoot, artifact.RegionalResultName(regions.SchemeMEASO)))
	if len(measo) != 3 {
		t.Errorf("expected header + 2 MEASO rows, got %d", len(measo))
	}

	// The run archive holds the same statistics.
	db, err := resultdb.Open(cfg.GetDatabasePath())
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer db.Close()
	summaries, err := db.RegionSummaries(summary.RunID, regions.SchemeCCAMLR, "ssp126")
	if err != nil {
		t.Fatalf("failed to query archive: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Region != "Ross Sea" || summaries[0].Cells != 2 {
		t.Errorf("unexpected archive summaries %+v", summaries)
	}
}

func TestRun_Idempotent(t *testing.T) {
	inputRoot, outputRoot := fixtureTree(t)
	cfg := fixtureConfig(inputRoot, outputRoot)
	disable := true
	cfg.DisableDB = &disable

	if _, err := Run(cfg); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	resultPath := filepath.Join(outputRoot, artifact.RegionalResultName(regions.SchemeCCAMLR))
	first, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Run(cfg); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("rerun on unchanged inputs produced different regional results")
	}
}

func TestRun_SkipsBadModelFile(t *testing.T) {
	inputRoot, outputRoot := fixtureTree(t)

	// A model file missing the biomass column must be skipped, not abort
	// the ensemble.
	writeFile(t, filepath.Join(inputRoot, "broken_ipsl_ssp126_tcb.csv"),
		"lat,lon,date,chlorophyll",
		"-65,0,2005-01-16,1",
	)

	cfg := fixtureConfig(inputRoot, outputRoot)
	disable := true
	cfg.DisableDB = &disable

	summary, err := Run(cfg)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("expected 1 skipped file, got %d", summary.Skipped)
	}
	if summary.Models != 2 {
		t.Errorf("expected the 2 healthy pairs to contribute, got %d", summary.Models)
	}
}

func TestRun_EmptyInputNotFatal(t *testing.T) {
	inputRoot, outputRoot := t.TempDir(), t.TempDir()

	maskDir := filepath.Join(inputRoot, "masks")
	if err := os.MkdirAll(maskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(maskDir, "ccamlr_domains.csv"), "lon,lat,domain")
	writeFile(t, filepath.Join(maskDir, "ccamlr_domain_names.csv"), "key,name")
	writeFile(t, filepath.Join(maskDir, "measo_regions.csv"), "lon,lat,region")

	cfg := fixtureConfig(inputRoot, outputRoot)
	disable := true
	cfg.DisableDB = &disable

	summary, err := Run(cfg)
	if err != nil {
		t.Fatalf("empty input must starve downstream stages, not fail: %v", err)
	}
	if summary.Models != 0 || summary.Cells != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}

	// Final artifacts still exist, just headers only.
	lines := readRows(t, filepath.Join(outputRoot, artifact.RegionalResultName(regions.SchemeCCAMLR)))
	if len(lines) != 1 {
		t.Errorf("expected header-only result, got %d lines", len(lines))
	}
}

func TestRun_FutureOnlyScenarioColumnStaysMissing(t *testing.T) {
	inputRoot, outputRoot := fixtureTree(t)

	cfg := fixtureConfig(inputRoot, outputRoot)
	cfg.Scenarios = []string{"ssp126", "ssp585"} // no ssp585 source exists
	disable := true
	cfg.DisableDB = &disable

	if _, err := Run(cfg); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	lines := readRows(t, filepath.Join(outputRoot, artifact.RegionalResultName(regions.SchemeCCAMLR)))
	// Header layout: means for all scenarios, then SDs.
	if lines[0] != "lon,lat,region,mean_perc_change_ssp126,mean_perc_change_ssp585,sd_perc_change_ssp126,sd_perc_change_ssp585" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	// ssp585 columns are empty (missing), never zero-filled.
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) != 7 {
			t.Fatalf("unexpected field count in %q", line)
		}
		if fields[4] != "" || fields[6] != "" {
			t.Errorf("expected empty ssp585 statistics, got %q", line)
		}
		if fields[3] == "" {
			t.Errorf("ssp126 mean unexpectedly missing in %q", line)
		}
	}
}
