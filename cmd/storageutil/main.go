package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"routecodex-go/internal/config"
	store "routecodex-go/internal/storage"
)

func main() {
	var (
		mode       = flag.String("mode", "", "operation mode: export | import | verify | migrate | stats")
		filePath   = flag.String("file", "", "file path for export/import/verify (default: stdout/stdin)")
		configPath = flag.String("config", "", "path to user config (default: ~/.routecodex/config.json)")
		timeout    = flag.Duration("timeout", 30*time.Second, "operation timeout")

		destBackend  = flag.String("dest", "", "migrate: destination backend (file|redis|mongodb|postgres|git)")
		destDir      = flag.String("dest-dir", "", "migrate: destination directory for file/git backends")
		destRedis    = flag.String("dest-redis-addr", "", "migrate: destination redis address")
		destMongo    = flag.String("dest-mongo-uri", "", "migrate: destination mongodb URI")
		destPostgres = flag.String("dest-postgres-dsn", "", "migrate: destination postgres DSN")
		dryRun       = flag.Bool("dry-run", false, "migrate: report what would move without writing")
	)
	flag.Parse()

	if *mode == "" {
		fail(fmt.Errorf("missing -mode (export|import|verify|migrate|stats)"))
	}

	rc, _, err := config.Resolve(*configPath, "")
	if err != nil {
		fail(fmt.Errorf("resolve config: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend, err := store.OpenStrict(ctx, rc.Storage)
	if err != nil {
		fail(fmt.Errorf("open %s backend: %w", rc.Storage.Backend, err))
	}
	defer backend.Close()

	switch strings.ToLower(*mode) {
	case "export":
		if err := runExport(ctx, backend, *filePath); err != nil {
			fail(err)
		}
	case "import":
		if err := runImport(ctx, backend, *filePath); err != nil {
			fail(err)
		}
	case "verify":
		matches, err := runVerify(ctx, backend, *filePath)
		if err != nil {
			fail(err)
		}
		if !matches {
			os.Exit(1)
		}
	case "migrate":
		destCfg := config.StorageConfig{
			Backend:     *destBackend,
			BaseDir:     *destDir,
			GitDir:      *destDir,
			RedisAddr:   *destRedis,
			MongoURI:    *destMongo,
			PostgresDSN: *destPostgres,
		}
		if err := runMigrate(ctx, backend, destCfg, *dryRun); err != nil {
			fail(err)
		}
	case "stats":
		if err := runStats(ctx, backend); err != nil {
			fail(err)
		}
	default:
		fail(fmt.Errorf("unknown mode %q (expected export|import|verify|migrate|stats)", *mode))
	}
}

func runExport(ctx context.Context, backend store.Backend, path string) error {
	data, err := backend.ExportData(ctx)
	if err != nil {
		return fmt.Errorf("export data: %w", err)
	}
	return writeJSON(path, data)
}

func runImport(ctx context.Context, backend store.Backend, path string) error {
	payload, err := readExport(path)
	if err != nil {
		return fmt.Errorf("read import json: %w", err)
	}
	if err := backend.ImportData(ctx, payload); err != nil {
		return fmt.Errorf("import data: %w", err)
	}
	fmt.Printf("imported %d credential states, %d health entries, %d usage keys, %d config docs\n",
		len(payload.CredentialStates), len(payload.HealthEntries), len(payload.Usage), len(payload.ConfigDocs))
	return nil
}

func runVerify(ctx context.Context, backend store.Backend, path string) (bool, error) {
	expected, err := readExport(path)
	if err != nil {
		return false, fmt.Errorf("read reference json: %w", err)
	}
	current, err := backend.ExportData(ctx)
	if err != nil {
		return false, fmt.Errorf("export current data: %w", err)
	}

	diffs := diffExports(expected, current)
	if len(diffs) == 0 {
		fmt.Println("storage matches reference snapshot")
		return true, nil
	}
	fmt.Printf("storage diverges from reference snapshot (%d differences)\n", len(diffs))
	for i, d := range diffs {
		if i >= 10 {
			fmt.Printf("  ... and %d more\n", len(diffs)-10)
			break
		}
		fmt.Println("  -", d)
	}
	return false, nil
}

func runMigrate(ctx context.Context, source store.Backend, destCfg config.StorageConfig, dryRun bool) error {
	if destCfg.Backend == "" {
		return fmt.Errorf("migrate requires -dest")
	}
	if (destCfg.Backend == "file" || destCfg.Backend == "git") && destCfg.BaseDir == "" {
		return fmt.Errorf("migrate to %s requires -dest-dir", destCfg.Backend)
	}

	data, err := source.ExportData(ctx)
	if err != nil {
		return fmt.Errorf("export from source: %w", err)
	}
	fmt.Printf("source %s: %d credential states, %d health entries, %d usage keys, %d config docs\n",
		data.Backend, len(data.CredentialStates), len(data.HealthEntries), len(data.Usage), len(data.ConfigDocs))

	if dryRun {
		fmt.Println("dry run, nothing written")
		return nil
	}

	dest, err := store.OpenStrict(ctx, destCfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", destCfg.Backend, err)
	}
	defer dest.Close()

	if err := dest.ImportData(ctx, data); err != nil {
		return fmt.Errorf("import into %s: %w", destCfg.Backend, err)
	}
	fmt.Printf("migrated to %s\n", destCfg.Backend)
	return nil
}

func runStats(ctx context.Context, backend store.Backend) error {
	stats, err := backend.GetStorageStats(ctx)
	if err != nil {
		return fmt.Errorf("storage stats: %w", err)
	}
	return writeJSON("", stats)
}

// diffExports compares two exports semantically. Raw JSON payloads are
// normalized before comparison because backends are free to reorder
// object keys (JSONB does).
func diffExports(a, b *store.Export) []string {
	var diffs []string
	diffs = append(diffs, diffRawMaps("credential_states", a.CredentialStates, b.CredentialStates)...)
	diffs = append(diffs, diffRawMaps("health_entries", a.HealthEntries, b.HealthEntries)...)
	diffs = append(diffs, diffRawMaps("config_docs", a.ConfigDocs, b.ConfigDocs)...)

	for key, fields := range a.Usage {
		other, ok := b.Usage[key]
		if !ok {
			diffs = append(diffs, "usage: missing key "+key)
			continue
		}
		for field, value := range fields {
			if other[field] != value {
				diffs = append(diffs, fmt.Sprintf("usage: %s.%s expected %d got %d", key, field, value, other[field]))
			}
		}
	}
	for key := range b.Usage {
		if _, ok := a.Usage[key]; !ok {
			diffs = append(diffs, "usage: unexpected key "+key)
		}
	}
	sort.Strings(diffs)
	return diffs
}

func diffRawMaps(label string, a, b map[string]json.RawMessage) []string {
	var diffs []string
	for key, raw := range a {
		other, ok := b[key]
		if !ok {
			diffs = append(diffs, label+": missing key "+key)
			continue
		}
		if normalizeJSON(raw) != normalizeJSON(other) {
			diffs = append(diffs, label+": payload mismatch for "+key)
		}
	}
	for key := range b {
		if _, ok := a[key]; !ok {
			diffs = append(diffs, label+": unexpected key "+key)
		}
	}
	return diffs
}

// normalizeJSON reserializes a payload so key order and whitespace stop
// mattering. Unparseable payloads compare as raw strings.
func normalizeJSON(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func readExport(path string) (*store.Export, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var payload store.Export
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func writeJSON(path string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "storageutil:", err)
	os.Exit(1)
}
