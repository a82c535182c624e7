// Command tflow-dev is a local development tool for exercising a rule
// set against sample records outside of Lambda: run a single file, or
// an entire folder of example files, and either execute the full
// engine (writing hit records out) or a dry run (printing per-rule hit
// counts without installing any flags).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tflow/pkg/engine"
	"tflow/pkg/plugins/multiflag"
	"tflow/pkg/plugins/multiplugin"
	"tflow/pkg/plugins/slicer"
	"tflow/pkg/plugins/threshold"
	"tflow/pkg/plugins/timedflag"
	"tflow/pkg/ruleconfig"
)

var (
	ctx            context.Context
	allExamples    *bool
	dryRun         *bool
	examplesFolder string
	rulesFile      string
	inputFile      string
	outputFolder   string
)

func init() {
	logLevelStr := os.Getenv("LOG_LEVEL")
	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(time.UTC) }
	zerolog.SetGlobalLevel(logLevel)
	zerolog.ErrorFieldName = "error"
	zerolog.MessageFieldName = "msg"

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx = logger.WithContext(context.Background())

	allExamples = flag.Bool("all", false, "run every *.json file under -folder")
	dryRun = flag.Bool("dry", false, "report per-rule hit counts instead of running the full engine")
	flag.StringVar(&examplesFolder, "folder", "./examples", "folder of sample record files")
	flag.StringVar(&rulesFile, "rules", "./rules.yaml", "rule set YAML file")
	flag.StringVar(&inputFile, "file", "./examples/records.json", "single sample record file")
	flag.StringVar(&outputFolder, "out", "./out_test", "output folder for hit records")
	flag.Parse()

	if !*dryRun {
		if err := os.MkdirAll(outputFolder, 0755); err != nil {
			log.Error().Err(err).Msg("failed to create output folder")
		}
	}
}

// sampleFile is the shape a dev record file is unmarshalled into: a
// JSON object whose "records" field holds an array of engine records.
type sampleFile struct {
	Records []engine.Record `json:"records"`
}

func loadRecords(path string) ([]engine.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var sf sampleFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return sf.Records, nil
}

func loadRuleSet(path string) (*ruleconfig.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}
	return ruleconfig.Load(string(raw))
}

func buildEngine(rs *ruleconfig.RuleSet) *engine.Engine {
	host := &engine.HostRef{}
	eng := engine.NewEngine(rs.ToRules(),
		engine.WithPlugin("threshold", threshold.New(host)),
		engine.WithPlugin("timedflag", timedflag.New(host)),
		engine.WithPlugin("slicer", slicer.New(host, "slicer")),
		engine.WithPlugin("multiflag", multiflag.New(host)),
		engine.WithPlugin("multiplugin", multiplugin.New(host, host.PluginExec, "multiplugin")),
	)
	host.Engine = eng
	return eng
}

func runDryRun(rs *ruleconfig.RuleSet, records []engine.Record, fileName string) {
	result := rs.DryRun(ctx, records)
	log.Info().
		Str("file", fileName).
		Int("totalRecords", result.TotalRecords).
		Int("hitRecords", result.HitRecords).
		Int("totalHits", result.TotalHits).
		Msg("dry run complete")
	for name, count := range result.RuleHits {
		log.Info().Str("rule", name).Int("hits", count).Msg("rule hit count")
	}
}

func runEngine(rs *ruleconfig.RuleSet, records []engine.Record, fileName string) error {
	start := time.Now()
	eng := buildEngine(rs)

	var hitRecords []engine.Record
	for _, rec := range records {
		hits := eng.Analyse(ctx, rec)
		if len(hits) > 0 {
			hitRecords = append(hitRecords, rec)
		}
	}

	log.Warn().
		Int("input", len(records)).
		Int("output", len(hitRecords)).
		Int("dropped", len(records)-len(hitRecords)).
		Str("exeTime", time.Since(start).String()).
		Str("fileName", fileName).
		Msg("completed")

	baseName := fileName
	if idx := strings.LastIndex(fileName, "/"); idx >= 0 {
		baseName = fileName[idx+1:]
	}
	baseName = strings.TrimSuffix(baseName, ".json")

	outputPath := fmt.Sprintf("%s/%s_hits.json", outputFolder, baseName)
	writeRecords(outputPath, hitRecords)
	log.Info().Str("output", outputPath).Msg("wrote hit records")
	return nil
}

func writeRecords(fileName string, records []engine.Record) {
	file, err := os.Create(fileName)
	if err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("failed to create file")
		return
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sampleFile{Records: records}); err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("failed to encode records")
	}
}

func process(rs *ruleconfig.RuleSet, fileName string) {
	records, err := loadRecords(fileName)
	if err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("failed to load sample records")
		return
	}
	if *dryRun {
		runDryRun(rs, records, fileName)
		return
	}
	if err := runEngine(rs, records, fileName); err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("failed to process file")
	}
}

func main() {
	start := time.Now()

	rs, err := loadRuleSet(rulesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", rulesFile).Msg("failed to load rule set")
	}

	if *allExamples {
		files, err := os.ReadDir(examplesFolder)
		if err != nil {
			log.Fatal().Err(err).Str("folder", examplesFolder).Msg("failed to read folder")
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			process(rs, fmt.Sprintf("%s/%s", examplesFolder, f.Name()))
		}
	} else {
		process(rs, inputFile)
	}

	fmt.Printf("\nExecution time: %s\n", time.Since(start))
	if !*dryRun {
		fmt.Printf("Output folder: %s\n", outputFolder)
	}
}
