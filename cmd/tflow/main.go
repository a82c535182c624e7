// Command tflow is the Lambda entrypoint for the rule-matching engine:
// one invocation analyses one record (or a batch of records) against
// the currently loaded rule set and returns the hit payloads.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/segmentio/encoding/json"

	"tflow/pkg/engine"
	"tflow/pkg/engmetrics"
	"tflow/pkg/plugins/multiflag"
	"tflow/pkg/plugins/multiplugin"
	"tflow/pkg/plugins/slicer"
	"tflow/pkg/plugins/threshold"
	"tflow/pkg/plugins/timedflag"
	"tflow/pkg/ruleconfig"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	awsCfg      aws.Config
	loader      ruleconfig.Loader
	cwMetrics   *engmetrics.CloudWatchMetrics
	eng         *engine.Engine
	engMu       sync.RWMutex
	lastLoad    time.Time
	initErr     error
	initOnce    sync.Once
	initialized sync.WaitGroup
)

func init() {
	initializeLogger()

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", date).
		Str("go_version", runtime.Version()).
		Str("os_arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)).
		Msg("rule engine starting")

	initialized.Add(1)
	go func() {
		defer initialized.Done()
		performInit()
	}()
}

func initializeLogger() {
	logLevelStr := getEnv("LOG_LEVEL", "warn")
	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		logLevel = zerolog.WarnLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(time.UTC) }
	zerolog.SetGlobalLevel(logLevel)
	zerolog.ErrorFieldName = "error"
	zerolog.MessageFieldName = "msg"

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func performInit() {
	initOnce.Do(func() {
		ctx := context.Background()

		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(os.Getenv("AWS_REGION")),
			awsconfig.WithEC2IMDSRegion(),
			awsconfig.WithRetryMode(aws.RetryModeAdaptive),
			awsconfig.WithRetryMaxAttempts(3),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to load AWS configuration: %w", err)
			return
		}

		loader = ruleconfig.FromEnv(&awsCfg)

		if getEnv("METRICS_ENABLED", "true") == "true" {
			cwClient := cloudwatch.NewFromConfig(awsCfg)
			cwMetrics = engmetrics.NewCloudWatchMetrics(cwClient, getEnv("METRICS_NAMESPACE", "RuleEngine"))
		}

		if newEng, loadErr := buildEngine(ctx); loadErr != nil {
			log.Warn().Err(loadErr).Msg("failed to pre-load rule set, first invocation will retry")
		} else {
			engMu.Lock()
			eng = newEng
			lastLoad = time.Now()
			engMu.Unlock()
		}
	})
}

// buildEngine loads the current rule set and assembles an Engine with
// every plugin registered, using engine.HostRef to break the
// construct-plugin-before-engine-exists cycle.
func buildEngine(ctx context.Context) (*engine.Engine, error) {
	rs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule set: %w", err)
	}

	host := &engine.HostRef{}
	opts := []engine.Option{
		engine.WithPlugin("threshold", threshold.New(host)),
		engine.WithPlugin("timedflag", timedflag.New(host)),
		engine.WithPlugin("slicer", slicer.New(host, "slicer")),
		engine.WithPlugin("multiflag", multiflag.New(host)),
		engine.WithPlugin("multiplugin", multiplugin.New(host, host.PluginExec, "multiplugin")),
	}
	if cwMetrics != nil {
		opts = append(opts, engine.WithMetrics(cwMetrics))
	}

	newEng := engine.NewEngine(rs.ToRules(), opts...)
	host.Engine = newEng
	return newEng, nil
}

func refreshEngineIfNeeded(ctx context.Context) error {
	engMu.RLock()
	stale := eng == nil || time.Since(lastLoad) > refreshInterval()
	engMu.RUnlock()
	if !stale {
		return nil
	}

	engMu.Lock()
	defer engMu.Unlock()
	if eng != nil && time.Since(lastLoad) <= refreshInterval() {
		return nil
	}

	newEng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	eng = newEng
	lastLoad = time.Now()
	return nil
}

func refreshInterval() time.Duration {
	d, err := time.ParseDuration(getEnv("CONFIG_REFRESH_INTERVAL", "5m"))
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Event is the shape one Lambda invocation accepts: a single record, or
// a batch of records sharing one rule-set evaluation pass.
type Event struct {
	Record  engine.Record   `json:"record,omitempty"`
	Records []engine.Record `json:"records,omitempty"`
}

// Response reports the hit payloads produced for each input record, in
// the same order they were submitted.
type Response struct {
	Hits [][]any `json:"hits"`
}

// Handler accepts whatever shape the Lambda runtime hands it (the
// aws-lambda-go reflection-based unmarshal into `any`, same as the
// teacher's own Handler signature) and returns raw response bytes,
// re-marshalling with the segmentio codec rather than encoding/json
// (mirroring the teacher's pkg/utils.Marshal use around its Handler).
func Handler(ctx context.Context, event any) ([]byte, error) {
	start := time.Now()
	initialized.Wait()
	if initErr != nil {
		return nil, fmt.Errorf("initialization failed: %w", initErr)
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation payload: %w", err)
	}
	var parsed Event
	if err := json.Unmarshal(eventBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invocation payload: %w", err)
	}

	if err := refreshEngineIfNeeded(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to refresh rule set")
		return nil, err
	}

	records := parsed.Records
	if parsed.Record != nil {
		records = append(records, parsed.Record)
	}

	engMu.RLock()
	activeEngine := eng
	engMu.RUnlock()
	if activeEngine == nil {
		return nil, fmt.Errorf("rule engine not initialized")
	}

	resp := &Response{Hits: make([][]any, len(records))}
	for i, rec := range records {
		resp.Hits[i] = activeEngine.Analyse(ctx, rec)
	}

	log.Ctx(ctx).Info().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("invocation processed")

	if cwMetrics != nil {
		if err := cwMetrics.Flush(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to flush engine metrics")
		}
	}

	return json.Marshal(resp)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	lambda.StartWithOptions(Handler, lambda.WithContext(context.Background()))
}
