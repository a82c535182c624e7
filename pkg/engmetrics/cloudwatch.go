// Package engmetrics publishes engine activity to CloudWatch: rule
// fires, flag installs/retirements, and plugin errors. Adapted from the
// teacher's pkg/metrics CloudWatch collector, generalized from
// file-processing metrics to per-record engine metrics.
package engmetrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"
)

// CloudWatchMetrics collects and publishes engine metrics to CloudWatch.
type CloudWatchMetrics struct {
	client    *cloudwatch.Client
	namespace string

	mu      sync.Mutex
	metrics []types.MetricDatum

	batchSize     int
	flushInterval time.Duration
	enabled       bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCloudWatchMetrics creates a new CloudWatch metrics collector for
// the engine, starting a background flusher unless METRICS_ENABLED=false.
func NewCloudWatchMetrics(client *cloudwatch.Client, namespace string) *CloudWatchMetrics {
	enabled := os.Getenv("METRICS_ENABLED") != "false"

	cwm := &CloudWatchMetrics{
		client:        client,
		namespace:     namespace,
		metrics:       make([]types.MetricDatum, 0, 20),
		batchSize:     20,
		flushInterval: 10 * time.Second,
		enabled:       enabled,
		stopCh:        make(chan struct{}),
	}

	if enabled {
		cwm.startBackgroundFlusher()
	}
	return cwm
}

func (cwm *CloudWatchMetrics) startBackgroundFlusher() {
	cwm.wg.Add(1)
	go func() {
		defer cwm.wg.Done()
		ticker := time.NewTicker(cwm.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := cwm.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("failed to flush engine metrics")
				}
			case <-cwm.stopCh:
				return
			}
		}
	}()
}

// Stop stops the background flusher and flushes remaining metrics.
func (cwm *CloudWatchMetrics) Stop(ctx context.Context) error {
	if !cwm.enabled {
		return nil
	}
	close(cwm.stopCh)
	cwm.wg.Wait()
	return cwm.Flush(ctx)
}

// RecordRuleEvaluated records one rule evaluation, hit or not.
func (cwm *CloudWatchMetrics) RecordRuleEvaluated(ruleName string, hit bool, dims map[string]string) {
	if !cwm.enabled {
		return
	}
	d := cwm.buildDimensions(dims)
	d = append(d, types.Dimension{Name: aws.String("Rule"), Value: aws.String(ruleName)})

	name := "RuleMiss"
	if hit {
		name = "RuleHit"
	}
	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: d,
	})
}

// RecordFlagInstalled records a flag entering the store.
func (cwm *CloudWatchMetrics) RecordFlagInstalled(dims map[string]string) {
	if !cwm.enabled {
		return
	}
	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String("FlagsInstalled"),
		Value:      aws.Float64(1),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: cwm.buildDimensions(dims),
	})
}

// RecordFlagRetired records a flag leaving the store (expiry, lifetime
// exhaustion, or explicit removal).
func (cwm *CloudWatchMetrics) RecordFlagRetired(reason string, dims map[string]string) {
	if !cwm.enabled {
		return
	}
	d := cwm.buildDimensions(dims)
	d = append(d, types.Dimension{Name: aws.String("Reason"), Value: aws.String(reason)})

	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String("FlagsRetired"),
		Value:      aws.Float64(1),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: d,
	})
}

// RecordPluginError records an error surfaced from a named plugin.
func (cwm *CloudWatchMetrics) RecordPluginError(pluginName string, dims map[string]string) {
	if !cwm.enabled {
		return
	}
	d := cwm.buildDimensions(dims)
	d = append(d, types.Dimension{Name: aws.String("Plugin"), Value: aws.String(pluginName)})

	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String("PluginErrors"),
		Value:      aws.Float64(1),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: d,
	})
}

// RecordAnalyseDuration records the wall-clock cost of Engine.Analyse
// for one record.
func (cwm *CloudWatchMetrics) RecordAnalyseDuration(d time.Duration, dims map[string]string) {
	if !cwm.enabled {
		return
	}
	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String("AnalyseDuration"),
		Value:      aws.Float64(float64(d.Microseconds())),
		Unit:       types.StandardUnitMicroseconds,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: cwm.buildDimensions(dims),
	})
}

// RecordRecordsProcessed records the number of records analysed.
func (cwm *CloudWatchMetrics) RecordRecordsProcessed(count int, dims map[string]string) {
	if !cwm.enabled {
		return
	}
	cwm.addMetric(types.MetricDatum{
		MetricName: aws.String("RecordsProcessed"),
		Value:      aws.Float64(float64(count)),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: cwm.buildDimensions(dims),
	})
}

func (cwm *CloudWatchMetrics) buildDimensions(dimensions map[string]string) []types.Dimension {
	dims := make([]types.Dimension, 0, len(dimensions)+1)
	if region := os.Getenv("AWS_REGION"); region != "" {
		dims = append(dims, types.Dimension{Name: aws.String("Region"), Value: aws.String(region)})
	}
	for name, value := range dimensions {
		dims = append(dims, types.Dimension{Name: aws.String(name), Value: aws.String(value)})
	}
	return dims
}

func (cwm *CloudWatchMetrics) addMetric(metric types.MetricDatum) {
	cwm.mu.Lock()
	defer cwm.mu.Unlock()

	cwm.metrics = append(cwm.metrics, metric)
	if len(cwm.metrics) >= cwm.batchSize {
		go func() {
			if err := cwm.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to auto-flush engine metrics")
			}
		}()
	}
}

// Flush sends all buffered metrics to CloudWatch.
func (cwm *CloudWatchMetrics) Flush(ctx context.Context) error {
	if !cwm.enabled {
		return nil
	}

	cwm.mu.Lock()
	if len(cwm.metrics) == 0 {
		cwm.mu.Unlock()
		return nil
	}
	toSend := make([]types.MetricDatum, len(cwm.metrics))
	copy(toSend, cwm.metrics)
	cwm.metrics = cwm.metrics[:0]
	cwm.mu.Unlock()

	for i := 0; i < len(toSend); i += cwm.batchSize {
		end := i + cwm.batchSize
		if end > len(toSend) {
			end = len(toSend)
		}
		_, err := cwm.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(cwm.namespace),
			MetricData: toSend[i:end],
		})
		if err != nil {
			return fmt.Errorf("failed to put metric data: %w", err)
		}
	}

	log.Debug().Int("count", len(toSend)).Msg("flushed engine metrics to CloudWatch")
	return nil
}
