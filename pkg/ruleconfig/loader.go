package ruleconfig

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"tflow/pkg/retry"
)

// Loader loads and validates a RuleSet from some backing store.
type Loader interface {
	Load(ctx context.Context) (*RuleSet, error)
	String() string
}

// S3API is the subset of the S3 client a Loader needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the subset of the SSM client a Loader needs.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client a Loader needs.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// S3Loader loads a rule set from an S3 object.
type S3Loader struct {
	bucket string
	key    string
	client S3API
}

func NewS3Loader(bucket, key string, client S3API) *S3Loader {
	return &S3Loader{bucket: bucket, key: key, client: client}
}

func (l *S3Loader) Load(ctx context.Context) (*RuleSet, error) {
	log.Ctx(ctx).Debug().Str("bucket", l.bucket).Str("key", l.key).Msg("loading rule set from S3")

	data, err := retry.DoTyped(ctx, func() ([]byte, error) {
		resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(l.key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get S3 object: %w", err)
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}, retry.WithMaxRetries(3), retry.WithRetryableError(retry.IsRetryable))
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return Load(string(data))
}

func (l *S3Loader) String() string {
	return fmt.Sprintf("S3Loader(bucket=%s, key=%s)", l.bucket, l.key)
}

// SSMLoader loads a rule set from an SSM Parameter Store parameter.
type SSMLoader struct {
	parameterName string
	client        SSMAPI
}

func NewSSMLoader(parameterName string, client SSMAPI) *SSMLoader {
	return &SSMLoader{parameterName: parameterName, client: client}
}

func (l *SSMLoader) Load(ctx context.Context) (*RuleSet, error) {
	log.Ctx(ctx).Debug().Str("parameter", l.parameterName).Msg("loading rule set from SSM Parameter Store")

	value, err := retry.DoTyped(ctx, func() (string, error) {
		resp, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(l.parameterName),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return "", fmt.Errorf("failed to get SSM parameter: %w", err)
		}
		if resp.Parameter == nil || resp.Parameter.Value == nil {
			return "", fmt.Errorf("SSM parameter value is nil")
		}
		return *resp.Parameter.Value, nil
	}, retry.WithMaxRetries(3), retry.WithRetryableError(retry.IsRetryable))
	if err != nil {
		return nil, err
	}
	return Load(value)
}

func (l *SSMLoader) String() string {
	return fmt.Sprintf("SSMLoader(parameter=%s)", l.parameterName)
}

// SecretsManagerLoader loads a rule set from AWS Secrets Manager.
type SecretsManagerLoader struct {
	secretID string
	client   SecretsManagerAPI
}

func NewSecretsManagerLoader(secretID string, client SecretsManagerAPI) *SecretsManagerLoader {
	return &SecretsManagerLoader{secretID: secretID, client: client}
}

func (l *SecretsManagerLoader) Load(ctx context.Context) (*RuleSet, error) {
	log.Ctx(ctx).Debug().Str("secretId", l.secretID).Msg("loading rule set from Secrets Manager")

	value, err := retry.DoTyped(ctx, func() (string, error) {
		resp, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(l.secretID),
		})
		if err != nil {
			return "", fmt.Errorf("failed to get secret value: %w", err)
		}
		if resp.SecretString == nil {
			return "", fmt.Errorf("secret string is nil")
		}
		return *resp.SecretString, nil
	}, retry.WithMaxRetries(3), retry.WithRetryableError(retry.IsRetryable))
	if err != nil {
		return nil, err
	}
	return Load(value)
}

func (l *SecretsManagerLoader) String() string {
	return fmt.Sprintf("SecretsManagerLoader(secretId=%s)", l.secretID)
}

// LocalLoader loads a rule set from a local file.
type LocalLoader struct {
	path string
}

func NewLocalLoader(path string) *LocalLoader {
	return &LocalLoader{path: path}
}

func (l *LocalLoader) Load(ctx context.Context) (*RuleSet, error) {
	log.Ctx(ctx).Debug().Str("path", l.path).Msg("loading rule set from local file")

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rule set file failed: %w", err)
	}
	return Load(string(raw))
}

func (l *LocalLoader) String() string {
	return fmt.Sprintf("LocalLoader(path=%s)", l.path)
}

// CachedLoader wraps another Loader with a TTL cache, avoiding a full
// reload (and re-validation) on every invocation of a Lambda-style
// entrypoint sharing a warm container.
type CachedLoader struct {
	loader Loader
	ttl    time.Duration

	mu         sync.RWMutex
	lastLoaded time.Time
	ruleSet    *RuleSet
}

func NewCachedLoader(loader Loader, ttl time.Duration) *CachedLoader {
	return &CachedLoader{loader: loader, ttl: ttl}
}

func (l *CachedLoader) Load(ctx context.Context) (*RuleSet, error) {
	l.mu.RLock()
	if l.ruleSet != nil && time.Since(l.lastLoaded) < l.ttl {
		rs := l.ruleSet
		l.mu.RUnlock()
		return rs, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ruleSet != nil && time.Since(l.lastLoaded) < l.ttl {
		return l.ruleSet, nil
	}

	rs, err := l.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	l.ruleSet = rs
	l.lastLoaded = time.Now()
	return rs, nil
}

func (l *CachedLoader) String() string {
	return fmt.Sprintf("CachedLoader(loader=%s, ttl=%s)", l.loader.String(), l.ttl)
}

// FromEnv builds a Loader from CONFIG_SOURCE/CONFIG_* environment
// variables, mirroring the teacher's CreateLoaderFromEnv.
func FromEnv(awsConfig *aws.Config) Loader {
	source := strings.ToLower(getEnv("CONFIG_SOURCE", "local"))

	var base Loader
	switch source {
	case "s3":
		bucket := getEnv("CONFIG_S3_BUCKET", "")
		key := getEnv("CONFIG_S3_KEY", "")
		if bucket == "" || key == "" {
			if path := getEnv("CONFIG_S3_PATH", ""); path != "" {
				if parts := strings.SplitN(path, "/", 2); len(parts) == 2 {
					bucket, key = parts[0], parts[1]
				}
			}
		}
		if bucket != "" && key != "" {
			base = NewS3Loader(bucket, key, s3.NewFromConfig(*awsConfig))
		}
	case "ssm":
		if name := getEnv("CONFIG_SSM_PARAMETER", ""); name != "" {
			base = NewSSMLoader(name, ssm.NewFromConfig(*awsConfig))
		}
	case "secretsmanager":
		if id := getEnv("CONFIG_SECRET_ID", ""); id != "" {
			base = NewSecretsManagerLoader(id, secretsmanager.NewFromConfig(*awsConfig))
		}
	default:
		base = NewLocalLoader(getEnv("CONFIG_FILE", "./rules.yaml"))
	}

	if getEnv("CONFIG_CACHE_ENABLED", "true") == "true" {
		ttl, err := time.ParseDuration(getEnv("CONFIG_REFRESH_INTERVAL", "5m"))
		if err != nil {
			ttl = 5 * time.Minute
		}
		return NewCachedLoader(base, ttl)
	}
	return base
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}
