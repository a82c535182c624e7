package ruleconfig_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tflow/pkg/ruleconfig"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

const testRuleSet = `version: 1.0.0
rules:
  - name: r1
    operator: 1
    field_check_list:
      - field_name: a
        match_content: 1
        match_code: 1
    current_flag: "f:{k}"
`

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	rs, err := ruleconfig.Load(testRuleSet)
	assert.NoError(err)
	assert.Equal("1.0.0", rs.Version)
	assert.Len(rs.Rules, 1)
	assert.Equal("r1", rs.Rules[0].Name)
}

func TestLoadMissingVersion(t *testing.T) {
	_, err := ruleconfig.Load("rules: []")
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateRuleNames(t *testing.T) {
	const dup = `version: 1.0.0
rules:
  - name: r1
    operator: 1
    field_check_list:
      - field_name: a
        match_content: 1
        match_code: 1
  - name: r1
    operator: 1
    field_check_list:
      - field_name: b
        match_content: 1
        match_code: 1
`
	_, err := ruleconfig.Load(dup)
	assert.Error(t, err)
}

func TestLoadRejectsSelfNestedMultiplugin(t *testing.T) {
	const selfNest = `version: 1.0.0
rules:
  - name: r1
    operator: 1
    plugin_names: "multiplugin;threshold"
    field_check_list:
      - field_name: a
        match_content: 1
        match_code: 1
`
	_, err := ruleconfig.Load(selfNest)
	assert.Error(t, err)
}

func TestLoadRejectsBadMatchCode(t *testing.T) {
	const badCode = `version: 1.0.0
rules:
  - name: r1
    operator: 1
    field_check_list:
      - field_name: a
        match_content: 1
        match_code: 99
`
	_, err := ruleconfig.Load(badCode)
	assert.Error(t, err)
}

func TestS3Loader(t *testing.T) {
	assert := assert.New(t)
	client := new(mockS3Client)
	client.On("GetObject", mock.Anything, mock.Anything).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(testRuleSet)),
	}, nil)

	loader := ruleconfig.NewS3Loader("bucket", "key", client)
	rs, err := loader.Load(context.Background())
	assert.NoError(err)
	assert.Equal("1.0.0", rs.Version)
	assert.Contains(loader.String(), "bucket")
}

func TestCachedLoaderServesWithinTTL(t *testing.T) {
	assert := assert.New(t)
	client := new(mockS3Client)
	client.On("GetObject", mock.Anything, mock.Anything).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(testRuleSet)),
	}, nil).Once()

	base := ruleconfig.NewS3Loader("bucket", "key", client)
	cached := ruleconfig.NewCachedLoader(base, time.Minute)

	_, err := cached.Load(context.Background())
	assert.NoError(err)
	_, err = cached.Load(context.Background())
	assert.NoError(err)

	client.AssertNumberOfCalls(t, "GetObject", 1)
}

func TestFromEnvDefaultsToLocal(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")
	t.Setenv("CONFIG_FILE", "./testdata/does-not-exist.yaml")
	t.Setenv("CONFIG_CACHE_ENABLED", "false")

	loader := ruleconfig.FromEnv(&aws.Config{})
	assert.Contains(t, loader.String(), "LocalLoader")
}
