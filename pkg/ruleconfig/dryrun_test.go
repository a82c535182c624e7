package ruleconfig_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"tflow/pkg/engine"
	"tflow/pkg/ruleconfig"
)

func TestDryRunCountsHitsPerRule(t *testing.T) {
	assert := assert.New(t)

	rs, err := ruleconfig.Load(`version: 1.0.0
rules:
  - name: r1
    operator: 1
    current_flag: "f:{k}"
    field_check_list:
      - field_name: a
        match_content: 1
        match_code: 1
  - name: r2
    operator: 1
    field_check_list:
      - field_name: a
        match_content: 2
        match_code: 1
`)
	assert.NoError(err)

	samples := []engine.Record{
		{"a": int64(1), "k": "x"},
		{"a": int64(2), "k": "y"},
		{"a": int64(3), "k": "z"},
	}

	result := rs.DryRun(context.Background(), samples)
	assert.Equal(3, result.TotalRecords)
	assert.Equal(2, result.HitRecords)
	assert.Equal(1, result.RuleHits["r1"])
	assert.Equal(1, result.RuleHits["r2"])
}
