package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	vars := map[string]string{"CPUS": "4", "A": "1", "B": "2", "X": "x"}
	lookup := func(key string) string { return vars[key] }
	var testCases = []struct {
		description string
		input       string
		expect      string
	}{
		{description: "plain", input: "cpus: 2", expect: "cpus: 2"},
		{description: "single", input: "cpus: ${env.CPUS}", expect: "cpus: 4"},
		{description: "multiple", input: "${env.A}-${env.B}-${env.A}", expect: "1-2-1"},
		{description: "unset", input: "unset=${env.NOTSET}-end", expect: "unset=-end"},
		{description: "unterminated", input: "start ${env.X and ${env.Y} end", expect: "start ${env.X and  end"},
		{description: "empty key", input: "oops ${env.} done", expect: "oops  done"},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, Expand(testCase.input, lookup), testCase.description)
	}

	t.Setenv("KTASK_HZ", "250")
	assert.Equal(t, "hz: 250", Expand("hz: ${env.KTASK_HZ}", nil))
}
