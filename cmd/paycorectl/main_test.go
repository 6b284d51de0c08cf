package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitwit/paycore/types"
	"github.com/vitwit/paycore/utils"
)

func TestRealMain_Usage(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, realMain(nil, &stderr))
	assert.Contains(t, stderr.String(), "usage: paycorectl")

	stderr.Reset()
	assert.Equal(t, 2, realMain([]string{"-no-such-flag"}, &stderr))
}

func TestRealMain_MissingConfigReturnsError(t *testing.T) {
	t.Setenv(utils.EnvRPCUrl, "")
	t.Setenv(utils.EnvContract, "")
	t.Setenv(utils.EnvChainID, "")

	var stderr bytes.Buffer
	envFile := filepath.Join(t.TempDir(), "missing.env")
	code := realMain([]string{"-env-file", envFile, "version"}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), string(types.ErrCodeInvalidConfiguration))
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 1, report(&buf, errors.New("boom")))
	assert.Equal(t, "paycorectl: boom\n", buf.String())
}
