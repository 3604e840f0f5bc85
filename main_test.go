package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/functions/authorizer"
	"github.com/anirudhbiyani/cloud-functions/pkg/functions/janitor"
)

func TestFunctionsCommandListsEveryFunction(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"functions"})
	require.NoError(t, cmd.Execute())

	for _, name := range []cloudfn.FunctionName{
		cloudfn.FunctionStackSweeper,
		cloudfn.FunctionStackStatus,
		cloudfn.FunctionStackMonitor,
		cloudfn.FunctionStackReaper,
		cloudfn.FunctionDistTagsGet,
		cloudfn.FunctionDistTagsPut,
		cloudfn.FunctionDistTagsDelete,
		cloudfn.FunctionGitHubAuthorizer,
		cloudfn.FunctionPlaceOrder,
		cloudfn.FunctionCaptureCardPayment,
		cloudfn.FunctionProcessCardPayments,
		cloudfn.FunctionErrorReports,
	} {
		assert.Contains(t, out.String(), string(name))
	}
	assert.Contains(t, out.String(), "dry_run,batch")
}

func TestFunctionsCommandFiltersByCapability(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"functions", "--capability", "http"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, string(cloudfn.FunctionDistTagsGet))
	assert.Contains(t, text, string(cloudfn.FunctionPlaceOrder))
	assert.NotContains(t, text, string(cloudfn.FunctionStackSweeper))
	assert.NotContains(t, text, string(cloudfn.FunctionErrorReports))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "cloud-functions version dev\n"))
}

func TestServeRejectsUnknownFunction(t *testing.T) {
	t.Setenv("CLOUDFN_FUNCTION", "")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"serve", "no-such-function"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryNotFound))
}

func TestServeAlwaysInvokesThroughLambda(t *testing.T) {
	cfg := &config.Config{Invoker: config.InvokerConfig{Mode: "local", FunctionPrefix: "prod-"}}
	serveInvoker(cfg)
	assert.Equal(t, "lambda", cfg.Invoker.Mode)
	assert.Equal(t, "prod-", cfg.Invoker.FunctionPrefix)
}

func TestAuthorizeRequiresTokenAndARN(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"authorize", "--token", "abc"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))
}

func TestReadPayload(t *testing.T) {
	payload, err := readPayload(strings.NewReader(""), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(payload))

	payload, err = readPayload(strings.NewReader(`{"dryRun":true}`), "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"dryRun":true}`, string(payload))

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o600))
	payload, err = readPayload(nil, path)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(payload))

	_, err = readPayload(strings.NewReader("not json"), "-")
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))

	_, err = readPayload(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPrintRecords(t *testing.T) {
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := []cloudfn.JanitorRecord{
		{StackName: "later", StackID: "id-2", ExpirationTime: exp.Add(time.Hour).Unix()},
		{StackName: "sooner", StackID: "id-1", ExpirationTime: exp.Unix(), DeleteCount: 1},
	}

	var out bytes.Buffer
	require.NoError(t, printRecords(&out, recs, "table"))
	text := out.String()
	assert.Contains(t, text, "2024-05-01 12:00:00")
	assert.Less(t, strings.Index(text, "sooner"), strings.Index(text, "later"))

	out.Reset()
	require.NoError(t, printRecords(&out, nil, "table"))
	assert.Equal(t, "No records found\n", out.String())

	out.Reset()
	require.NoError(t, printRecords(&out, recs[:1], "json"))
	assert.Contains(t, out.String(), `"stackName": "later"`)
}

func TestPrintSweepReport(t *testing.T) {
	var out bytes.Buffer
	printSweepReport(&out, &janitor.SweepReport{
		Evaluated:  5,
		Candidates: []string{"a", "b", "c"},
		Deleted:    []string{"a"},
		Failed:     map[string]string{"b": "access denied"},
	})
	text := out.String()
	assert.Contains(t, text, "Evaluated 5 stacks, 3 expired")
	assert.Regexp(t, `a\s+DELETED`, text)
	assert.Regexp(t, `b\s+FAILED: access denied`, text)
	assert.Regexp(t, `c\s+SKIPPED`, text)
	assert.NotContains(t, text, "Expiring soon")

	out.Reset()
	printSweepReport(&out, &janitor.SweepReport{Evaluated: 2, Candidates: []string{}, Expiring: []string{"x", "y"}})
	assert.Contains(t, out.String(), "Expiring soon: x, y")
}

func TestCheckOutputAndTruncate(t *testing.T) {
	assert.NoError(t, checkOutput("json"))
	assert.Error(t, checkOutput("yaml"))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestAuthorizerRequest(t *testing.T) {
	const arn = "arn:aws:execute-api:eu-west-1:123456789012:abcdef1234/prod/GET/registry/left-pad"
	req := authorizerRequest("gho_abc", arn)
	assert.Equal(t, "TOKEN", req.Type)
	assert.Equal(t, "Bearer gho_abc", req.AuthorizationToken)
	assert.Equal(t, arn, req.MethodArn)

	parsed, err := authorizer.ParseMethodARN(req.MethodArn)
	require.NoError(t, err)
	assert.Equal(t, "prod", parsed.Stage)
	assert.Equal(t, "GET", parsed.Method)

	deny := authorizer.Deny(req.MethodArn)
	assert.Equal(t, "Deny", deny.PolicyDocument.Statement[0].Effect)
	assert.Equal(t, []string{arn}, deny.PolicyDocument.Statement[0].Resource)
}
