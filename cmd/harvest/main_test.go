package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/domain"
)

func testStdio() (stdio, *bytes.Buffer, *bytes.Buffer) {
	var out, errb bytes.Buffer
	return stdio{stdout: &out, stderr: &errb}, &out, &errb
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestCLIArgs_ChangedFlagsOnly(t *testing.T) {
	std, _, _ := testStdio()
	f := &cliFlags{}
	root := buildRootCmd(std, f)
	movies, _, err := root.Find([]string{"movies"})
	require.NoError(t, err)
	require.NoError(t, movies.ParseFlags([]string{"--year", "1994", "--headless=false", "--min-votes", "500", "--ledger", "off", "--cache-readonly"}))

	got := cliArgs(movies, config.KindMovies, f)
	require.Equal(t, config.KindMovies, got.Kind)
	require.True(t, got.YearSet)
	require.Equal(t, 1994, got.Year)
	require.True(t, got.HeadlessSet)
	require.False(t, got.Headless)
	require.True(t, got.MinVotesSet)
	require.Equal(t, 500, got.MinVotes)
	require.True(t, got.LedgerSet)
	require.Equal(t, "off", got.Ledger)
	require.True(t, got.CacheReadOnlySet)
	require.True(t, got.CacheReadOnly)

	// 未显式指定：保留默认值但不覆盖配置文件。
	require.False(t, got.BatchSizeSet)
	require.Equal(t, config.DefaultBatchSize, got.BatchSize)
	require.False(t, got.OutputSet)
	require.False(t, got.ResumeSet)
}

func TestExecute_ConfigErrorEmitsSingleJSON(t *testing.T) {
	chdir(t, t.TempDir())
	std, out, errb := testStdio()

	code := execute(context.Background(), []string{"movies", "--year", "1800"}, std)
	require.Equal(t, 1, code)

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rr), "stdout=%q", out.String())
	require.Equal(t, config.KindMovies, rr.Kind)
	require.Len(t, rr.Items, 1)
	require.Equal(t, config.ErrCodeInvalid, rr.Items[0].ErrorCode)
	require.Contains(t, errb.String(), "完成：processed=0")
}

func TestExecute_MissingExplicitConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	std, out, _ := testStdio()

	code := execute(context.Background(), []string{"market", "--config", filepath.Join(dir, "nope.json5")}, std)
	require.Equal(t, 1, code)
	require.Contains(t, out.String(), config.ErrCodeNotFound)
}

func TestExecute_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"bogus"},
		{"movies", "--batch-size", "x"},
		{"market", "extra"},
	} {
		std, out, errb := testStdio()
		code := execute(context.Background(), args, std)
		require.Equal(t, 2, code, "args=%v", args)
		require.Empty(t, out.String())
		require.Contains(t, errb.String(), "参数错误")
	}
}

func TestEmitReport_TTYWritesSummaryOnly(t *testing.T) {
	std, out, errb := testStdio()
	std.stdoutTTY = true
	rr := domain.RunReport{Items: []domain.ItemResult{
		{Year: 2001, Status: domain.StatusFailed, ErrorCode: domain.ErrCodeListingFailed, ErrorMsg: "boom"},
	}}
	rr.Finalize()

	emitReport(std, rr)
	require.True(t, strings.HasPrefix(out.String(), "完成："))
	require.Contains(t, errb.String(), "year=2001 listing_failed: boom")
}

func TestWriteReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "movies.csv.report.json")
	rr := domain.RunReport{RunID: "r1", Kind: domain.KindMovies}
	rr.Finalize()
	require.NoError(t, writeReportFile(path, rr))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got domain.RunReport
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, "r1", got.RunID)
	require.NotNil(t, got.Items)
}
