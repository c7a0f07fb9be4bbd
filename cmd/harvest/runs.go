package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/infra/ledger"
)

// runView 是 runs 命令在非 TTY 下输出的 JSON 结构。
type runView struct {
	RunID       string     `json:"run_id"`
	Kind        string     `json:"kind"`
	Output      string     `json:"output"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	RowsWritten int        `json:"rows_written"`
}

func newRunsCmd(std stdio, f *cliFlags) *cobra.Command {
	var market bool
	cmd := &cobra.Command{
		Use:   "runs [--market]",
		Short: "列出台账中写过当前输出文件的运行（新的在前）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := config.KindMovies
			if market {
				kind = config.KindMarket
			}
			return listRuns(cmd, std, kind, f)
		},
	}
	cmd.Flags().BoolVar(&market, "market", false, "查看 market 输出文件的运行")
	return cmd
}

func listRuns(cmd *cobra.Command, std stdio, kind string, f *cliFlags) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(std.stderr, "读取当前目录失败：%v\n", err)
		return &exitError{code: 1}
	}
	target, err := config.LoadLedgerTarget(cwd, cliArgs(cmd, kind, f))
	if err != nil {
		fmt.Fprintf(std.stderr, "%v\n", err)
		return &exitError{code: 1}
	}
	if target.Ledger == "" {
		fmt.Fprintln(std.stderr, "ledger 已关闭，没有运行记录")
		return &exitError{code: 1}
	}

	var runs []ledger.Run
	// 台账不存在时不创建空库。
	if _, err := os.Stat(target.Ledger); err == nil || target.Ledger == ":memory:" {
		l, err := ledger.Open(ctx, target.Ledger)
		if err != nil {
			fmt.Fprintf(std.stderr, "打开 ledger 失败（%s）：%v\n", target.Ledger, err)
			return &exitError{code: 1}
		}
		defer l.Close()
		if runs, err = l.Runs(ctx, target.Output); err != nil {
			fmt.Fprintf(std.stderr, "读取 ledger 失败：%v\n", err)
			return &exitError{code: 1}
		}
	}

	if std.stdoutTTY {
		renderRuns(std.stdout, target.Output, runs)
		return nil
	}
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{
			RunID:       r.ID,
			Kind:        r.Kind,
			Output:      r.Output,
			StartedAt:   r.StartedAt,
			RowsWritten: r.RowsWritten,
		}
		if !r.FinishedAt.IsZero() {
			fin := r.FinishedAt
			v.FinishedAt = &fin
		}
		views = append(views, v)
	}
	_ = json.NewEncoder(std.stdout).Encode(views)
	return nil
}

func renderRuns(w io.Writer, output string, runs []ledger.Run) {
	fmt.Fprintf(w, "output: %s\n", output)
	if len(runs) == 0 {
		fmt.Fprintln(w, "（没有运行记录）")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"run", "kind", "started", "duration", "rows"})
	for _, r := range runs {
		dur := "未结束"
		if !r.FinishedAt.IsZero() {
			dur = formatElapsed(r.FinishedAt.Sub(r.StartedAt))
		}
		t.AppendRow(table.Row{r.ID, r.Kind, r.StartedAt.Local().Format("2006-01-02 15:04:05"), dur, r.RowsWritten})
	}
	t.Render()
}
