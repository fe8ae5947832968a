package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orbit-erp/orbit/internal/fx"
	"github.com/orbit-erp/orbit/jobs"
)

type memoryRates struct {
	rates map[string]fx.Rate
}

func rateKey(base, quote string, day time.Time) string {
	return base + quote + day.Format(time.DateOnly)
}

func (m *memoryRates) ListRates(_ context.Context, base, quote string, from, _ time.Time) ([]fx.Rate, error) {
	if rate, ok := m.rates[rateKey(base, quote, from)]; ok {
		return []fx.Rate{rate}, nil
	}
	return nil, nil
}

func (m *memoryRates) UpsertRate(_ context.Context, rate fx.Rate) error {
	m.rates[rateKey(rate.From, rate.To, rate.Date)] = rate
	return nil
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, from, to string) error {
	c.invalidated = append(c.invalidated, from+"/"+to)
	return nil
}

const sampleCSV = `date,base,quote,rate
# month end
2025-03-01, eur, usd, 1.0850
2025-03-01, EUR, USD, 1.0900
2025-03-02, USD, IDR, 16250
`

func newMemoryRates() *memoryRates {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &memoryRates{rates: map[string]fx.Rate{
		rateKey("EUR", "USD", day): {From: "EUR", To: "USD", Date: day, Rate: decimal.RequireFromString("1.08")},
	}}
}

func TestImportCommandDryRunReportsPending(t *testing.T) {
	store := newMemoryRates()
	cli, err := NewFXCLI(store, nil)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader(sampleCSV),
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Empty(t, stderr.String())

	var summary FXImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, FXImportModeDry, summary.Mode)
	require.Len(t, summary.Rows, 2)
	require.Equal(t, 2, summary.Pending)
	require.Equal(t, "1.09", summary.Rows[0].Rate)
	require.Equal(t, "1.08", summary.Rows[0].Previous)
	require.Equal(t, FXRowChanged, summary.Rows[0].Status)
	require.Equal(t, FXRowNew, summary.Rows[1].Status)
	require.Len(t, store.rates, 1)
}

func TestImportCommandApply(t *testing.T) {
	store := newMemoryRates()
	cache := &recordingCache{}
	cli, err := NewFXCLI(store, cache)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader(sampleCSV),
		Mode:         FXImportModeApply,
		Stdout:       stdout,
		Stderr:       io.Discard,
		Confirm:      func(io.Reader, io.Writer) (bool, error) { return true, nil },
	})
	require.Zero(t, exitCode)
	require.Len(t, store.rates, 2)
	require.ElementsMatch(t, []string{"EUR/USD", "USD/IDR"}, cache.invalidated)
	require.Contains(t, stdout.String(), "Applied 2 rate(s).")
}

func TestImportCommandCancelled(t *testing.T) {
	store := newMemoryRates()
	cli, err := NewFXCLI(store, nil)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader(sampleCSV),
		Mode:         FXImportModeApply,
		Stdout:       io.Discard,
		Stderr:       stderr,
		Stdin:        strings.NewReader("no\n"),
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cancelled")
	require.Len(t, store.rates, 1)
}

func TestImportCommandRejectsInvalidSource(t *testing.T) {
	cases := map[string]string{
		"missing column": "date,base,rate\n2025-03-01,EUR,1.1\n",
		"bad date":       "date,base,quote,rate\n03/01/2025,EUR,USD,1.1\n",
		"same currency":  "date,base,quote,rate\n2025-03-01,EUR,EUR,1\n",
		"negative rate":  "date,base,quote,rate\n2025-03-01,EUR,USD,-1\n",
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			cli, err := NewFXCLI(newMemoryRates(), nil)
			require.NoError(t, err)
			stderr := new(bytes.Buffer)
			exitCode := cli.ImportCommand(context.Background(), FXImportOptions{
				SourceReader: strings.NewReader(source),
				Stdout:       io.Discard,
				Stderr:       stderr,
			})
			require.Equal(t, 1, exitCode)
			require.Contains(t, stderr.String(), "fx import:")
		})
	}
}

func TestImportCommandInvalidMode(t *testing.T) {
	cli, err := NewFXCLI(newMemoryRates(), nil)
	require.NoError(t, err)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), FXImportOptions{Mode: "force", Stderr: stderr, Stdout: io.Discard})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid mode")
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func TestJobsTrigger(t *testing.T) {
	rec := &recordingEnqueuer{}
	cli := &JobsCLI{client: rec}

	for _, name := range []string{jobs.TaskDueSweep, jobs.TaskDueReminders, jobs.TaskIdempotencyCleanup} {
		info, err := cli.Trigger(context.Background(), name, TriggerOptions{PageSize: 25, IdempotencyRetention: 24 * time.Hour})
		require.NoError(t, err)
		require.Equal(t, name, info.Type)
	}
	var payload jobs.SweepPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &payload))
	require.Equal(t, 25, payload.PageSize)

	_, err := cli.Trigger(context.Background(), "analytics:warmup", TriggerOptions{})
	require.Error(t, err)
}
