package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskintake/internal/apiclient"
	"github.com/mbd888/riskintake/internal/jobs"
	"github.com/mbd888/riskintake/internal/risk"
)

func TestScoreCSV(t *testing.T) {
	input := "Amount,Merchant,Country,Date\n" +
		"5000,ScamShop,Brazil,2024-03-01T02:00:00Z\n" +
		"20,Cafe,Ireland,2024-03-01T12:00:00Z\n" +
		"12,\xff\xfe,Ireland,2024-03-01T12:00:00Z\n" +
		"\"$1,200.50\",,,\n"

	var out bytes.Buffer
	sum, err := scoreCSV(context.Background(), strings.NewReader(input), &out, risk.NewDefault(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Scored)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.High)
	assert.Equal(t, 100.0, sum.Max)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, scoredHeader, rows[0])
	assert.Equal(t, []string{"5000", "ScamShop", "Brazil", "2024-03-01T02:00:00.000Z", "100", "high"}, rows[1])
	assert.Equal(t, []string{"20", "Cafe", "Ireland", "2024-03-01T12:00:00.000Z", "0", "low"}, rows[2])
	assert.Equal(t, "unknown", rows[3][1])
	assert.Equal(t, "Ireland", rows[3][2])
}

func TestScoreCSV_Empty(t *testing.T) {
	var out bytes.Buffer
	sum, err := scoreCSV(context.Background(), strings.NewReader(""), &out, risk.NewDefault(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Scored)
	assert.Equal(t, strings.Join(scoredHeader, ",")+"\n", out.String())
}

func TestScoreCSV_Progress(t *testing.T) {
	var out, progress bytes.Buffer
	_, err := scoreCSV(context.Background(), strings.NewReader("amount\n1\n2\n"), &out, risk.NewDefault(), &progress)
	require.NoError(t, err)
	assert.Contains(t, progress.String(), "Scoring rows")
}

func TestScoreCSV_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := scoreCSV(ctx, strings.NewReader("amount\n1\n"), &out, risk.NewDefault(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScoreCSV_SkipsRowsAnUploadWouldReject(t *testing.T) {
	input := "date,amount,merchant\n" +
		"2024-03-01 12:00,10,A\n" +
		"next tuesday,20,B\n" +
		"2024-03-02 12:00,30,C\xff\n" +
		"3/3/2024 12:00,40,D\n" +
		",50,E\n"

	var out bytes.Buffer
	sum, err := scoreCSV(context.Background(), strings.NewReader(input), &out, risk.NewDefault(), nil)
	require.NoError(t, err)
	assert.Equal(t, scoreSummary{Scored: 3, Skipped: 2}, sum)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"A", "D", "E"}, []string{rows[1][1], rows[2][1], rows[3][1]})
	assert.Equal(t, "2024-03-03T12:00:00.000Z", rows[2][3])
}

func TestScoreCmd_UsesRiskConfigFlags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("amount,merchant\n10,ScamShop\n"), 0o600))

	cmd := scoreCmd()
	cmd.SetArgs([]string{in, "--scale", "unit", "--no-progress", "--output", outPath})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10,ScamShop,Ireland,,0.25,low")

	cmd = scoreCmd()
	cmd.SetArgs([]string{in, "--scale", "bogus", "--no-progress"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

// jobServer answers GET /v1/jobs/:id with the given statuses in order,
// repeating the last one.
func jobServer(t *testing.T, statuses ...jobs.Status) *apiclient.Client {
	t.Helper()
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := statuses[min(calls, len(statuses)-1)]
		calls++
		job := jobs.Job{ID: "job-1", Type: jobs.TypeParseCSV, Status: st, Payload: jobs.Payload{UserID: "u1"}}
		if st == jobs.StatusDone {
			job.Result = &jobs.Result{Inserted: 2, Skipped: 1}
		}
		if st == jobs.StatusFailed {
			job.LastError = "boom"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"job": job})
	}))
	t.Cleanup(ts.Close)
	return apiclient.New(ts.URL)
}

func newFollowCmd(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addWaitFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func TestFollowJob_Wait(t *testing.T) {
	client := jobServer(t, jobs.StatusPending, jobs.StatusProcessing, jobs.StatusDone)
	cmd, out := newFollowCmd(t, "--wait", "--poll-interval=5ms")

	err := followJob(cmd, client, &jobs.Job{ID: "job-1", Status: jobs.StatusPending})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Waiting for job job-1")
	assert.Contains(t, out.String(), "status=done")
	assert.Contains(t, out.String(), "inserted=2 updated=0 skipped=1")
}

func TestFollowJob_NoWait(t *testing.T) {
	cmd, out := newFollowCmd(t)

	err := followJob(cmd, nil, &jobs.Job{ID: "job-1", Type: jobs.TypeRescoreAll, Status: jobs.StatusPending, Payload: jobs.Payload{UserID: "u1"}})
	require.NoError(t, err)
	assert.Equal(t, "job job-1  type=rescore_all  user=u1  status=pending\n", out.String())
}

func TestFollowJob_Failed(t *testing.T) {
	client := jobServer(t, jobs.StatusFailed)
	cmd, out := newFollowCmd(t, "--wait", "--poll-interval=5ms")

	err := followJob(cmd, client, &jobs.Job{ID: "job-1", Status: jobs.StatusPending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, out.String(), "error: boom")
}

func TestFollowJob_Timeout(t *testing.T) {
	client := jobServer(t, jobs.StatusProcessing)
	cmd, out := newFollowCmd(t, "--wait", "--poll-interval=5ms", "--timeout=30ms")

	start := time.Now()
	err := followJob(cmd, client, &jobs.Job{ID: "job-1", Status: jobs.StatusPending})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, out.String(), "status=processing")
}
