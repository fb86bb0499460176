package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ingest"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns a canned result and records the command it saw.
type fakeRunner struct {
	res  *runner.Result
	err  error
	seen runner.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	f.seen = cmd
	return f.res, f.err
}

func TestIngest_Success(t *testing.T) {
	fr := &fakeRunner{res: &runner.Result{Stdout: []byte(
		"cloning...\n" + `{"success": true, "summary": "Repo: acme/widget", "tree": "README.md", "content": "# Widget"}` + "\n")}}
	c := ingest.NewClient(fr, "python3", []string{"scripts/gitingest_wrapper.py"}, 0)

	d, err := c.Ingest(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "Repo: acme/widget", d.Summary)
	assert.Equal(t, "README.md", d.Tree)
	assert.Equal(t, "# Widget", d.Content)

	assert.Equal(t, "python3", fr.seen.Name)
	assert.Equal(t, []string{"scripts/gitingest_wrapper.py", "--stdin"}, fr.seen.Args)
	assert.Equal(t, "https://github.com/acme/widget\n", string(fr.seen.Stdin))
	assert.Equal(t, ingest.DefaultTimeout, fr.seen.Timeout)
}

func TestIngest_HelperReportsFailure(t *testing.T) {
	fr := &fakeRunner{
		res: &runner.Result{ExitCode: 1, Stdout: []byte(`{"success": false, "error": "Repository not found"}`)},
		err: &runner.ExitError{Name: "python3", Code: 1},
	}
	c := ingest.NewClient(fr, "python3", nil, time.Minute)

	_, err := c.Ingest(context.Background(), "https://github.com/acme/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
	assert.ErrorIs(t, err, runner.ErrProcessExit)
	assert.Contains(t, err.Error(), "Repository not found")
}

func TestIngest_SuccessFalseWithZeroExit(t *testing.T) {
	fr := &fakeRunner{res: &runner.Result{Stdout: []byte(`{"success": false}`)}}
	c := ingest.NewClient(fr, "python3", nil, 0)

	_, err := c.Ingest(context.Background(), "https://github.com/a/b")
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
	assert.Contains(t, err.Error(), "helper reported failure")
}

func TestIngest_MalformedOutput(t *testing.T) {
	fr := &fakeRunner{res: &runner.Result{Stdout: []byte("Traceback (most recent call last):")}}
	c := ingest.NewClient(fr, "python3", nil, 0)

	_, err := c.Ingest(context.Background(), "https://github.com/a/b")
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
	assert.Contains(t, err.Error(), "malformed")
}

func TestIngest_EmptyDigest(t *testing.T) {
	fr := &fakeRunner{res: &runner.Result{Stdout: []byte(`{"success": true, "tree": "", "content": "  "}`)}}
	c := ingest.NewClient(fr, "python3", nil, 0)

	_, err := c.Ingest(context.Background(), "https://github.com/a/b")
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
}

func TestIngest_TimeoutIsPreserved(t *testing.T) {
	fr := &fakeRunner{
		res: &runner.Result{ExitCode: -1},
		err: &runner.TimeoutError{Name: "python3", Timeout: time.Minute},
	}
	c := ingest.NewClient(fr, "python3", nil, 0)

	_, err := c.Ingest(context.Background(), "https://github.com/a/b")
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
	assert.ErrorIs(t, err, runner.ErrProcessTimeout)
}

func TestIngest_SpawnFailure(t *testing.T) {
	fr := &fakeRunner{err: &runner.SpawnError{Name: "python3", Err: errors.New("not found")}}
	c := ingest.NewClient(fr, "python3", nil, 0)

	_, err := c.Ingest(context.Background(), "https://github.com/a/b")
	assert.ErrorIs(t, err, ingest.ErrIngestionFailed)
	assert.ErrorIs(t, err, runner.ErrProcessSpawnFailed)
}
