package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/client/iocli"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/servertest"
)

// console собирает вывод команд и отвечает на запросы пароля
type console struct {
	out  strings.Builder
	mock *iocli.IOMock
}

func newConsole() *console {
	c := &console{}
	c.mock = &iocli.IOMock{
		PrintlnFunc: func(a ...any) {
			_, _ = fmt.Fprintln(&c.out, a...)
		},
		PrintfFunc: func(format string, a ...any) {
			_, _ = fmt.Fprintf(&c.out, format, a...)
		},
		ReadInputFunc: func(prompt string) (string, error) {
			return "", errors.New("no interactive input in tests")
		},
		ReadPasswordFunc: func(prompt string) (string, error) {
			return "password123", nil
		},
		WriteFunc: func(p []byte) (int, error) {
			return c.out.Write(p)
		},
	}
	return c
}

type device struct {
	server string
	db     string
}

func newDevice(t *testing.T, server string) device {
	t.Helper()
	t.Setenv(passwordEnv, "")
	return device{server: server, db: filepath.Join(t.TempDir(), "client.db")}
}

// run выполняет одну команду так же, как отдельный запуск процесса
func (d device) run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	con := newConsole()
	app := New(con.mock, io.Discard, "test")
	cmd := app.Command()
	cmd.SetArgs(append([]string{"--server", d.server, "--db", d.db}, args...))

	err := cmd.ExecuteContext(ctx)
	require.NoError(t, app.Close())
	return con.out.String(), err
}

func (d device) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := d.run(t, context.Background(), args...)
	require.NoError(t, err, out)
	return out
}

func signupTeacher(t *testing.T, d device, username string) {
	t.Helper()
	d.mustRun(t, "register", username, "--first-name", "Test", "--last-name", "Teacher", "--role", "teacher")
	out := d.mustRun(t, "login", username)
	require.Contains(t, out, "Logged in as "+username+" (teacher)")
}

var mutationID = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestCLI_FullCycle(t *testing.T) {
	dev := newDevice(t, servertest.Start(t))
	signupTeacher(t, dev, "cli_teacher")

	out := dev.mustRun(t, "enqueue", "course", "c-1", "create", "title=Intro to Go", "is_published=false")
	assert.Contains(t, out, "Queued create course/c-1")

	out = dev.mustRun(t, "status")
	assert.Contains(t, out, "cli_teacher (teacher)")
	assert.Contains(t, out, "1 pending, 0 in flight, 0 conflicted, 0 failed")
	assert.Contains(t, out, "Last sync: never")

	out = dev.mustRun(t, "sync")
	assert.Contains(t, out, "1 mutation")
	assert.Contains(t, out, "applied 1, conflicts 0, rejected 0, retrying 0, failed 0")
	assert.Contains(t, out, "synced up to")

	out = dev.mustRun(t, "list")
	assert.Contains(t, out, "Outbox is empty")

	// update без --base использует закэшированный токен
	dev.mustRun(t, "enqueue", "course", "c-1", "update", "description=Basics")
	out = dev.mustRun(t, "sync")
	assert.Contains(t, out, "applied 1")

	out = dev.mustRun(t, "sync")
	assert.Contains(t, out, "Nothing to sync")

	out = dev.mustRun(t, "status", "--remote")
	assert.Contains(t, out, "applied 1, conflicts 0, rejected 0")
	assert.NotContains(t, out, "Last sync: never")

	out = dev.mustRun(t, "logout")
	assert.Contains(t, out, "Logged out")
	out = dev.mustRun(t, "status")
	assert.Contains(t, out, "not logged in")
}

func TestCLI_ConflictResolution(t *testing.T) {
	server := servertest.Start(t)
	laptop := newDevice(t, server)
	tablet := newDevice(t, server)
	signupTeacher(t, laptop, "cli_owner")
	tablet.mustRun(t, "login", "cli_owner")

	laptop.mustRun(t, "enqueue", "course", "c-9", "create", "title=Draft")
	laptop.mustRun(t, "sync")

	// планшет не видел текущий токен курса
	tablet.mustRun(t, "enqueue", "course", "c-9", "update", "title=Tablet", "--base", "stale-token")
	out := tablet.mustRun(t, "sync")
	assert.Contains(t, out, "conflicts 1")
	assert.Contains(t, out, "learnsync conflicts")

	out = tablet.mustRun(t, "conflicts")
	assert.Contains(t, out, "conflicted")
	assert.Contains(t, out, `"title": "Draft"`)
	assert.Contains(t, out, `"title": "Tablet"`)

	id := mutationID.FindString(out)
	require.NotEmpty(t, id)

	out = tablet.mustRun(t, "retry", id)
	assert.Contains(t, out, "Requeued "+id+" as ")

	out = tablet.mustRun(t, "sync")
	assert.Contains(t, out, "applied 1")

	out = tablet.mustRun(t, "conflicts")
	assert.Contains(t, out, "No conflicts")
}

func TestCLI_DiscardRejected(t *testing.T) {
	server := servertest.Start(t)
	dev := newDevice(t, server)
	dev.mustRun(t, "register", "cli_student", "--first-name", "Stu", "--last-name", "Dent")
	dev.mustRun(t, "login", "cli_student")

	// студент не может создавать курсы
	dev.mustRun(t, "enqueue", "course", "c-2", "create", "title=Nope")
	out := dev.mustRun(t, "sync")
	assert.Contains(t, out, "rejected 1")

	out = dev.mustRun(t, "list", "--status", string(models.StatusFailed))
	assert.Contains(t, out, "forbidden")
	id := mutationID.FindString(out)
	require.NotEmpty(t, id)

	out = dev.mustRun(t, "discard", id)
	assert.Contains(t, out, "Discarded "+id)

	out = dev.mustRun(t, "list")
	assert.Contains(t, out, "Outbox is empty")
}

func TestCLI_SyncRequiresLogin(t *testing.T) {
	dev := newDevice(t, servertest.Start(t))

	dev.mustRun(t, "enqueue", "course", "c-1", "create", "title=Offline")

	_, err := dev.run(t, context.Background(), "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "learnsync login")

	out := dev.mustRun(t, "list", "--status", "pending")
	assert.Contains(t, out, "course/c-1")
}

func TestCLI_CanceledSyncAndReset(t *testing.T) {
	dev := newDevice(t, servertest.Start(t))
	signupTeacher(t, dev, "cli_resetter")
	dev.mustRun(t, "enqueue", "course", "c-1", "create", "title=Offline")

	out := dev.mustRun(t, "reset")
	assert.Contains(t, out, "No batch in flight")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dev.run(t, ctx, "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	out = dev.mustRun(t, "status")
	assert.Contains(t, out, "0 pending, 1 in flight")
	assert.Contains(t, out, "In flight: batch")

	out = dev.mustRun(t, "reset")
	assert.Contains(t, out, "1 mutation back to pending")

	out = dev.mustRun(t, "sync")
	assert.Contains(t, out, "applied 1")
}

func TestCLI_EnqueueValidation(t *testing.T) {
	dev := newDevice(t, servertest.Start(t))

	tests := []struct {
		name string
		args []string
	}{
		{name: "field without value", args: []string{"enqueue", "course", "c-1", "create", "title"}},
		{name: "missing required field", args: []string{"enqueue", "course", "c-1", "create", "description=x"}},
		{name: "unknown entity type", args: []string{"enqueue", "planet", "p-1", "create", "title=x"}},
		{name: "payload is not an object", args: []string{"enqueue", "course", "c-1", "create", "--payload", "[1,2]"}},
		{name: "update without any base", args: []string{"enqueue", "course", "c-404", "update", "title=x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.run(t, context.Background(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, models.KindValidation, models.KindOf(err))
		})
	}

	out := dev.mustRun(t, "list")
	assert.Contains(t, out, "Outbox is empty")
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields(`{"title":"From JSON","order_index":1}`, []string{
		"order_index=3",
		"is_published=true",
		"tags=[\"go\",\"sync\"]",
		"note=plain text",
		"empty=",
	})
	require.NoError(t, err)

	assert.Equal(t, "From JSON", fields["title"])
	assert.Equal(t, float64(3), fields["order_index"])
	assert.Equal(t, true, fields["is_published"])
	assert.Equal(t, []any{"go", "sync"}, fields["tags"])
	assert.Equal(t, "plain text", fields["note"])
	assert.Equal(t, "", fields["empty"])

	fields, err = parseFields("", nil)
	require.NoError(t, err)
	assert.Nil(t, fields)
}
