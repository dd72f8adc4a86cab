package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/config"
	"github.com/claimflow/pkg/models"
)

type cliHarness struct {
	t       *testing.T
	cfgPath string
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "claimflow.toml")
	body := "[store]\ndriver = \"sqlite\"\ndsn = \"" + filepath.ToSlash(filepath.Join(dir, "claims.db")) + "\"\n\n[log]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return &cliHarness{t: t, cfgPath: cfgPath}
}

// run executes the CLI and returns stdout and the exit code.
func (h *cliHarness) run(args ...string) (string, int) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"claimflow", "--config", h.cfgPath}, args...))
	code := 0
	if err != nil {
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		} else {
			code = 1
		}
	}
	return strings.TrimSpace(out.String()), code
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, code := h.run(args...)
	require.Equal(h.t, 0, code, "claimflow %s", strings.Join(args, " "))
	return out
}

func TestClaimDecideLifecycle(t *testing.T) {
	h := newCLI(t)

	id := h.mustRun("claim", "file", "bk-77", "--host", "host-1", "--guest", "guest-1",
		"--type", "collision", "--estimate", "150000", "--deductible", "50000", "--deposit", "25000")
	require.NotEmpty(t, id)

	assert.Equal(t, id+" FLEET_REVIEWING", h.mustRun("claim", "review", id, "--reviewer", "fleet-1"))
	assert.Equal(t, id+" AWAITING_GUEST_RESPONSE", h.mustRun("claim", "decide", id, "--approve", "--amount", "120000", "--notes", "photos ok"))

	_, code := h.run("claim", "decide", id, "--deny", "--reason", "changed my mind")
	assert.Equal(t, exitRejected, code, "not awaiting a decision")

	assert.Equal(t, id+" UNDER_FINAL_REVIEW", h.mustRun("claim", "respond", id, "--text", "pre-existing", "--evidence", "2"))

	_, code = h.run("claim", "decide", id, "--approve", "--amount", "120001")
	assert.Equal(t, exitInvalidArgs, code, "responsibility above approved amount")

	assert.Equal(t, id+" APPROVED_PAID", h.mustRun("claim", "decide", id, "--approve", "--amount", "50000"))

	var view models.ClaimView
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("claim", "show", id)), &view))
	assert.Equal(t, "APPROVED_PAID", view.State)
	require.NotNil(t, view.HostPayout)
	assert.Equal(t, int64(96000), *view.HostPayout)

	events := h.mustRun("claim", "events", id)
	assert.Contains(t, events, "claim_filed")
	assert.Contains(t, events, "final_approved")
	assert.Contains(t, events, "intent_dispatched")
}

func TestClaimDecideArgumentErrors(t *testing.T) {
	h := newCLI(t)

	_, code := h.run("claim", "decide", "some-id")
	assert.Equal(t, exitInvalidArgs, code, "neither --approve nor --deny")

	_, code = h.run("claim", "decide", "some-id", "--approve", "--deny")
	assert.Equal(t, exitInvalidArgs, code)

	_, code = h.run("claim", "decide")
	assert.Equal(t, exitInvalidArgs, code)

	_, code = h.run("claim", "decide", "missing", "--deny")
	assert.Equal(t, exitRejected, code, "unknown claim")

	_, code = h.run("claim", "decide", "missing", "--approve", "--amount", "-5")
	assert.Equal(t, exitInvalidArgs, code)
}

func TestSweepCommand(t *testing.T) {
	h := newCLI(t)
	out := h.mustRun("sweep")
	assert.Equal(t, "checked=0 reminded=0 suspended=0 failed=0", out)
}

func TestMigrateCommand(t *testing.T) {
	h := newCLI(t)
	assert.Equal(t, "Migrations applied (sqlite)", h.mustRun("migrate"))
	assert.Equal(t, "Migrations applied (sqlite)", h.mustRun("migrate"))
}

func TestConfigCommands(t *testing.T) {
	h := newCLI(t)
	out := h.mustRun("config", "validate")
	assert.Contains(t, out, "Store: sqlite")
	assert.Contains(t, out, "notifications will only be logged")
	assert.Contains(t, out, "Configuration is valid")

	target := filepath.Join(t.TempDir(), "new.toml")
	assert.Contains(t, h.mustRun("config", "init", "-o", target), target)
	_, code := h.run("config", "init", "-o", target)
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, h.mustRun("config", "init", "-o", target, "--force"), target)

	var shown struct {
		ResponseWindow string            `json:"responseWindow"`
		Driver         string            `json:"driver"`
		Tiers          map[string]string `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("config", "show")), &shown))
	assert.Equal(t, "48h0m0s", shown.ResponseWindow)
	assert.Equal(t, "sqlite", shown.Driver)
	assert.Equal(t, "0.20", shown.Tiers["standard"])

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[workflow]\nresponse_window_hours = 24\nreminder_lead_hours = 24\n"), 0o644))
	h.cfgPath = bad
	_, code = h.run("config", "validate")
	assert.Equal(t, exitInvalidArgs, code)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, exitOK, exitCodeFor(nil))
	assert.Equal(t, exitInvalidArgs, exitCodeFor(claims.InvalidInput("bad")))
	assert.Equal(t, exitRejected, exitCodeFor(claims.InvalidTransition(claims.StateFiled, claims.StateApprovedPaid)))
	assert.Equal(t, exitRejected, exitCodeFor(claims.LostRace("c", claims.StateFiled)))
	assert.Equal(t, exitRejected, exitCodeFor(claims.ErrDeadlinePassed))
	assert.Equal(t, exitRejected, exitCodeFor(claims.ErrNotFound))
}

func TestCheckRequiredConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.LoadConfig(filepath.Join(newCLI(t).cfgPath))
	require.NoError(t, err)

	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""
	result := CheckRequiredConfig(cfg)
	assert.Equal(t, []string{"DATABASE_URL"}, result.Missing)

	cfg.Store.DSN = "postgres://claims:hunter22@db:5432/claims"
	cfg.Notifications.WebhookURL = "https://notify.example.com"
	result = CheckRequiredConfig(cfg)
	assert.Empty(t, result.Missing)
	assert.NotContains(t, result.Present["DATABASE_URL"], "hunter22")
	assert.Len(t, result.Warnings, 1)

	var buf bytes.Buffer
	PrintConfigCheck(&buf, result)
	assert.Contains(t, buf.String(), "All required configuration is present")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "ab****yz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}
