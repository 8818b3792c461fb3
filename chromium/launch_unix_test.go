//go:build unix

package chromium

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/browserprocess"
	"github.com/reclamefabriek/dashcheck/log"
)

// The browser starts and announces a DevTools URL nobody listens on, so
// connecting fails after the process is up.
func TestLaunchConnectFailureCleansUp(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws://" + srv.Listener.Addr().String() + "/devtools/browser/gone"
	srv.Close()

	pidFile := filepath.Join(t.TempDir(), "pid")
	script := fmt.Sprintf("#!/bin/sh\necho $$ > %q\necho 'DevTools listening on %s' >&2\nexec sleep 30\n", pidFile, wsURL)
	path := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700)) //nolint:gosec

	opts := api.NewLaunchOptions()
	opts.ExecutablePath = null.StringFrom(path)
	opts.Timeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := New(log.NewNullLogger()).Launch(ctx, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to browser DevTools URL")
	require.NoError(t, ctx.Err(), "the caller's context is left alone")

	buf, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	require.NoError(t, err)

	assert.True(t, errors.Is(syscall.Kill(pid, 0), syscall.ESRCH), "browser process %d is gone", pid)
	assert.NotContains(t, browserprocess.Registered(), pid)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "dashcheck-browser-data-"), "user data dir %s left behind", e.Name())
	}
}
