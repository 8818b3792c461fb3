/*
 *
 * dashcheck - headless verification of the Reclame Fabriek dashboard
 * Copyright (C) 2025 Reclame Fabriek
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/reclamefabriek/dashcheck/log"
	"github.com/reclamefabriek/dashcheck/storage"
)

// BrowserProcess is a locally running browser and its user data directory.
type BrowserProcess struct {
	ctx    context.Context
	cancel context.CancelFunc

	// The process of the browser.
	process *os.Process

	// Channels for managing termination.
	processIsGracefullyClosing chan struct{}
	processDone                chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	// The directory where user data for the browser is stored.
	userDataDir *storage.Dir

	logger *log.Logger
}

// NewBrowserProcess starts the browser executable at path and waits until it
// reports its DevTools WebSocket URL. Cancelling ctx kills the process; the
// user data directory is removed once the process has ended.
func NewBrowserProcess(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	ctxCancel context.CancelFunc, logger *log.Logger,
) (*BrowserProcess, error) {
	cmd, err := execute(ctx, path, args, env, dataDir, logger)
	if err != nil {
		return nil, err
	}

	wsURL, err := parseDevToolsURL(ctx, cmd)
	if err != nil {
		ctxCancel()
		<-cmd.done
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = withExitStatus(err, cmd.exit.err)
		}
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}

	p := BrowserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		process:                    cmd.Process,
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                cmd.done,
		wsURL:                      wsURL,
		userDataDir:                dataDir,
		logger:                     logger,
	}

	go func() {
		// If the browser dies and we're not in-progress with a clean
		// termination then cancel the context to clean up.
		select {
		case <-p.processDone:
		case <-ctx.Done():
			return
		}

		select {
		case <-p.processIsGracefullyClosing:
		default:
			p.logger.Errorf("browser", "process with PID %d ended unexpectedly", p.Pid())
			p.cancel()
		}
	}()

	return &p, nil
}

// GracefulClose marks the process as closing on request, so its exit
// isn't reported as unexpected.
func (p *BrowserProcess) GracefulClose() {
	p.logger.Debugf("BrowserProcess:GracefulClose", "pid:%d", p.Pid())
	select {
	case <-p.processIsGracefullyClosing:
	default:
		close(p.processIsGracefullyClosing)
	}
}

// Terminate kills the browser process.
func (p *BrowserProcess) Terminate() {
	p.logger.Debugf("BrowserProcess:Terminate", "pid:%d", p.Pid())
	p.cancel()
}

// Wait blocks until the process has ended and its user data directory is
// removed, or ctx is done.
func (p *BrowserProcess) Wait(ctx context.Context) error {
	select {
	case <-p.processDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the process has ended.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.processDone
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *BrowserProcess) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID.
func (p *BrowserProcess) Pid() int {
	return p.process.Pid
}

// UserDataDir returns the browser's user data directory.
func (p *BrowserProcess) UserDataDir() string {
	return p.userDataDir.Dir
}

const (
	// stderrWaitDelay bounds how long the process wait keeps copying stderr
	// after the browser exited, e.g. while a child process still holds it.
	stderrWaitDelay = 2 * time.Second
	// stderrTailLines is how many of the last stderr lines are reported
	// when the browser ends without a DevTools URL.
	stderrTailLines = 5
	// exitGrace is how long to wait for the rest of stderr once the
	// process has ended.
	exitGrace = 100 * time.Millisecond
)

type command struct {
	*exec.Cmd
	done   chan struct{}
	exit   *processExit
	stderr io.Reader
	// drain receives the stderr lines that follow the DevTools URL, so
	// the browser never blocks on a full pipe.
	drain io.Writer
}

// processExit holds the result of waiting for the process. err is only
// read after done is closed.
type processExit struct {
	err error
}

func execute(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	// Wait only returns once everything the browser wrote to stderr went
	// through the pipe, so no trailing line is lost.
	stderr, stderrW := io.Pipe()
	cmd.Stderr = stderrW
	cmd.WaitDelay = stderrWaitDelay

	err := cmd.Start()
	if errors.Is(err, os.ErrNotExist) {
		return command{}, fmt.Errorf("%w: file does not exist: %s", ErrBrowserNotFound, path)
	}
	if err != nil {
		return command{}, fmt.Errorf("starting browser %q: %w", path, err)
	}
	if ctx.Err() != nil {
		return command{}, fmt.Errorf("starting browser %q: %w", path, ctx.Err())
	}

	var (
		done = make(chan struct{})
		exit = &processExit{}
	)
	go func() {
		defer func() {
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		exit.err = cmd.Wait()
		_ = stderrW.Close()
		if exit.err != nil {
			logger.Debugf("browser", "process with PID %d ended: %v", cmd.Process.Pid, exit.err)
		}
	}()

	return command{
		Cmd:    cmd,
		done:   done,
		exit:   exit,
		stderr: stderr,
		drain:  logger.Writer("browser:stderr"),
	}, nil
}

// exitStatusError adds how the browser process ended to a launch error.
type exitStatusError struct {
	err  error
	exit error
}

func withExitStatus(err, exit error) error {
	if exit == nil {
		return err
	}
	return &exitStatusError{err: err, exit: exit}
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("%v (browser %v)", e.err, e.exit)
}

func (e *exitStatusError) Unwrap() []error { return []error{e.err, e.exit} }

// OutputError carries the last lines a browser wrote to stderr before it
// ended without reporting its DevTools URL.
type OutputError struct {
	Lines []string
}

func (e *OutputError) Error() string {
	return "browser ended before reporting its DevTools URL: " + strings.Join(e.Lines, " | ")
}

const devToolsPrefix = "DevTools listening on "

// parseDevToolsURL reads the browser's stderr until it announces its
// DevTools WebSocket URL. A fatal error logged before that, the end of
// stderr, the process exiting or ctx being done all fail the launch. When
// stderr ends without a fatal error, its last lines become the error.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	type result struct {
		devToolsURL string
		err         error
	}
	c := make(chan result, 1)

	go func() {
		var (
			scanner = bufio.NewScanner(cmd.stderr)
			lastErr string
			tail    []string
		)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.Index(line, devToolsPrefix); i >= 0 {
				c <- result{strings.TrimSpace(line[i+len(devToolsPrefix):]), nil}
				drainLines(scanner, cmd.drain)
				return
			}
			if msg, ok := fatalMessage(line); ok {
				lastErr = msg
			}
			if line = strings.TrimSpace(line); line != "" {
				tail = append(tail, line)
				if len(tail) > stderrTailLines {
					tail = tail[1:]
				}
			}
		}
		switch {
		case lastErr != "":
			c <- result{"", errors.New(lastErr)}
		case scanner.Err() != nil:
			c <- result{"", scanner.Err()}
		case len(tail) > 0:
			c <- result{"", &OutputError{Lines: tail}}
		default:
			c <- result{"", io.ErrUnexpectedEOF}
		}
	}()

	select {
	case r := <-c:
		return r.devToolsURL, r.err
	case <-cmd.done:
		// The rest of stderr usually explains the exit.
		select {
		case r := <-c:
			return r.devToolsURL, r.err
		case <-time.After(exitGrace):
			return "", errors.New("browser process ended unexpectedly")
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fatalMessage extracts the message of a Chromium log line such as
// "[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11.cc(247)] Missing X server".
func fatalMessage(line string) (string, bool) {
	i := strings.Index(line, ":ERROR:")
	if i < 0 {
		i = strings.Index(line, ":FATAL:")
	}
	if i < 0 {
		return "", false
	}
	j := strings.Index(line[i:], "] ")
	if j < 0 {
		return "", false
	}
	msg := strings.TrimSpace(line[i+j+2:])
	return msg, msg != ""
}

// drainLines consumes the rest of stderr. The pipe has to be read to the
// end for the process wait to finish.
func drainLines(scanner *bufio.Scanner, w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	for scanner.Scan() {
		_, _ = io.WriteString(w, scanner.Text())
	}
}
