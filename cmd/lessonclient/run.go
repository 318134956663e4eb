package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raihanakbr/lesson-session-client/internal/audio"
	"github.com/raihanakbr/lesson-session-client/internal/bootstrap"
	"github.com/raihanakbr/lesson-session-client/internal/session"
	"github.com/raihanakbr/lesson-session-client/internal/websocket"
)

type runOptions struct {
	classID   int64
	unitID    string
	sessionID string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or join a lesson session",
		Long: `Start a lesson for a class unit (--class and --unit) or join an existing
session (--session). Commands are read from stdin: next, again, ask <text>,
exit, yes, no, status, steps, help.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sessionID == "" && (opts.classID == 0 || opts.unitID == "") {
				return errors.New("either --session or both --class and --unit are required")
			}
			return runLesson(cmd, root, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.classID, "class", 0, "class id to start a lesson for")
	cmd.Flags().StringVar(&opts.unitID, "unit", "", "unit id to start a lesson for")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "existing session id to join")
	return cmd
}

func runLesson(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, log, err := root.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	tokens, err := newTokenStore(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID, err = bootstrap.New(cfg.APIURL, tokens, nil, log).Start(ctx, opts.classID, opts.unitID)
		if err != nil {
			if errors.Is(err, bootstrap.ErrUnauthorized) {
				return fmt.Errorf("%w; run `lessonclient token set` with a fresh token", err)
			}
			return err
		}
	}

	device, err := audio.NewFileDevice(cfg.AudioDir, log)
	if err != nil {
		return err
	}

	wsCfg := cfg.Websocket()
	ctrl := session.New(cfg.Session(), tokens, func(h websocket.Handler) session.Transport {
		return websocket.NewChannel(wsCfg, h, log)
	}, device, log)

	out := cmd.OutOrStdout()
	finished := make(chan struct{})
	var finishOnce sync.Once
	view := newStatusView(out)
	ctrl.OnChange(func(s session.Snapshot) {
		view.update(s)
		if s.Phase.Terminal() {
			finishOnce.Do(func() { close(finished) })
		}
	})

	fmt.Fprintf(out, "Joining session %s (audio in %s)\n", sessionID, cfg.AudioDir)
	if err := ctrl.Start(ctx, sessionID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return readCommands(gctx, cmd.InOrStdin(), out, ctrl)
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-finished:
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	_ = ctrl.Close()

	final := ctrl.Snapshot()
	fmt.Fprintf(out, "Session %s\n", final.Phase)
	if err != nil {
		return err
	}
	if final.Phase == session.PhaseFailed {
		return final.Err
	}
	return nil
}

// readCommands feeds stdin lines to the controller until the input ends,
// the user confirms exit or ctx is cancelled.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, ctrl lessonActions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(out, helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := execute(ctrl, line, out); quit {
				return nil
			}
		}
	}
}
