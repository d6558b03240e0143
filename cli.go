// ABOUTME: Command-line definition for canvas-mark.
// ABOUTME: Declares the flags, turns them into Options, and maps failures to exit codes.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// ExitError carries the process exit code for a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: exitUsage, Err: fmt.Errorf(format, args...)}
}

func newCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "canvas-mark",
		Usage: "bulk-mark Canvas LMS announcements, discussions, and to-dos as read",
		Description: "Marks content as read for the user owning the access token.\n" +
			"Select one or more categories; -A selects them all.",
		Writer:                 stdout,
		ErrWriter:              stderr,
		HideHelpCommand:        true,
		UseShortOptionHandling: true,
		// Exit codes are decided by run, never inside the cli package.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "domain",
				Aliases: []string{"D"},
				Usage:   "your institution's Canvas domain (e.g. https://utah.instructure.com)",
				Sources: cli.EnvVars("CANVAS_DOMAIN"),
			},
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"T"},
				Usage:   "your Canvas LMS access token",
				Sources: cli.EnvVars("CANVAS_TOKEN"),
			},
			&cli.BoolFlag{
				Name:    "announcements",
				Aliases: []string{"a"},
				Usage:   "mark old announcements as read",
			},
			&cli.BoolFlag{
				Name:    "discussions",
				Aliases: []string{"d"},
				Usage:   "mark old discussions as read",
			},
			&cli.BoolFlag{
				Name:    "todos",
				Aliases: []string{"t"},
				Usage:   "mark old to-dos as complete",
			},
			&cli.BoolFlag{
				Name:    "unread",
				Aliases: []string{"u"},
				Usage:   "mark unread inbox conversations as read",
			},
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"A"},
				Usage:   "enable all categories",
			},
			&cli.StringSliceFlag{
				Name:  "course",
				Usage: "only process the course with this `ID` (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "list what would be marked without changing anything",
			},
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "pause between write calls",
			},
			&cli.BoolFlag{
				Name:  "save",
				Usage: "save the domain and token to the config file after a successful check",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every Canvas request",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return action(ctx, cmd, stdout, stderr)
		},
	}
}

func action(ctx context.Context, cmd *cli.Command, stdout, stderr io.Writer) error {
	cfg, err := resolveConfig(cmd.String("domain"), cmd.String("token"))
	if err != nil {
		return usageError("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}

	opts, err := optionsFromCommand(cmd)
	if err != nil {
		return err
	}
	opts.Progress = isTerminal(stderr)

	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	client := NewCanvasClient(cfg.BaseURL, cfg.AccessToken, logger)
	marker := NewMarker(client, opts, stdout, stderr)

	summary, err := marker.Run(ctx)
	if err != nil {
		logger.Debug("run failed", "error", err)
		return &ExitError{Code: exitFailure, Err: err}
	}

	if cmd.Bool("save") {
		path, err := saveConfig(cfg)
		if err != nil {
			return &ExitError{Code: exitFailure, Err: fmt.Errorf("could not save config: %w", err)}
		}
		fmt.Fprintf(stdout, "Configuration saved to %s\n", path)
	}

	summary.Render(stdout, terminalWidth())
	return nil
}

func optionsFromCommand(cmd *cli.Command) (Options, error) {
	cats := Categories{
		Announcements: cmd.Bool("announcements"),
		Discussions:   cmd.Bool("discussions"),
		Todos:         cmd.Bool("todos"),
		Unread:        cmd.Bool("unread"),
	}
	if cmd.Bool("all") {
		cats = allCategories()
	}
	if !cats.Any() {
		return Options{}, usageError("no categories selected: pass -a, -d, -t, -u, or -A (see --help)")
	}

	courseIDs, err := parseCourseIDs(cmd.StringSlice("course"))
	if err != nil {
		return Options{}, err
	}

	delay := cmd.Duration("delay")
	if delay < 0 {
		return Options{}, usageError("invalid --delay %s: must not be negative", delay)
	}

	return Options{
		Categories: cats,
		CourseIDs:  courseIDs,
		DryRun:     cmd.Bool("dry-run"),
		Delay:      delay,
	}, nil
}

func parseCourseIDs(values []string) ([]int, error) {
	var ids []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil || id <= 0 {
				return nil, usageError("invalid --course %q: must be a positive course ID", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := newCommand(stdout, stderr).Run(ctx, args)
	if err == nil {
		return exitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", exitErr.Err)
		return exitErr.Code
	}

	// Anything else comes from flag parsing.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}
