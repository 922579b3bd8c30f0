package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

const (
	// outputTail is how much command output is kept for error reports.
	outputTail = 4 << 10
	// waitDelay bounds how long a killed command may hold its pipes open.
	waitDelay = 5 * time.Second
)

// commandHandler runs a config job as a child process. The process is
// killed when the execution context ends (job kill, timeout, shutdown).
func commandHandler(jc config.JobConfig, log logx.Logger) scheduler.Handler {
	argv := slices.Clone(jc.Command)
	if len(argv) == 0 {
		argv = []string{"/bin/sh", "-c", jc.Shell}
	}
	env := jobEnv(os.Environ(), jc.Env)
	dir := jc.Dir

	return func(ctx context.Context, job *scheduler.Job, at time.Time) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.Env = slices.Concat(env, []string{
			"SCHEDKIT_JOB_ID=" + job.ID(),
			"SCHEDKIT_JOB_NAME=" + job.Name(),
			"SCHEDKIT_SCHEDULED_AT=" + at.Format(time.RFC3339),
		})
		cmd.WaitDelay = waitDelay
		out := &tailBuffer{max: outputTail}
		cmd.Stdout = out
		cmd.Stderr = out

		start := time.Now()
		err := cmd.Run()
		if ctx.Err() != nil {
			// killed or timed out; the cause tells the pool which
			return context.Cause(ctx)
		}
		if err != nil {
			if tail := strings.TrimSpace(out.String()); tail != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, tail)
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		log.Debug("command finished",
			logx.String("job", job.Name()),
			logx.Duration("took", time.Since(start)),
			logx.Int("output_bytes", out.total),
		)
		return nil
	}
}

// jobEnv overlays extra onto base in a stable order. Later entries win in
// exec, so overrides are appended.
func jobEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max   int
	buf   []byte
	total int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.total += len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
