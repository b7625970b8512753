package jobs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/resque"
)

// ShellCommandHandler runs args.command and logs its combined output.
type ShellCommandHandler struct {
	logger zerolog.Logger
}

func (h *ShellCommandHandler) Perform(ctx context.Context, job *resque.Job) error {
	cmdString, _ := job.Args()["command"].(string)
	parts := strings.Fields(cmdString)
	if len(parts) == 0 {
		return fmt.Errorf("job arguments missing 'command' field")
	}
	h.logger.Info().Str("job_id", job.ID()).Str("command", cmdString).Msg("Running shell command")

	out, err := exec.CommandContext(ctx, parts[0], parts[1:]...).CombinedOutput()
	h.logger.Debug().Str("job_id", job.ID()).Bytes("output", out).Msg("Shell command finished")
	if err != nil {
		return fmt.Errorf("command %q failed: %w: %s", cmdString, err, strings.TrimSpace(string(out)))
	}
	return nil
}
