// cmd/enqueue.go
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var enqueueTrack bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue QUEUE CLASS [ARGS_JSON]",
	Short: "Push a job onto a queue",
	Long: `Creates a job of the given class on a queue and prints its id.
Arguments, when given, must be a JSON object.`,
	Example: `  resque enqueue default Echo '{"message": "hello"}'
  resque enqueue slow Sleep '{"seconds": 5}' --track`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var jobArgs map[string]any
		if len(args) == 3 {
			var err error
			if jobArgs, err = parseArgsJSON(args[2]); err != nil {
				return err
			}
		}

		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.r.Enqueue(ctx, args[0], args[1], jobArgs, enqueueTrack)
		if err != nil {
			return err
		}
		if id == "" {
			warnColor.Fprintln(cmd.ErrOrStderr(), "Enqueue was cancelled by a listener")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

// parseArgsJSON decodes a job argument object, keeping numbers exact.
func parseArgsJSON(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("job arguments must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("job arguments must be a single JSON object")
	}
	return m, nil
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().BoolVar(&enqueueTrack, "track", false, "track the job's status")
}
