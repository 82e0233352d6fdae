// answer.go implements "tinymem answer", which replies to a waiting agent
// from any terminal by writing straight to the store.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var answerCmd = &cobra.Command{
	Use:   "answer <session-id> [text]",
	Short: "Answer a session's pending question",
	Long: `Store an answer for a session that is waiting on a question. The
agent's pending ask picks it up on its next poll, whichever process is
serving it. When text is omitted the question is shown and the answer is
read interactively.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAnswer,
}

func runAnswer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openFromFlags(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := args[0]
	sess, err := rt.mgr.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}
	question, ok, err := rt.mgr.Pending(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s has no pending question", id)
	}

	var text string
	if len(args) == 2 {
		text = args[1]
	} else {
		text, err = promptAnswer(sess.DisplayName(), question)
		if err != nil {
			return err
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty answer")
	}

	if err := rt.mgr.Answer(ctx, id, text); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Answered %s.\n", id)
	return nil
}

// promptAnswer shows the question and reads one line from the terminal.
func promptAnswer(name, question string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "answer> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("opening prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "%s asks: %s\n", name, question)
	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", errors.New("aborted")
	}
	if err != nil {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return line, nil
}
