package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/app"
	"github.com/antoniostano/taskpilot/internal/assistant"
	"github.com/antoniostano/taskpilot/internal/conversation"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant from the terminal",
	Long: `Send one message, or start an interactive session when no message is given.

Type /quit or press Ctrl-D to leave the interactive session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "local", "User whose tasks are managed")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	sess := built.Sessions.Create(chatUser)
	in := bufio.NewReader(os.Stdin)
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		return chatTurn(ctx, built.Assistant, sess, strings.Join(args, " "), in, out)
	}

	fmt.Fprintf(out, "taskpilot (%s) - chatting as %s\n", built.Gateway.Provider(), chatUser)
	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := chatTurn(ctx, built.Assistant, sess, line, in, out); err != nil {
			fmt.Fprintln(out, assistant.ApologyMessage(err))
		}
	}
}

func chatTurn(ctx context.Context, svc *assistant.Service, sess *conversation.Session, text string, in *bufio.Reader, out io.Writer) error {
	done, err := sess.BeginTurn(ctx)
	if err != nil {
		return err
	}
	defer done()

	reply, err := svc.ProcessUserMessage(ctx, sess, text)
	printReply(out, reply)
	if err != nil {
		return err
	}
	if reply.State != assistant.StatePendingConfirmation {
		return nil
	}

	fmt.Fprint(out, "Confirm? [y/N] ")
	answer, _ := in.ReadString('\n')
	approved := strings.EqualFold(strings.TrimSpace(answer), "y") || strings.EqualFold(strings.TrimSpace(answer), "yes")
	confirmed, err := svc.Confirm(ctx, sess, approved)
	printReply(out, confirmed)
	return err
}

func printReply(out io.Writer, r assistant.Reply) {
	if r.Message != "" {
		fmt.Fprintln(out, r.Message)
	}
	for _, a := range r.Applied {
		verb := "applied"
		if a.Reused {
			verb = "reused"
		}
		fmt.Fprintf(out, "  %s %s %s\n", verb, a.Type, a.ID)
	}
	for _, n := range r.Notes {
		fmt.Fprintf(out, "  note: %s\n", n)
	}
}
