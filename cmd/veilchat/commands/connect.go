package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"veilchat/internal/app"
	"veilchat/internal/domain"
	"veilchat/internal/services/chat"
	"veilchat/internal/util/memzero"
)

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Join the chat; lines starting with / are commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cw, err := app.NewClientWire(ctx, cfg, logger)
			if err != nil {
				return err
			}

			var msgLog domain.MessageLog
			if cfg.Client.Log.Path != "" {
				pass, err := logPassphrase()
				if err != nil {
					return err
				}
				l, err := cw.OpenLog(pass)
				memzero.Zero(pass)
				if err != nil {
					return err
				}
				msgLog = l
			}

			c, err := cw.Dial(ctx, msgLog)
			if err != nil {
				if msgLog != nil {
					_ = msgLog.Close()
				}
				return err
			}
			return session(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// session pumps stdin into the client and events onto out until the
// connection ends.
func session(ctx context.Context, c *chat.Client, in io.Reader, out io.Writer) error {
	printf(out, "Connected as %s. Type /help for commands.\n", c.Identity())

	rendered := make(chan error, 1)
	go func() { rendered <- renderEvents(out, c.Events()) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-c.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			<-rendered
			return nil

		case err := <-rendered:
			_ = c.Close()
			return err

		case line, ok := <-lines:
			if !ok {
				_, _ = c.Execute(chat.Quit{})
				return <-rendered
			}
			if line == "" {
				continue
			}
			cmd, err := chat.ParseCommand(line)
			if errors.Is(err, chat.ErrNotCommand) {
				if _, err := c.Send(line); err != nil {
					printf(out, "[!] not sent: %v\n", err)
				}
				continue
			}
			if err != nil {
				printf(out, "[!] %v. Type /help for commands.\n", err)
				continue
			}
			res, err := c.Execute(cmd)
			if err != nil {
				printf(out, "[!] %v\n", err)
			}
			renderResult(out, res)
			if res.Quit {
				return <-rendered
			}
		}
	}
}
