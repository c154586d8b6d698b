// Command tagcast publishes and receives messages over the tagcast TCP protocol.
//
//	tagcast send alert,ops "disk almost full"
//	tagcast receive alert,info
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/casualjim/tagcast/client"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if addr := os.Getenv("TAGCAST_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:5001"
}

func newRootCmd() *cobra.Command {
	var addr string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "tagcast",
		Short:         "Publish and receive tagged messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&addr, "addr", "a", defaultAddr(), "broker TCP address (env: TAGCAST_ADDR)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "dial and request timeout")

	dial := func(ctx context.Context) (*client.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return client.Dial(ctx, addr)
	}

	root.AddCommand(newSendCmd(dial, &timeout), newReceiveCmd(dial))
	return root
}

type dialFunc func(context.Context) (*client.Client, error)

func newSendCmd(dial dialFunc, timeout *time.Duration) *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "send <tags> <content...>",
		Short: "Publish a message with comma separated tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			msg := messages.New(sender, tags.Parse(args[0]), strings.Join(args[1:], " "))
			seq, err := c.Publish(ctx, msg)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "published #%d\n", seq)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sender, "sender", "s", "", "sender identity (defaults to the connection address)")
	return cmd
}

func newReceiveCmd(dial dialFunc) *cobra.Command {
	var since uint64
	var count int
	var id string

	cmd := &cobra.Command{
		Use:   "receive <tags>",
		Short: "Subscribe with comma separated tags and print messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			subID, err := c.SubscribeAs(cmd.Context(), id, tags.Parse(args[0]), since)
			if err != nil {
				return err
			}
			color.New(color.Faint).Fprintf(cmd.ErrOrStderr(), "subscribed as %s\n", subID)

			for received := 0; count <= 0 || received < count; received++ {
				select {
				case <-cmd.Context().Done():
					return nil
				case msg, ok := <-c.Messages():
					if !ok {
						return fmt.Errorf("connection closed: %w", c.Err())
					}
					printMessage(cmd.OutOrStdout(), msg)
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "replay only messages after this sequence number")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 = run until interrupted)")
	cmd.Flags().StringVar(&id, "id", "", "subscriber id")
	return cmd
}

var (
	seqColor    = color.New(color.FgHiBlack)
	tagColor    = color.New(color.FgCyan, color.Bold)
	senderColor = color.New(color.FgYellow)
)

func printMessage(w io.Writer, msg messages.Message) {
	fmt.Fprintf(w, "%s %s %s %s\n",
		seqColor.Sprintf("#%d", msg.Seq),
		tagColor.Sprintf("[%s]", msg.Tags),
		senderColor.Sprint(msg.Sender+":"),
		msg.Content,
	)
}
