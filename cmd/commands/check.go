package commands

// One-shot live check: prints the state of the given (or configured) channels
// without sending anything. Useful to verify slugs and Cloudflare access.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"kick-miner/internal/clients_api/kick"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [channel...]",
	Short: "Show whether channels are live and their chatroom ids",
	RunE:  runCheck,
}

// channelFetcher is the read-only half of the Kick client.
type channelFetcher interface {
	GetChannel(ctx context.Context, slug string) (*kick.Channel, error)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	channels := args
	if len(channels) == 0 {
		channels = cfg.Channels
	}
	if len(channels) == 0 {
		return errors.New("no channels given and none configured")
	}

	client := kick.NewClient(kickOptions(cfg))
	return checkChannels(cmd.Context(), client, channels, cmd.OutOrStdout())
}

func checkChannels(ctx context.Context, client channelFetcher, channels []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATUS\tCHATROOM\tVIEWERS\tTITLE")

	var failed []error
	for _, slug := range channels {
		ch, err := client.GetChannel(ctx, slug)
		if err != nil {
			fmt.Fprintf(tw, "%s\terror\t-\t-\t%v\n", slug, err)
			failed = append(failed, err)
			continue
		}

		chatroom := "-"
		if id, ok := ch.ChatroomID(); ok {
			chatroom = fmt.Sprintf("%d", id)
		}
		if !ch.IsLive() {
			fmt.Fprintf(tw, "%s\toffline\t%s\t-\t-\n", slug, chatroom)
			continue
		}
		fmt.Fprintf(tw, "%s\tlive\t%s\t%d\t%s\n", slug, chatroom, ch.Livestream.ViewerCount, ch.Livestream.SessionTitle)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d channels could not be fetched: %w", len(failed), len(channels), errors.Join(failed...))
	}
	return nil
}
