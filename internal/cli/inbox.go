package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ankittk/agentorch/pkg/client"
	"github.com/ankittk/agentorch/pkg/models"
	"github.com/spf13/cobra"
)

func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Send and read messages between runs and groups",
	}
	cmd.AddCommand(newInboxCheckCmd())
	cmd.AddCommand(newInboxSendCmd())
	cmd.AddCommand(newInboxBroadcastCmd())
	cmd.AddCommand(newInboxReadCmd())
	cmd.AddCommand(newInboxAckCmd())
	cmd.AddCommand(newInboxReplyCmd())
	return cmd
}

// currentRunID is the run a worker's own agentorch invocation acts as.
func currentRunID(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("AGENTORCH_RUN_ID")
}

func newInboxCheckCmd() *cobra.Command {
	var (
		bf     backendFlags
		opts              client.InboxOptions
		includeBroadcasts bool
		asJSON            bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "List messages for a run and/or group, oldest first",
		Long: `List messages for a run and/or group, oldest first. Messages are not
consumed; use "inbox read" to mark them. With neither --run nor --group,
group messages and broadcasts are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			opts.ExcludeBroadcasts = !includeBroadcasts
			msgs, err := b.CheckInbox(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, msgs)
			}
			if len(msgs) == 0 {
				_, _ = fmt.Fprintln(out, "No messages")
				return nil
			}
			for _, m := range msgs {
				printMessage(out, m)
			}
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&opts.RunID, "run", "", "Recipient run id")
	cmd.Flags().StringVar(&opts.Group, "group", "", "Recipient group")
	cmd.Flags().BoolVar(&includeBroadcasts, "include-broadcasts", true, "Include broadcasts")
	cmd.Flags().BoolVar(&opts.IncludeRead, "all", false, "Include read and acknowledged messages")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Max messages, oldest first (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printMessage(out io.Writer, m models.Message) {
	from := "coordinator"
	if m.FromRunID != nil {
		from = *m.FromRunID
	}
	to := "everyone"
	switch {
	case m.ToRunID != nil:
		to = "run " + *m.ToRunID
	case m.ToGroup != nil:
		to = "group " + *m.ToGroup
	}
	_, _ = fmt.Fprintf(out, "%s  [%s/%s/%s] %s -> %s  %s\n", m.MessageID, m.MessageType, m.Priority, m.Status, from, to, m.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if m.Subject != "" {
		_, _ = fmt.Fprintf(out, "  Subject: %s\n", m.Subject)
	}
	for _, line := range strings.Split(strings.TrimRight(m.Body, "\n"), "\n") {
		_, _ = fmt.Fprintf(out, "  %s\n", line)
	}
}

func newInboxSendCmd() *cobra.Command {
	var (
		bf  backendFlags
		req models.SendMessageRequest
	)
	cmd := &cobra.Command{
		Use:   "send <body...>",
		Short: "Send a message to a run (--to-run) or a group (--to-group)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.ToRunID == "" && req.ToGroup == "" {
				return errors.New("--to-run or --to-group is required (use broadcast to message everyone)")
			}
			req.Body = strings.Join(args, " ")
			req.FromRunID = currentRunID(req.FromRunID)
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			id, err := b.SendMessage(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&req.ToRunID, "to-run", "", "Recipient run id")
	cmd.Flags().StringVar(&req.ToGroup, "to-group", "", "Recipient group")
	cmd.Flags().StringVar(&req.FromRunID, "from-run", "", "Sender run id (default: AGENTORCH_RUN_ID)")
	cmd.Flags().StringVar(&req.MessageType, "type", models.TypeNotification, "notification, status_update, question, broadcast or task_request")
	cmd.Flags().StringVar(&req.Priority, "priority", models.PriorityNormal, "urgent, normal or low")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject line")
	return cmd
}

func newInboxBroadcastCmd() *cobra.Command {
	var (
		bf  backendFlags
		req models.SendMessageRequest
	)
	cmd := &cobra.Command{
		Use:   "broadcast <body...>",
		Short: "Send a message every reader sees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Body = strings.Join(args, " ")
			req.MessageType = models.TypeBroadcast
			req.FromRunID = currentRunID(req.FromRunID)
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			id, err := b.SendMessage(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&req.FromRunID, "from-run", "", "Sender run id (default: AGENTORCH_RUN_ID)")
	cmd.Flags().StringVar(&req.Priority, "priority", models.PriorityNormal, "urgent, normal or low")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject line")
	return cmd
}

func newInboxReadCmd() *cobra.Command {
	var bf backendFlags
	cmd := &cobra.Command{
		Use:   "read <message-id...>",
		Short: "Mark messages read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			for _, id := range args {
				if err := b.MarkRead(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	bf.register(cmd)
	return cmd
}

func newInboxAckCmd() *cobra.Command {
	var bf backendFlags
	cmd := &cobra.Command{
		Use:   "ack <message-id...>",
		Short: "Mark messages acknowledged",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			for _, id := range args {
				if err := b.Acknowledge(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	bf.register(cmd)
	return cmd
}

func newInboxReplyCmd() *cobra.Command {
	var (
		bf      backendFlags
		fromRun string
	)
	cmd := &cobra.Command{
		Use:   "reply <message-id> <body...>",
		Short: "Reply to a message; the reply goes to the run that sent it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			id, err := b.Reply(cmd.Context(), args[0], currentRunID(fromRun), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&fromRun, "from-run", "", "Sender run id (default: AGENTORCH_RUN_ID)")
	return cmd
}
