package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marketchat/internal/chatsync"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/eventbus"
)

var (
	withID       int64
	sellerName   string
	productID    int64
	productName  string
	productDesc  string
	productImage string
	loadAll      bool
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the viewer's conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		noLive = true
		widget, _, err := startWidget(ctx)
		if err != nil {
			return err
		}
		defer widget.Shutdown()

		if err := widget.Open(ctx); err != nil {
			return err
		}
		viewer := widget.Viewer()
		for _, conv := range widget.Conversations() {
			fmt.Fprintln(cmd.OutOrStdout(), formatConversation(viewer, conv))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", widget.Store().TotalUnread())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the thread with a counterpart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		widget, _, err := startWidget(ctx)
		if err != nil {
			return err
		}
		defer widget.Shutdown()

		if err := openConversation(ctx, widget, nil); err != nil {
			return err
		}
		thread := widget.Thread()
		for loadAll && thread.HasMore() {
			added, err := widget.LoadOlder(ctx, chatsync.ScrollPosition{})
			if err != nil {
				return err
			}
			if added == 0 {
				break
			}
		}
		for _, msg := range thread.Messages() {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(widget.Viewer(), msg))
		}
		if thread.HasMore() {
			fmt.Fprintln(cmd.OutOrStdout(), "(older messages available, use --all)")
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a message, announcing the product first when it changed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		widget, conn, err := startWidget(ctx)
		if err != nil {
			return err
		}
		defer widget.Shutdown()

		unsubscribe := widget.Bus().Notifications.Subscribe(func(n eventbus.Notification) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%v)\n", n.Level, n.Text, n.Err)
		})
		defer unsubscribe()

		if err := openConversation(ctx, widget, productFromFlags()); err != nil {
			return err
		}
		waitConnected(conn, 2*time.Second)

		if err := widget.Send(ctx, strings.Join(args, " ")); err != nil {
			return err
		}
		if !waitSettled(widget.Thread(), 5*time.Second) {
			return fmt.Errorf("message was not confirmed by the backend")
		}
		for _, msg := range widget.Thread().Messages() {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(widget.Viewer(), msg))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of the viewer's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("message id must be an integer: %w", err)
		}

		ctx := cmd.Context()
		noLive = true
		widget, _, err := startWidget(ctx)
		if err != nil {
			return err
		}
		defer widget.Shutdown()

		if err := openConversation(ctx, widget, nil); err != nil {
			return err
		}
		if err := widget.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print live messages and unread counts until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		widget, _, err := startWidget(ctx)
		if err != nil {
			return err
		}
		defer widget.Shutdown()

		out := cmd.OutOrStdout()
		viewer := widget.Viewer()
		bus := widget.Bus()
		unsubs := []func(){
			bus.ConnectionChanged.Subscribe(func(connected bool) {
				fmt.Fprintf(out, "* live connection %s\n", map[bool]string{true: "up", false: "down"}[connected])
			}),
			bus.MessageReceived.Subscribe(func(msg *entity.Message) {
				if viewer.Participates(msg.Key()) {
					fmt.Fprintln(out, formatMessage(viewer, *msg))
				}
			}),
			bus.ConversationsChanged.Subscribe(func(conversations []entity.Conversation) {
				fmt.Fprintf(out, "* %d conversations, %d unread\n", len(conversations), widget.Store().TotalUnread())
			}),
		}
		defer func() {
			for _, unsubscribe := range unsubs {
				unsubscribe()
			}
		}()

		if withID > 0 {
			if err := openConversation(ctx, widget, nil); err != nil {
				return err
			}
		} else if err := widget.Open(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{historyCmd, sendCmd, deleteCmd} {
		cmd.Flags().Int64Var(&withID, "with", 0, "ID of the counterpart (the seller for buyers, the buyer for sellers)")
		cmd.MarkFlagRequired("with")
	}
	watchCmd.Flags().Int64Var(&withID, "with", 0, "Also select the conversation with this counterpart")

	historyCmd.Flags().BoolVar(&loadAll, "all", false, "Page through the whole history")

	sendCmd.Flags().StringVar(&sellerName, "seller-name", "", "Seller display name for a new conversation")
	sendCmd.Flags().Int64Var(&productID, "product-id", 0, "Product the message is about")
	sendCmd.Flags().StringVar(&productName, "product-name", "", "Product name")
	sendCmd.Flags().StringVar(&productDesc, "product-desc", "", "Product description")
	sendCmd.Flags().StringVar(&productImage, "product-image", "", "Product image URL")
}

// openConversation selects the thread with --with. Buyers may start a new
// conversation; sellers can only answer existing ones.
func openConversation(ctx context.Context, widget *chatsync.Widget, product *entity.ProductContext) error {
	viewer := widget.Viewer()
	if viewer.Role == entity.RoleBuyer {
		return widget.StartWithSeller(ctx, withID, sellerName, product)
	}
	if err := widget.Select(ctx, viewer.KeyWith(withID)); err != nil {
		return err
	}
	if product != nil {
		widget.Thread().SetProduct(product)
	}
	return nil
}

func productFromFlags() *entity.ProductContext {
	if productID <= 0 {
		return nil
	}
	return &entity.ProductContext{
		ID:          productID,
		Name:        productName,
		Description: productDesc,
		ImageURL:    productImage,
	}
}

// waitSettled waits until no optimistic message is left in the thread.
func waitSettled(thread *chatsync.Thread, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		settled := true
		for _, msg := range thread.Messages() {
			if msg.IsTemporary() {
				settled = false
				break
			}
		}
		if settled {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
