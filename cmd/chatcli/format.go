package main

import (
	"fmt"
	"strings"

	"marketchat/internal/domain/entity"
)

const timeLayout = "2006-01-02 15:04"

func formatConversation(viewer entity.Viewer, conv entity.Conversation) string {
	counterpart, name := conv.SellerID, conv.SellerName
	if viewer.Role == entity.RoleSeller {
		counterpart, name = conv.BuyerID, conv.BuyerName
	}
	if name == "" {
		name = fmt.Sprintf("#%d", counterpart)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-6d %s", counterpart, name)
	if conv.ProductName != "" {
		fmt.Fprintf(&b, " [%s]", conv.ProductName)
	}
	if conv.IsPending() {
		b.WriteString(" (new)")
	} else {
		fmt.Fprintf(&b, " %s %q", conv.LastMessageTime.Local().Format(timeLayout), conv.LastMessage)
	}
	if conv.UnreadCount > 0 {
		fmt.Fprintf(&b, " (%d unread)", conv.UnreadCount)
	}
	return b.String()
}

func formatMessage(viewer entity.Viewer, msg entity.Message) string {
	who := string(msg.Sender)
	if msg.Sender == viewer.Role {
		who = "you"
	}
	id := fmt.Sprintf("%d", msg.ID)
	if msg.IsTemporary() {
		id = "..."
	}
	text := msg.Text
	if msg.Kind == entity.KindProduct {
		text = "[product] " + strings.ReplaceAll(text, "\n", " | ")
	}
	return fmt.Sprintf("%s %6s %-6s %s", msg.CreatedAt.Local().Format(timeLayout), id, who, text)
}
