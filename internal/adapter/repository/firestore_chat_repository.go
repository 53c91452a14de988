package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	messagesCollection      = "messages"
	conversationsCollection = "conversations"
	countersCollection      = "counters"
)

// conversationDoc is the per-pair summary kept next to the messages so the
// conversation list is one query instead of a scan.
type conversationDoc struct {
	BuyerID         int64     `firestore:"buyerId"`
	SellerID        int64     `firestore:"sellerId"`
	ProductID       int64     `firestore:"productId"`
	ProductName     string    `firestore:"productName"`
	BuyerName       string    `firestore:"buyerName"`
	SellerName      string    `firestore:"sellerName"`
	LastMessage     string    `firestore:"lastMessage"`
	LastMessageID   int64     `firestore:"lastMessageId"`
	LastMessageTime time.Time `firestore:"lastMessageTime"`
	UnreadBuyer     int       `firestore:"unreadBuyer"`
	UnreadSeller    int       `firestore:"unreadSeller"`
}

func (d *conversationDoc) toEntity(viewer entity.Role) *entity.Conversation {
	lastTime := d.LastMessageTime
	conv := &entity.Conversation{
		BuyerID:         d.BuyerID,
		SellerID:        d.SellerID,
		ProductID:       d.ProductID,
		ProductName:     d.ProductName,
		BuyerName:       d.BuyerName,
		SellerName:      d.SellerName,
		LastMessage:     d.LastMessage,
		LastMessageTime: &lastTime,
	}
	if viewer == entity.RoleBuyer {
		conv.UnreadCount = d.UnreadBuyer
	} else {
		conv.UnreadCount = d.UnreadSeller
	}
	return conv
}

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func conversationDocID(key entity.ConversationKey) string {
	return fmt.Sprintf("%d_%d", key.BuyerID, key.SellerID)
}

func (r *firestoreChatRepository) messageRef(id int64) *firestore.DocumentRef {
	return r.client.Collection(messagesCollection).Doc(strconv.FormatInt(id, 10))
}

func (r *firestoreChatRepository) conversationRef(key entity.ConversationKey) *firestore.DocumentRef {
	return r.client.Collection(conversationsCollection).Doc(conversationDocID(key))
}

func (r *firestoreChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	counterRef := r.client.Collection(countersCollection).Doc(messagesCollection)
	convRef := r.conversationRef(message.Key())

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		next := int64(1)
		counterDoc, err := tx.Get(counterRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			if value, err := counterDoc.DataAt("next"); err == nil {
				if current, ok := value.(int64); ok {
					next = current + 1
				}
			}
		}

		conv := conversationDoc{BuyerID: message.BuyerID, SellerID: message.SellerID}
		convDoc, err := tx.Get(convRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			if err := convDoc.DataTo(&conv); err != nil {
				return err
			}
		}

		message.ID = next
		conv.LastMessage = message.Text
		conv.LastMessageID = next
		conv.LastMessageTime = message.CreatedAt
		if message.ProductID > 0 {
			conv.ProductID = message.ProductID
			conv.ProductName = message.ProductName
		}
		if message.Sender == entity.RoleBuyer {
			conv.UnreadSeller++
			if message.SenderName != "" {
				conv.BuyerName = message.SenderName
			}
		} else {
			conv.UnreadBuyer++
			if message.SenderName != "" {
				conv.SellerName = message.SenderName
			}
		}

		if err := tx.Set(counterRef, map[string]interface{}{"next": next}); err != nil {
			return err
		}
		if err := tx.Set(r.messageRef(next), message); err != nil {
			return err
		}
		return tx.Set(convRef, conv)
	})
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *firestoreChatRepository) GetMessageByID(ctx context.Context, id int64) (*entity.Message, error) {
	doc, err := r.messageRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Internal("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}

func (r *firestoreChatRepository) DeleteMessage(ctx context.Context, id int64) error {
	message, err := r.GetMessageByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.messageRef(id).Delete(ctx); err != nil {
		return errors.Internal("Failed to delete message", err)
	}

	if !message.Read {
		field := "unreadSeller"
		if message.Sender == entity.RoleSeller {
			field = "unreadBuyer"
		}
		_, err := r.conversationRef(message.Key()).Update(ctx, []firestore.Update{
			{Path: field, Value: firestore.Increment(-1)},
		})
		if err != nil {
			logger.Warn("DeleteMessage: failed to adjust unread count for %s: %v", message.Key(), err)
		}
	}

	return nil
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, key entity.ConversationKey, beforeID int64, limit int) ([]*entity.Message, error) {
	query := r.client.Collection(messagesCollection).
		Where("buyerId", "==", key.BuyerID).
		Where("sellerId", "==", key.SellerID)
	if beforeID > 0 {
		query = query.Where("id", "<", beforeID)
	}
	query = query.OrderBy("id", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for %s: %v", key, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Error("Error parsing message data for %s: %v", key, err)
			return nil, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *firestoreChatRepository) MarkRead(ctx context.Context, key entity.ConversationKey, reader entity.Role) (int, error) {
	docs, err := r.client.Collection(messagesCollection).
		Where("buyerId", "==", key.BuyerID).
		Where("sellerId", "==", key.SellerID).
		Where("sender", "==", string(reader.Other())).
		Where("read", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to query unread messages", err)
	}

	counterField := "unreadSeller"
	if reader == entity.RoleBuyer {
		counterField = "unreadBuyer"
	}

	bw := r.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Update(doc.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
			bw.End()
			return 0, errors.Internal("Failed to queue read update", err)
		}
	}
	if _, err := bw.Update(r.conversationRef(key), []firestore.Update{{Path: counterField, Value: 0}}); err != nil {
		bw.End()
		return 0, errors.Internal("Failed to queue unread reset", err)
	}
	bw.End()

	return len(docs), nil
}

func (r *firestoreChatRepository) ListConversations(ctx context.Context, viewerID int64, role entity.Role) ([]*entity.Conversation, error) {
	field := "sellerId"
	if role == entity.RoleBuyer {
		field = "buyerId"
	}

	docs, err := r.client.Collection(conversationsCollection).Where(field, "==", viewerID).Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for %s %d: %v", role, viewerID, err)
		return nil, errors.Internal("Failed to fetch conversations", err)
	}

	conversations := make([]*entity.Conversation, 0, len(docs))
	lastIDs := make(map[entity.ConversationKey]int64, len(docs))
	for _, doc := range docs {
		var summary conversationDoc
		if err := doc.DataTo(&summary); err != nil {
			logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		conv := summary.toEntity(role)
		lastIDs[conv.Key()] = summary.LastMessageID
		conversations = append(conversations, conv)
	}

	// Sorted here: there is no composite index on (field, lastMessageId).
	sort.Slice(conversations, func(i, j int) bool {
		return lastIDs[conversations[i].Key()] > lastIDs[conversations[j].Key()]
	})
	return conversations, nil
}
