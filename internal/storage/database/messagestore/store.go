// Package messagestore 以 MongoDB 實作訊息存儲.
package messagestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"chat-relay/internal/message"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName 訊息集合名稱.
const CollectionName = "messages"

// ContentSealer 對話內容的加解密.
type ContentSealer interface {
	Seal(content, userA, userB string) (string, error)
	Open(stored, userA, userB string) (string, error)
}

// Store MongoDB 訊息存儲.
//
// 每個狀態變更都是單一條件式 FindOneAndUpdate，授權條件寫在 filter 裡，
// 同一訊息上的並發變更由 MongoDB 的文件級原子性串行化。
type Store struct {
	collection *mongo.Collection
	sealer     ContentSealer
	now        func() time.Time
}

// Option 存儲選項.
type Option func(*Store)

// WithSealer 啟用內容加密.
func WithSealer(sealer ContentSealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// WithClock 注入時鐘.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 創建 MongoDB 訊息存儲.
func NewStore(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		collection: db.Collection(CollectionName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection 底層集合.
func (s *Store) Collection() *mongo.Collection {
	return s.collection
}

// Create 建立訊息.
func (s *Store) Create(ctx context.Context, d message.Draft) (*message.Message, error) {
	d, err := d.Normalize()
	if err != nil {
		return nil, err
	}

	stored, err := s.seal(d.Content, d.SenderID, d.ReceiverID)
	if err != nil {
		return nil, err
	}

	doc := document{
		ID:            bson.NewObjectID(),
		SenderID:      d.SenderID,
		ReceiverID:    d.ReceiverID,
		Content:       stored,
		AttachmentRef: d.AttachmentRef,
		// BSON 時間只保存到毫秒
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
		DeletedFor: []string{},
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return doc.toMessage(d.Content), nil
}

// Conversation 依 created_at、_id 遞增回傳 viewer 可見的訊息.
func (s *Store) Conversation(ctx context.Context, viewerID, peerID string) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		filter := pairFilter(viewerID, peerID)
		filter["deleted_for"] = bson.M{"$ne": viewerID}
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

		cursor, err := s.collection.Find(ctx, filter, opts)
		if err != nil {
			yield(nil, fmt.Errorf("find conversation: %w", err))
			return
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var doc document
			if err := cursor.Decode(&doc); err != nil {
				yield(nil, fmt.Errorf("decode message: %w", err))
				return
			}
			m, err := s.open(&doc)
			if !yield(m, err) || err != nil {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate conversation: %w", err))
		}
	}
}

// ConversationPage 在查詢端反向排序並限制筆數，回傳前再轉回遞增.
func (s *Store) ConversationPage(ctx context.Context, viewerID, peerID string, p message.Page) ([]*message.Message, error) {
	filter := pairFilter(viewerID, peerID)
	filter["deleted_for"] = bson.M{"$ne": viewerID}

	if p.Before != "" {
		oid, err := bson.ObjectIDFromHex(p.Before)
		if err != nil {
			return nil, &message.NotFoundError{MessageID: p.Before}
		}
		cursorFilter := pairFilter(viewerID, peerID)
		cursorFilter["_id"] = oid
		var anchor document
		err = s.collection.FindOne(ctx, cursorFilter,
			options.FindOne().SetProjection(bson.M{"created_at": 1})).Decode(&anchor)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &message.NotFoundError{MessageID: p.Before}
		}
		if err != nil {
			return nil, fmt.Errorf("find page cursor: %w", err)
		}
		filter["$and"] = bson.A{bson.M{"$or": bson.A{
			bson.M{"created_at": bson.M{"$lt": anchor.CreatedAt}},
			bson.M{"created_at": anchor.CreatedAt, "_id": bson.M{"$lt": oid}},
		}}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(p.Limit))
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversation page: %w", err)
	}
	defer cursor.Close(ctx)

	var page []*message.Message
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		m, err := s.open(&doc)
		if err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation page: %w", err)
	}
	slices.Reverse(page)
	return page, nil
}

func pairFilter(a, b string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	}}
}

// MarkSeen 僅接收者可標記已讀.
func (s *Store) MarkSeen(ctx context.Context, id, actorID string) (*message.Message, error) {
	return s.update(ctx, id, actorID, "mark_seen",
		bson.M{"receiver_id": actorID},
		bson.M{"$set": bson.M{"seen": true}},
	)
}

// DeleteForMe 參與者對自己隱藏訊息.
func (s *Store) DeleteForMe(ctx context.Context, id, actorID string) error {
	_, err := s.update(ctx, id, actorID, "delete_for_me",
		bson.M{"$or": bson.A{bson.M{"sender_id": actorID}, bson.M{"receiver_id": actorID}}},
		bson.M{"$addToSet": bson.M{"deleted_for": actorID}},
	)
	return err
}

// DeleteForEveryone 僅發送者可轉為墓碑.
func (s *Store) DeleteForEveryone(ctx context.Context, id, actorID string) (*message.Message, error) {
	return s.update(ctx, id, actorID, "delete_for_everyone",
		bson.M{"sender_id": actorID},
		bson.M{"$set": bson.M{
			"deleted_for_everyone": true,
			"content":              "",
			"attachment_ref":       "",
		}},
	)
}

// update 以授權條件執行原子更新；未命中時再查一次區分不存在與無權限.
func (s *Store) update(ctx context.Context, id, actorID, action string, guard, change bson.M) (*message.Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, &message.NotFoundError{MessageID: id}
	}

	filter := bson.M{"_id": oid}
	for k, v := range guard {
		filter[k] = v
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc document
	err = s.collection.FindOneAndUpdate(ctx, filter, change, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.classifyMiss(ctx, oid, id, actorID, action)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return s.open(&doc)
}

func (s *Store) classifyMiss(ctx context.Context, oid bson.ObjectID, id, actorID, action string) error {
	err := s.collection.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return &message.NotFoundError{MessageID: id}
	case err != nil:
		return fmt.Errorf("%s: %w", action, err)
	default:
		return &message.ForbiddenError{MessageID: id, UserID: actorID, Action: action}
	}
}

func (s *Store) seal(content, a, b string) (string, error) {
	if s.sealer == nil || content == "" {
		return content, nil
	}
	stored, err := s.sealer.Seal(content, a, b)
	if err != nil {
		return "", fmt.Errorf("seal content: %w", err)
	}
	return stored, nil
}

func (s *Store) open(doc *document) (*message.Message, error) {
	content := doc.Content
	if s.sealer != nil && content != "" {
		plain, err := s.sealer.Open(content, doc.SenderID, doc.ReceiverID)
		if err != nil {
			return nil, fmt.Errorf("open content of %s: %w", doc.ID.Hex(), err)
		}
		content = plain
	}
	return doc.toMessage(content), nil
}
