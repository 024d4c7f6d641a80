package messagestore

import (
	"time"

	"chat-relay/internal/message"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// document messages 集合中的文件格式.
type document struct {
	ID                 bson.ObjectID `bson:"_id"`
	SenderID           string        `bson:"sender_id"`
	ReceiverID         string        `bson:"receiver_id"`
	Content            string        `bson:"content"`
	AttachmentRef      string        `bson:"attachment_ref,omitempty"`
	CreatedAt          time.Time     `bson:"created_at"`
	Seen               bool          `bson:"seen"`
	DeletedForEveryone bool          `bson:"deleted_for_everyone"`
	DeletedFor         []string      `bson:"deleted_for"`
}

func (d *document) toMessage(content string) *message.Message {
	deletedFor := d.DeletedFor
	if deletedFor == nil {
		deletedFor = []string{}
	}
	return &message.Message{
		ID:                 d.ID.Hex(),
		SenderID:           d.SenderID,
		ReceiverID:         d.ReceiverID,
		Content:            content,
		AttachmentRef:      d.AttachmentRef,
		CreatedAt:          d.CreatedAt.UTC(),
		Seen:               d.Seen,
		DeletedForEveryone: d.DeletedForEveryone,
		DeletedFor:         deletedFor,
	}
}
