// Package store holds the client's derived, in-memory session state: the
// open conversation transcript, the presence set, the unseen badge counts
// and the contact directory. Nothing here is persisted; everything is
// rebuilt from the backend on the next login.
package store

import "time"

// Contact is a directory entry. The JSON tags follow the backend's wire
// shape (Mongo-style "_id").
type Contact struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic,omitempty"`
	Bio        string `json:"bio,omitempty"`
}

// Message is a chat message. The server-assigned ID is the identity used
// for de-duplication; at least one of Text/Image is non-empty.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InConversation reports whether the message belongs to the conversation
// between userID and contactID, i.e. the unordered pair of its sender and
// receiver equals {userID, contactID}.
func (m *Message) InConversation(userID, contactID string) bool {
	return (m.SenderID == contactID && m.ReceiverID == userID) ||
		(m.SenderID == userID && m.ReceiverID == contactID)
}
