package model

import "time"

type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeDocument ContentType = "document"
)

// MaxTextLen — максимальная длина текста сообщения (и отложенного сообщения).
const MaxTextLen = 1000

// DeletedText — надгробие: фиксированный текст, которым заменяется содержимое
// при удалении для всех. Виден всем участникам без персональной фильтрации.
const DeletedText = "This message was deleted"

// Message belongs to exactly one conversation. Payload (FileURL+FileName) and
// text are governed by ContentType: text messages carry Text, the rest carry a
// blob URL. For direct chats Seen is a single flag, for groups SeenBy is a set.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Text           string      `json:"text,omitempty"`
	ContentType    ContentType `json:"content_type"`
	FileURL        string      `json:"file_url,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Seen           bool        `json:"seen"`
	SeenBy         []string    `json:"seen_by,omitempty"`
	DeletedFor     []string    `json:"deleted_for,omitempty"`
	IsDeleted      bool        `json:"is_deleted"`

	Sender *UserPublic `json:"sender,omitempty"`
}

// VisibleTo reports whether the viewer sees this message. A tombstoned message
// is visible to everyone regardless of per-viewer deletes; otherwise the
// message is hidden only for viewers present in DeletedFor.
func (m *Message) VisibleTo(viewerID string) bool {
	if m.IsDeleted {
		return true
	}
	for _, id := range m.DeletedFor {
		if id == viewerID {
			return false
		}
	}
	return true
}

// Tombstone converts the message in place: fixed text, is_deleted, both
// delete-tracking sets cleared. Clearing the sets is deliberate — the
// tombstone overrides earlier per-viewer deletes (see repository docs).
func (m *Message) Tombstone() {
	m.Text = DeletedText
	m.ContentType = ContentTypeText
	m.FileURL = ""
	m.FileName = ""
	m.IsDeleted = true
	m.DeletedFor = nil
	m.SeenBy = nil
}

// Summary возвращает текст для денормализованной сводки чата:
// для вложений — имя типа вместо содержимого.
func (m *Message) Summary() string {
	switch m.ContentType {
	case ContentTypeImage:
		return "Image"
	case ContentTypeVideo:
		return "Video"
	case ContentTypeDocument:
		return "Document"
	default:
		return m.Text
	}
}
