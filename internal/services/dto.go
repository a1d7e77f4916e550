package services

import (
	"time"

	"creator-dm-backend/internal/crypto"
	"creator-dm-backend/internal/models"
)

// MessageDTO is the viewer-facing serialization of a message: content is
// decrypted server-side and key material is stripped. This shape is shared
// by the REST list path and the realtime channel.
type MessageDTO struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderType     string     `json:"sender_type"`
	MessageType    string     `json:"message_type"`
	Content        string     `json:"content,omitempty"`
	BlobID         *string    `json:"blob_id,omitempty"`
	MimeType       *string    `json:"mime_type,omitempty"`
	SizeBytes      *int64     `json:"size_bytes,omitempty"`
	IsPPV          bool       `json:"is_ppv"`
	PPVPrice       *int64     `json:"ppv_price,omitempty"`
	PPVPreview     *string    `json:"ppv_preview,omitempty"`
	Locked         bool       `json:"locked,omitempty"`
	IsTip          bool       `json:"is_tip"`
	TipAmount      *int64     `json:"tip_amount,omitempty"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	AutoDestructAt *time.Time `json:"auto_destruct_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// messageDTO shapes a message for one viewer. unlocked is true when the
// viewer is the sender or holds a paid unlock; a locked PPV message keeps
// only its preview, with body and blob reference withheld.
func messageDTO(env *crypto.Envelope, msg *models.Message, unlocked bool) *MessageDTO {
	dto := &MessageDTO{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     string(msg.SenderType),
		MessageType:    string(msg.Type),
		IsPPV:          msg.IsPPV,
		PPVPrice:       msg.PPVPrice,
		PPVPreview:     msg.PPVPreview,
		IsTip:          msg.IsTip,
		TipAmount:      msg.TipAmount,
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		AutoDestructAt: msg.AutoDestructAt,
		CreatedAt:      msg.CreatedAt,
	}

	if msg.IsPPV && !unlocked {
		dto.Locked = true
		return dto
	}

	if msg.Type.HasBody() && msg.Content != "" {
		dto.Content = env.Open(msg.Content)
	}
	dto.BlobID = msg.BlobID
	dto.MimeType = msg.MimeType
	dto.SizeBytes = msg.SizeBytes
	return dto
}
