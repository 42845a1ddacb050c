package handler

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/store"
)

type attachmentRequest struct {
	AttachmentID int64 `json:"attachment_id"`
}

func (r *attachmentRequest) valid() bool { return r.AttachmentID > 0 }

type uploadRequest struct {
	File     string               `json:"file"`
	Filename string               `json:"filename"`
	Type     model.AttachmentType `json:"type"`
}

func (r *uploadRequest) valid() bool { return r.File != "" && r.Filename != "" }

func (h *Handler) getAttachmentFile(ctx context.Context, _ server.Conn, req protocol.Request) (response, error) {
	var data attachmentRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	if _, err := h.store.Attachment(ctx, data.AttachmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fail("Invalid attachment id")
		}
		return nil, dbError("attachment", err)
	}

	body, err := h.blobs.Get(ctx, data.AttachmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("Invalid attachment id")
	}
	if err != nil {
		return nil, dbError("get blob", err)
	}

	file, err := protocol.EncodeFile(body)
	if err != nil {
		return nil, err
	}
	return success(response{"file": file}), nil
}

func (h *Handler) uploadAttachment(ctx context.Context, _ server.Conn, req protocol.Request) (response, error) {
	var data uploadRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	body, err := protocol.DecodeFile(data.File, model.MaxAttachmentSize)
	if err != nil {
		return nil, invalidData("%s: %v", req.Type, err)
	}

	// Validated before deduplication so a bad upload never succeeds
	attachment, err := h.newAttachment(data, body)
	if err != nil {
		return nil, fail("Could not upload attachment: %v", err)
	}

	sum := md5.Sum(body)
	hash := hex.EncodeToString(sum[:])

	existing, err := h.store.AttachmentByHash(ctx, hash)
	if err == nil {
		return success(response{"attachment": existing}), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, dbError("attachment by hash", err)
	}

	if err := h.blobs.Put(ctx, attachment.ID, body); err != nil {
		return nil, dbError("put blob", err)
	}
	if err := h.store.SaveAttachment(ctx, attachment, hash); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, dbError("save attachment", err)
		}
		// Same body uploaded concurrently
		if attachment, err = h.store.AttachmentByHash(ctx, hash); err != nil {
			return nil, dbError("attachment by hash", err)
		}
	}

	h.log.Debug().
		Int64("attachment_id", attachment.ID).
		Str("filename", attachment.Filename).
		Int64("size", attachment.Size).
		Msg("attachment uploaded")

	return success(response{"attachment": attachment}), nil
}

func (h *Handler) newAttachment(data uploadRequest, body []byte) (model.Attachment, error) {
	var width, height int
	switch data.Type {
	case model.AttachmentImage:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
		if err != nil {
			return model.Attachment{}, fmt.Errorf("not a supported image: %w", err)
		}
		width, height = cfg.Width, cfg.Height
	case model.AttachmentOther:
	default:
		return model.Attachment{}, fmt.Errorf("unknown attachment type %d", data.Type)
	}
	return model.NewAttachment(h.ids.Next(), data.Filename, data.Type, width, height, int64(len(body)))
}
