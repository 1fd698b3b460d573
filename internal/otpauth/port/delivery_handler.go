package port

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/aelexs/otp-auth/internal/domain"
)

type deliveryStatusRequest struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
	Status    string `json:"status" validate:"required,max=32,printascii"`
	ErrorCode string `json:"errorCode" validate:"max=32"`
}

// DeliveryStatus ingests a provider delivery report. It accepts JSON
// {messageId, status, errorCode} or the provider's form fields MessageSid,
// MessageStatus and ErrorCode. Statuses the service does not name are stored
// as reported.
func (h *AuthHandler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeDeliveryStatus(w, r)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	update := domain.DeliveryUpdate{
		MessageID: req.MessageID,
		Status:    domain.ParseDeliveryStatus(req.Status),
		ErrorCode: req.ErrorCode,
	}
	if err := h.svc.IngestDeliveryStatus(r.Context(), update); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeData(w, map[string]string{"messageId": req.MessageID})
}

func (h *AuthHandler) decodeDeliveryStatus(w http.ResponseWriter, r *http.Request) (*deliveryStatusRequest, error) {
	var req deliveryStatusRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		if err := h.validator.decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: malformed form body", domain.ErrInvalidInput)
	}
	req = deliveryStatusRequest{
		MessageID: r.PostForm.Get("MessageSid"),
		Status:    r.PostForm.Get("MessageStatus"),
		ErrorCode: r.PostForm.Get("ErrorCode"),
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
