package protocol

import (
	"time"
)

// Message is any dialog message the codec can carry
type Message interface {
	// Type returns the message type written to the header
	Type() uint16
	// Encode encodes the message body
	Encode() []byte
	// Decode decodes the message body
	Decode(buf []byte) error
}

// newMessage returns an empty message for a header type
func newMessage(msgType uint16) Message {
	switch msgType {
	case MsgTypeServiceRequest:
		return &ServiceRequest{}
	case MsgTypeServiceResponse:
		return &ServiceResponse{}
	case MsgTypeDataSubscriptionRequest:
		return &DataSubscriptionRequest{}
	case MsgTypeDataSubscriptionCancel:
		return &DataSubscriptionCancel{}
	case MsgTypeDataSubscriptionResponse:
		return &DataSubscriptionResponse{}
	}
	return nil
}

// ===== SERVICE REQUEST =====

// ServiceRequest opens a trust establishment exchange
type ServiceRequest struct {
	DialogID  DialogID
	SeqID     SequenceID
	GroupID   GroupID
	RequestID TemporaryID
	ReplyTo   *ConnectionPoint // Optional: where the response should be sent
}

// NewServiceRequest builds a service request for a dialog
func NewServiceRequest(dialogID DialogID, groupID GroupID, requestID TemporaryID, replyTo *ConnectionPoint) *ServiceRequest {
	return &ServiceRequest{
		DialogID:  dialogID,
		SeqID:     SeqServiceRequest,
		GroupID:   groupID,
		RequestID: requestID,
		ReplyTo:   replyTo,
	}
}

func (m *ServiceRequest) Type() uint16 { return MsgTypeServiceRequest }

// Encode encodes service request to bytes
func (m *ServiceRequest) Encode() []byte {
	w := &writer{}
	w.u8(uint8(m.DialogID))
	w.u8(uint8(m.SeqID))
	w.u32(uint32(m.GroupID))
	w.u32(uint32(m.RequestID))
	w.bool(m.ReplyTo != nil)
	if m.ReplyTo != nil {
		m.ReplyTo.encode(w)
	}
	return w.buf
}

// Decode decodes service request from bytes
func (m *ServiceRequest) Decode(buf []byte) error {
	r := &reader{buf: buf}
	m.DialogID = DialogID(r.u8("dialog id"))
	m.SeqID = SequenceID(r.u8("sequence id"))
	m.GroupID = GroupID(r.u32("group id"))
	m.RequestID = TemporaryID(r.u32("request id"))
	m.ReplyTo = nil
	if r.bool("reply-to flag") {
		m.ReplyTo = &ConnectionPoint{}
		m.ReplyTo.decode(r)
	}
	return r.done()
}

// ===== SERVICE RESPONSE =====

// ServiceResponse answers a ServiceRequest. Hash is the digest of the
// encoded request the responder received.
type ServiceResponse struct {
	DialogID      DialogID
	SeqID         SequenceID
	GroupID       GroupID
	RequestID     TemporaryID
	Expiration    time.Time
	Hash          []byte
	ServiceRegion *GeoRegion
}

func (m *ServiceResponse) Type() uint16 { return MsgTypeServiceResponse }

// Expired reports whether the response expiration is at or before now
func (m *ServiceResponse) Expired(now time.Time) bool {
	return !m.Expiration.After(now)
}

// Encode encodes service response to bytes
func (m *ServiceResponse) Encode() []byte {
	w := &writer{}
	w.u8(uint8(m.DialogID))
	w.u8(uint8(m.SeqID))
	w.u32(uint32(m.GroupID))
	w.u32(uint32(m.RequestID))
	w.i64(m.Expiration.UnixMilli())
	w.bytes(m.Hash)
	w.bool(m.ServiceRegion != nil)
	if m.ServiceRegion != nil {
		m.ServiceRegion.encode(w)
	}
	return w.buf
}

// Decode decodes service response from bytes
func (m *ServiceResponse) Decode(buf []byte) error {
	r := &reader{buf: buf}
	m.DialogID = DialogID(r.u8("dialog id"))
	m.SeqID = SequenceID(r.u8("sequence id"))
	m.GroupID = GroupID(r.u32("group id"))
	m.RequestID = TemporaryID(r.u32("request id"))
	m.Expiration = time.UnixMilli(r.i64("expiration")).UTC()
	m.Hash = r.bytes("hash")
	m.ServiceRegion = nil
	if r.bool("service region flag") {
		m.ServiceRegion = &GeoRegion{}
		m.ServiceRegion.decode(r)
	}
	return r.done()
}

// ===== DATA SUBSCRIPTION =====

// DataSubscriptionRequest asks the distribution service for a new subscription
type DataSubscriptionRequest struct {
	DialogID      DialogID
	SeqID         SequenceID
	GroupID       GroupID
	RequestID     TemporaryID
	TypeMask      uint8      // Requested data categories, passed through as-is
	EndTime       time.Time  // Subscription end, minute precision
	ServiceRegion *GeoRegion // Optional
}

func (m *DataSubscriptionRequest) Type() uint16 { return MsgTypeDataSubscriptionRequest }

// Encode encodes subscription request to bytes
func (m *DataSubscriptionRequest) Encode() []byte {
	w := &writer{}
	w.u8(uint8(m.DialogID))
	w.u8(uint8(m.SeqID))
	w.u32(uint32(m.GroupID))
	w.u32(uint32(m.RequestID))
	w.u8(m.TypeMask)
	w.i64(m.EndTime.Unix())
	w.bool(m.ServiceRegion != nil)
	if m.ServiceRegion != nil {
		m.ServiceRegion.encode(w)
	}
	return w.buf
}

// Decode decodes subscription request from bytes
func (m *DataSubscriptionRequest) Decode(buf []byte) error {
	r := &reader{buf: buf}
	m.DialogID = DialogID(r.u8("dialog id"))
	m.SeqID = SequenceID(r.u8("sequence id"))
	m.GroupID = GroupID(r.u32("group id"))
	m.RequestID = TemporaryID(r.u32("request id"))
	m.TypeMask = r.u8("type mask")
	m.EndTime = time.Unix(r.i64("end time"), 0).UTC()
	m.ServiceRegion = nil
	if r.bool("service region flag") {
		m.ServiceRegion = &GeoRegion{}
		m.ServiceRegion.decode(r)
	}
	return r.done()
}

// DataSubscriptionCancel cancels a previously created subscription
type DataSubscriptionCancel struct {
	DialogID       DialogID
	SeqID          SequenceID
	GroupID        GroupID
	RequestID      TemporaryID
	SubscriptionID TemporaryID
}

func (m *DataSubscriptionCancel) Type() uint16 { return MsgTypeDataSubscriptionCancel }

// Encode encodes subscription cancel to bytes
func (m *DataSubscriptionCancel) Encode() []byte {
	w := &writer{}
	w.u8(uint8(m.DialogID))
	w.u8(uint8(m.SeqID))
	w.u32(uint32(m.GroupID))
	w.u32(uint32(m.RequestID))
	w.u32(uint32(m.SubscriptionID))
	return w.buf
}

// Decode decodes subscription cancel from bytes
func (m *DataSubscriptionCancel) Decode(buf []byte) error {
	r := &reader{buf: buf}
	m.DialogID = DialogID(r.u8("dialog id"))
	m.SeqID = SequenceID(r.u8("sequence id"))
	m.GroupID = GroupID(r.u32("group id"))
	m.RequestID = TemporaryID(r.u32("request id"))
	m.SubscriptionID = TemporaryID(r.u32("subscription id"))
	return r.done()
}

// DataSubscriptionResponse answers both create and cancel requests
type DataSubscriptionResponse struct {
	DialogID       DialogID
	SeqID          SequenceID
	GroupID        GroupID
	RequestID      TemporaryID
	SubscriptionID TemporaryID
	ErrorCode      *uint32 // Present only when the service rejected the request
}

func (m *DataSubscriptionResponse) Type() uint16 { return MsgTypeDataSubscriptionResponse }

// HasError reports whether the service returned an error code
func (m *DataSubscriptionResponse) HasError() bool {
	return m.ErrorCode != nil
}

// Encode encodes subscription response to bytes
func (m *DataSubscriptionResponse) Encode() []byte {
	w := &writer{}
	w.u8(uint8(m.DialogID))
	w.u8(uint8(m.SeqID))
	w.u32(uint32(m.GroupID))
	w.u32(uint32(m.RequestID))
	w.u32(uint32(m.SubscriptionID))
	w.bool(m.ErrorCode != nil)
	if m.ErrorCode != nil {
		w.u32(*m.ErrorCode)
	}
	return w.buf
}

// Decode decodes subscription response from bytes
func (m *DataSubscriptionResponse) Decode(buf []byte) error {
	r := &reader{buf: buf}
	m.DialogID = DialogID(r.u8("dialog id"))
	m.SeqID = SequenceID(r.u8("sequence id"))
	m.GroupID = GroupID(r.u32("group id"))
	m.RequestID = TemporaryID(r.u32("request id"))
	m.SubscriptionID = TemporaryID(r.u32("subscription id"))
	m.ErrorCode = nil
	if r.bool("error flag") {
		code := r.u32("error code")
		m.ErrorCode = &code
	}
	return r.done()
}
