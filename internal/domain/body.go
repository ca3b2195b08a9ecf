package domain

import (
	"encoding/json"
	"fmt"
)

// MailBody is the type-tagged structured payload of a mail message. The
// concrete type is selected by the message's MailType; DecodeBody enforces
// the pairing when reading from storage or the wire.
type MailBody interface {
	isMailBody()
}

// AssignmentBody carries work instructions for an assignment message.
type AssignmentBody struct {
	Instructions string `json:"instructions"`
}

// StatusUpdateBody carries a free-text progress report.
type StatusUpdateBody struct {
	Message string `json:"message"`
}

// QueryBody carries a question needing an answer.
type QueryBody struct {
	Question string `json:"question"`
}

// ResponseBody carries the answer to a query.
type ResponseBody struct {
	Answer string `json:"answer"`
}

// DirectiveBody carries an instruction the recipient must act on.
type DirectiveBody struct {
	Details string `json:"details"`
}

// NotificationBody carries an informational message needing no reply.
type NotificationBody struct {
	Message string `json:"message"`
}

func (AssignmentBody) isMailBody()   {}
func (StatusUpdateBody) isMailBody() {}
func (QueryBody) isMailBody()        {}
func (ResponseBody) isMailBody()     {}
func (DirectiveBody) isMailBody()    {}
func (NotificationBody) isMailBody() {}

// BodyType returns the mail type a body belongs to.
func BodyType(b MailBody) MailType {
	switch b.(type) {
	case AssignmentBody:
		return MailAssignment
	case StatusUpdateBody:
		return MailStatusUpdate
	case QueryBody:
		return MailQuery
	case ResponseBody:
		return MailResponse
	case DirectiveBody:
		return MailDirective
	case NotificationBody:
		return MailNotification
	}
	return ""
}

// EncodeBody serializes a body for storage.
func EncodeBody(b MailBody) ([]byte, error) {
	if b == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode mail body: %w", err)
	}
	return data, nil
}

// DecodeBody deserializes a body of the given mail type. Unknown fields are
// ignored; an unknown type is an error.
func DecodeBody(t MailType, data []byte) (MailBody, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var (
		body MailBody
		err  error
	)
	switch t {
	case MailAssignment:
		var b AssignmentBody
		err = json.Unmarshal(data, &b)
		body = b
	case MailStatusUpdate:
		var b StatusUpdateBody
		err = json.Unmarshal(data, &b)
		body = b
	case MailQuery:
		var b QueryBody
		err = json.Unmarshal(data, &b)
		body = b
	case MailResponse:
		var b ResponseBody
		err = json.Unmarshal(data, &b)
		body = b
	case MailDirective:
		var b DirectiveBody
		err = json.Unmarshal(data, &b)
		body = b
	case MailNotification:
		var b NotificationBody
		err = json.Unmarshal(data, &b)
		body = b
	default:
		return nil, fmt.Errorf("decode mail body: unknown mail type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", t, err)
	}
	return body, nil
}

// BodyText returns the body's primary text field for display.
func BodyText(b MailBody) string {
	switch v := b.(type) {
	case AssignmentBody:
		return v.Instructions
	case StatusUpdateBody:
		return v.Message
	case QueryBody:
		return v.Question
	case ResponseBody:
		return v.Answer
	case DirectiveBody:
		return v.Details
	case NotificationBody:
		return v.Message
	}
	return ""
}
