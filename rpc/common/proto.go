package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Addressing
	LogID   uint64 `json:"log_id,omitempty"`  // Used for: Charge, Uncharge, Detach, Info
	Session uint64 `json:"session,omitempty"` // Used for: Charge, Uncharge, Detach (remote execution context)

	// Accounting
	Bytes    int64 `json:"bytes,omitempty"`    // Used for: Charge, Uncharge (request), Detach (released bytes in the response)
	Limit    int64 `json:"limit,omitempty"`    // Used for: Charge, Info responses
	Consumed int64 `json:"consumed,omitempty"` // Used for: Charge, Info responses
	Local    int64 `json:"local,omitempty"`    // Used for: Charge, Uncharge responses (bytes held by the session)

	Value []byte `json:"value,omitempty"` // Used for: Info, Allocator responses (json payload)

	// Flag field, request: Detach (release the session's bytes), response: Charge (within limit), Info (tracker exists)
	Ok bool `json:"ok,omitempty"`

	// Response only fields
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewChargeRequest creates a new Charge request
func NewChargeRequest(logID, session uint64, bytes int64) *Message {
	return &Message{
		MsgType: MsgTMemCharge,
		LogID:   logID,
		Session: session,
		Bytes:   bytes,
	}
}

// NewChargeResponse creates a new Charge response. ok is false if the limit is exceeded after the charge.
func NewChargeResponse(ok bool, limit, consumed, local int64, err error) *Message {
	msg := &Message{
		MsgType:  MsgTMemCharge,
		Ok:       ok,
		Limit:    limit,
		Consumed: consumed,
		Local:    local,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewUnchargeRequest creates a new Uncharge request
func NewUnchargeRequest(logID, session uint64, bytes int64) *Message {
	return &Message{
		MsgType: MsgTMemUncharge,
		LogID:   logID,
		Session: session,
		Bytes:   bytes,
	}
}

// NewUnchargeResponse creates a new Uncharge response
func NewUnchargeResponse(local int64, err error) *Message {
	msg := &Message{
		MsgType: MsgTMemUncharge,
		Local:   local,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDetachRequest creates a new Detach request. With release set, the bytes still held by the session are
// uncharged before it is dropped.
func NewDetachRequest(logID, session uint64, release bool) *Message {
	return &Message{
		MsgType: MsgTMemDetach,
		LogID:   logID,
		Session: session,
		Ok:      release,
	}
}

// NewDetachResponse creates a new Detach response
func NewDetachResponse(released int64, err error) *Message {
	msg := &Message{
		MsgType: MsgTMemDetach,
		Bytes:   released,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewInfoRequest creates a new Info request
func NewInfoRequest(logID uint64) *Message {
	return &Message{
		MsgType: MsgTMemInfo,
		LogID:   logID,
	}
}

// NewInfoResponse creates a new Info response. ok is false if no tracker exists for the id.
func NewInfoResponse(ok bool, limit, consumed int64, value []byte, err error) *Message {
	msg := &Message{
		MsgType:  MsgTMemInfo,
		Ok:       ok,
		Limit:    limit,
		Consumed: consumed,
		Value:    value,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewAllocatorRequest creates a new Allocator request
func NewAllocatorRequest() *Message {
	return &Message{
		MsgType: MsgTMemAllocator,
	}
}

// NewAllocatorResponse creates a new Allocator response
func NewAllocatorResponse(value []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTMemAllocator,
		Value:   value,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Payloads
// --------------------------------------------------------------------------

// TrackerInfo is the json payload of an Info response
type TrackerInfo struct {
	LogID      uint64 `json:"log_id"`
	Exists     bool   `json:"exists"`
	Limit      int64  `json:"limit"`
	Consumed   int64  `json:"consumed"`
	Peak       int64  `json:"peak"`
	IdleMillis int64  `json:"idle_ms"`
	AgeMillis  int64  `json:"age_ms"`
	Breached   bool   `json:"breached"`
	Sessions   int    `json:"sessions"` // sessions of this server bound to the id
}

// AllocatorInfo is the json payload of an Allocator response
type AllocatorInfo struct {
	Enabled   bool   `json:"enabled"`
	Name      string `json:"name,omitempty"`
	UsedBytes uint64 `json:"used_bytes"`
	FreeBytes uint64 `json:"free_bytes"`
	Dump      string `json:"dump,omitempty"`
	Trackers  int    `json:"trackers"`
	Consumed  int64  `json:"consumed"`
	Evicted   int64  `json:"evicted"`
	Sessions  int    `json:"sessions"`
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:      "success",
	MsgTError:        "error",
	MsgTMemCharge:    "charge",
	MsgTMemUncharge:  "uncharge",
	MsgTMemDetach:    "detach",
	MsgTMemInfo:      "info",
	MsgTMemAllocator: "allocator",
	MsgTCustom:       "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Memory accounting operations

	MsgTMemCharge    // Charge bytes to the tracker of a logical request
	MsgTMemUncharge  // Uncharge bytes from the tracker of a logical request
	MsgTMemDetach    // Drop a remote execution context (session)
	MsgTMemInfo      // Inspect the tracker of a logical request
	MsgTMemAllocator // Allocator stats and dump

	// Custom operations

	MsgTCustom // Custom operation type
)
