// Package wire defines the CoinJoin lobby-channel wire messages and the
// persisted Task with its state enum. The Session state and role enums
// live in package session.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the three registered message kinds.
type Kind string

const (
	KindOpen   Kind = "CoinJoinOpen"
	KindJoin   Kind = "CoinJoin"
	KindFinish Kind = "CoinJoinFinish"
)

// OpenBody is the broadcast announcement body.
type OpenBody struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// JoinBody is the unicast protocol body; Tx is the hex-serialised
// transaction at the current protocol step.
type JoinBody struct {
	ID string `json:"id"`
	Tx string `json:"tx"`
	// Initial marks a first-contact reply to an announcement, the
	// signal the Matchmaker uses to decide whether to buffer it.
	Initial bool `json:"initial,omitempty"`
}

// FinishBody is the unicast termination body.
type FinishBody struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// Encode marshals a body to its wire representation.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeOpen decodes a CoinJoinOpen body.
func DecodeOpen(data []byte) (*OpenBody, error) {
	var b OpenBody
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode CoinJoinOpen: %w", err)
	}
	return &b, nil
}

// DecodeJoin decodes a CoinJoin body.
func DecodeJoin(data []byte) (*JoinBody, error) {
	var b JoinBody
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode CoinJoin: %w", err)
	}
	return &b, nil
}

// DecodeFinish decodes a CoinJoinFinish body.
func DecodeFinish(data []byte) (*FinishBody, error) {
	var b FinishBody
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode CoinJoinFinish: %w", err)
	}
	return &b, nil
}

// Message is what a ChannelGateway callback delivers: the sender's
// fingerprint, the peer record, and the decoded kind/body.
type Message struct {
	Sender string
	Peer   Peer
	Kind   Kind
	Body   []byte
}

// Peer identifies a lobby channel counterparty.
type Peer struct {
	PubKey  string
	Trusted bool
}
