// Package models defines the core data structures shared by the client
// and the ledger emulator: identities, records and record lists.
package models

// Identity is the base58 public key of the connected wallet.
// The zero value means no wallet is connected.
type Identity string

// Present reports whether the identity is set.
func (i Identity) Present() bool {
	return i != ""
}

// Short returns an abbreviated form for display, e.g. "7xKX…9fPq".
func (i Identity) Short() string {
	s := string(i)
	if len(s) <= 10 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// Record is a single entry of the record-holding account.
type Record struct {
	// Text is the submitted entry, a GIF link in practice.
	Text string `json:"text"`
	// SubmittedBy is the wallet that signed the append.
	SubmittedBy Identity `json:"submittedBy"`
}

// ListKind describes what is known about the record-holding account.
type ListKind string

const (
	// Unknown means no successful fetch has happened, or the last one failed.
	Unknown ListKind = "unknown"
	// Uninitialized means the ledger reported that the account does not exist.
	Uninitialized ListKind = "uninitialized"
	// Empty means the account exists and holds zero records.
	Empty ListKind = "empty"
	// Populated means the account holds at least one record.
	Populated ListKind = "populated"
)

// RecordList is the last known content of the record-holding account.
// Records keep the append order assigned by the ledger.
type RecordList struct {
	Kind    ListKind `json:"kind"`
	Records []Record `json:"records"`
}

// NewRecordList builds an Empty or Populated list from fetched records.
func NewRecordList(records []Record) RecordList {
	if len(records) == 0 {
		return RecordList{Kind: Empty, Records: []Record{}}
	}
	out := make([]Record, len(records))
	copy(out, records)
	return RecordList{Kind: Populated, Records: out}
}

// UninitializedList is the list state for an account that does not exist.
func UninitializedList() RecordList {
	return RecordList{Kind: Uninitialized}
}

// UnknownList is the list state before the first fetch or after a failed one.
func UnknownList() RecordList {
	return RecordList{Kind: Unknown}
}

// Exists reports whether the list reflects an existing account.
func (l RecordList) Exists() bool {
	return l.Kind == Empty || l.Kind == Populated
}

// Len returns the number of records.
func (l RecordList) Len() int {
	return len(l.Records)
}
