// Package validator checks events against per-chain format and schema rules without
// ever mutating the event itself.
package validator

import (
	"regexp"
	"time"
)

// AddressFormat names how an event's address-shaped fields are expected to look.
type AddressFormat string

const (
	AddressEthereum AddressFormat = "ethereum"
	AddressBitcoin  AddressFormat = "bitcoin"
	AddressCosmos   AddressFormat = "cosmos" // Cosmos{prefix}; AddressPrefix names the bech32 HRP
	AddressSolana   AddressFormat = "solana"
	AddressCustom   AddressFormat = "custom" // AddressPrefix holds the regexp source
)

// HashFormat names the expected shape of tx/block hashes.
type HashFormat string

const (
	HashKeccak256 HashFormat = "keccak256"
	HashSha256    HashFormat = "sha256"
	HashBlake2b   HashFormat = "blake2b"
	HashCustom    HashFormat = "custom"
)

// FieldType constrains an event-type rule's per-field value.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBool    FieldType = "bool"
	FieldAny     FieldType = "any"
)

// FieldRule validates one required field of a matched event-type rule.
type FieldRule struct {
	Name      string
	Type      FieldType
	Pattern   *regexp.Regexp // optional, string fields only
	MinValue  *float64       // optional, number fields only
	MaxValue  *float64       // optional, number fields only
	Enum      []string       // optional, allowed values (stringified)
}

// EventTypeRule matches event_type against Pattern and, when it matches, requires
// every named field in RequiredFields to be present and individually valid.
type EventTypeRule struct {
	Pattern        *regexp.Regexp
	RequiredFields []FieldRule
}

// CustomRule is an arbitrary, named validation hook against the parsed event body.
type CustomRule struct {
	Name  string
	Check func(attrs map[string]interface{}) (ok bool, message string)
}

// ChainConfig is the per-chain configuration the validator checks every event against.
type ChainConfig struct {
	ChainName           string
	ExpectedChainID      string
	AddressFormat        AddressFormat
	AddressPrefix        string // Cosmos bech32 HRP, or the pattern source for AddressCustom
	TxHashFormat         HashFormat
	BlockHashFormat      HashFormat
	MinBlockNumber       uint64
	MaxBlockNumber       *uint64
	EventTypeRules       []EventTypeRule
	CustomRules          []CustomRule
	StrictMode           bool
	MaxTimestampDeviation time.Duration
}

// ValidationErrorCode tags the kind of validation failure.
type ValidationErrorCode string

const (
	ErrChainMismatch    ValidationErrorCode = "chain_mismatch"
	ErrBlockOutOfBounds ValidationErrorCode = "block_out_of_bounds"
	ErrBadTxHashFormat  ValidationErrorCode = "bad_tx_hash_format"
	ErrBadBlockHashFormat ValidationErrorCode = "bad_block_hash_format"
	ErrBadAddressFormat ValidationErrorCode = "bad_address_format"
	ErrTimestampDeviation ValidationErrorCode = "timestamp_deviation"
	ErrMissingField     ValidationErrorCode = "missing_field"
	ErrFieldConstraint  ValidationErrorCode = "field_constraint"
	ErrCustomRule       ValidationErrorCode = "custom_rule"
)

// ValidationError carries enough detail for a caller to explain the failure.
type ValidationError struct {
	Code     ValidationErrorCode
	Message  string
	Field    string
	Expected string
	Actual   string
}

// ValidationResult is the validator's verdict: never mutates the event, only reports.
type ValidationResult struct {
	IsValid  bool
	Errors   []ValidationError
	Warnings []ValidationError
	Metadata map[string]string
}
