package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Validator checks events against a set of per-chain ChainConfigs. It owns a small
// compiled-regex cache (§9) so Custom address/hash patterns aren't recompiled per event.
type Validator struct {
	configs map[string]ChainConfig

	sharedMu sync.Mutex // guards regexCache only when Shared() marks this instance shared
	shared   bool
	regexCache map[string]*regexp.Regexp
}

// NewValidator builds a Validator over the given per-chain configs, keyed by ChainName.
func NewValidator(configs ...ChainConfig) *Validator {
	v := &Validator{configs: make(map[string]ChainConfig), regexCache: make(map[string]*regexp.Regexp)}
	for _, c := range configs {
		v.configs[c.ChainName] = c
	}
	return v
}

// Shared marks this Validator as used concurrently across goroutines, enabling mutex
// protection on the regex cache. Single-goroutine callers can skip this for speed.
func (v *Validator) Shared() *Validator {
	v.shared = true
	return v
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	if v.shared {
		v.sharedMu.Lock()
		defer v.sharedMu.Unlock()
	}
	if re, ok := v.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.regexCache[pattern] = re
	return re, nil
}

// Validate checks e against the ChainConfig registered for e.Chain. An event for an
// unregistered chain is reported invalid with a chain_mismatch error.
func (v *Validator) Validate(e event.Event) ValidationResult {
	cfg, ok := v.configs[string(e.Chain)]
	if !ok {
		return ValidationResult{
			IsValid: false,
			Errors: []ValidationError{{
				Code: ErrChainMismatch, Message: "no validator configuration registered for chain",
				Field: "chain", Expected: "", Actual: string(e.Chain),
			}},
			Metadata: map[string]string{},
		}
	}
	return v.validateAgainst(e, cfg)
}

func (v *Validator) validateAgainst(e event.Event, cfg ChainConfig) ValidationResult {
	res := ValidationResult{IsValid: true, Metadata: map[string]string{}}

	record := func(list *[]ValidationError, code ValidationErrorCode, msg, field, expected, actual string) {
		*list = append(*list, ValidationError{Code: code, Message: msg, Field: field, Expected: expected, Actual: actual})
	}

	if cfg.ExpectedChainID != "" && string(e.Chain) != cfg.ExpectedChainID {
		msg := fmt.Sprintf("event chain %q does not match expected chain id %q", e.Chain, cfg.ExpectedChainID)
		if cfg.StrictMode {
			record(&res.Errors, ErrChainMismatch, msg, "chain", cfg.ExpectedChainID, string(e.Chain))
		} else {
			record(&res.Warnings, ErrChainMismatch, msg, "chain", cfg.ExpectedChainID, string(e.Chain))
		}
	}

	if e.BlockNumber < cfg.MinBlockNumber || (cfg.MaxBlockNumber != nil && e.BlockNumber > *cfg.MaxBlockNumber) {
		record(&res.Errors, ErrBlockOutOfBounds, "block number outside configured bounds",
			"block_number", fmt.Sprintf("[%d, %v]", cfg.MinBlockNumber, cfg.MaxBlockNumber), strconv.FormatUint(e.BlockNumber, 10))
	}

	if ok, reason := v.checkHashFormat(e.TxHash, cfg.TxHashFormat); !ok {
		record(&res.Errors, ErrBadTxHashFormat, reason, "tx_hash", string(cfg.TxHashFormat), e.TxHash)
	}
	if ok, reason := v.checkHashFormat(e.BlockHash, cfg.BlockHashFormat); !ok {
		record(&res.Errors, ErrBadBlockHashFormat, reason, "block_hash", string(cfg.BlockHashFormat), e.BlockHash)
	}

	if cfg.MaxTimestampDeviation > 0 && !e.Timestamp.IsZero() {
		dev := time.Since(e.Timestamp)
		if dev < 0 {
			dev = -dev
		}
		if dev > cfg.MaxTimestampDeviation {
			record(&res.Errors, ErrTimestampDeviation, "event timestamp deviates from wall clock beyond configured bound",
				"timestamp", cfg.MaxTimestampDeviation.String(), dev.String())
		}
	}

	var attrs map[string]interface{}
	if len(e.RawData) > 0 {
		_ = json.Unmarshal(e.RawData, &attrs)
	}

	if attrs != nil {
		if addr, ok := extractAddress(attrs); ok {
			if ok, reason := v.checkAddressFormat(addr, cfg); !ok {
				record(&res.Errors, ErrBadAddressFormat, reason, "address", string(cfg.AddressFormat), addr)
			}
		}

		for _, rule := range cfg.EventTypeRules {
			if rule.Pattern == nil || !rule.Pattern.MatchString(e.EventType) {
				continue
			}
			for _, field := range rule.RequiredFields {
				v.checkField(attrs, field, &res)
			}
		}

		for _, cr := range cfg.CustomRules {
			if cr.Check == nil {
				continue
			}
			if ok, msg := cr.Check(attrs); !ok {
				record(&res.Errors, ErrCustomRule, msg, cr.Name, "", "")
			}
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func extractAddress(attrs map[string]interface{}) (string, bool) {
	for _, k := range []string{"address", "from", "to", "sender", "recipient", "contract"} {
		if v, ok := attrs[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func (v *Validator) checkAddressFormat(addr string, cfg ChainConfig) (bool, string) {
	switch cfg.AddressFormat {
	case AddressEthereum:
		if !common.IsHexAddress(addr) {
			return false, "not a well-formed hex Ethereum address"
		}
		return true, ""
	case AddressBitcoin:
		if _, _, err := bech32.Decode(addr); err != nil {
			return false, "not a valid bech32-encoded Bitcoin address: " + err.Error()
		}
		return true, ""
	case AddressCosmos:
		hrp, _, err := bech32.Decode(addr)
		if err != nil {
			return false, "not a valid bech32-encoded Cosmos address: " + err.Error()
		}
		if cfg.AddressPrefix != "" && hrp != cfg.AddressPrefix {
			return false, fmt.Sprintf("bech32 prefix %q does not match configured prefix %q", hrp, cfg.AddressPrefix)
		}
		return true, ""
	case AddressSolana:
		if !isPlausibleBase58(addr) || len(addr) < 32 || len(addr) > 44 {
			return false, "not a plausible base58 Solana address"
		}
		return true, ""
	case AddressCustom:
		re, err := v.compile(cfg.AddressPrefix)
		if err != nil {
			return false, "invalid custom address pattern: " + err.Error()
		}
		if !re.MatchString(addr) {
			return false, "address does not match configured custom pattern"
		}
		return true, ""
	default:
		return true, "" // no format configured, nothing to check
	}
}

var base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func isPlausibleBase58(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// checkHashFormat validates shape only (length/charset), not that the hash matches its
// preimage, per §4.6.
func (v *Validator) checkHashFormat(h string, format HashFormat) (bool, string) {
	var want int
	switch format {
	case HashKeccak256:
		want = len(crypto.Keccak256([]byte{})) // 32
	case HashSha256:
		sum := sha256.Sum256(nil)
		want = len(sum)
	case HashBlake2b:
		sum := blake2b.Sum256(nil)
		want = len(sum)
	case HashCustom, "":
		return true, "" // no shape enforced
	default:
		return true, ""
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return false, "hash is not valid hex: " + err.Error()
	}
	if len(raw) != want {
		return false, fmt.Sprintf("expected %d-byte hash for %s, got %d bytes", want, format, len(raw))
	}
	return true, ""
}

func (v *Validator) checkField(attrs map[string]interface{}, rule FieldRule, res *ValidationResult) {
	val, ok := attrs[rule.Name]
	if !ok {
		res.Errors = append(res.Errors, ValidationError{
			Code: ErrMissingField, Message: "required field missing", Field: rule.Name,
		})
		return
	}

	switch rule.Type {
	case FieldString:
		s, ok := val.(string)
		if !ok {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "expected string field", Field: rule.Name})
			return
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "field does not match required pattern", Field: rule.Name, Expected: rule.Pattern.String(), Actual: s})
		}
		if len(rule.Enum) > 0 && !containsStr(rule.Enum, s) {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "field value not in allowed enum", Field: rule.Name, Actual: s})
		}
	case FieldNumber:
		f, ok := toFloat(val)
		if !ok {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "expected numeric field", Field: rule.Name})
			return
		}
		if rule.MinValue != nil && f < *rule.MinValue {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "field below minimum", Field: rule.Name, Expected: strconv.FormatFloat(*rule.MinValue, 'f', -1, 64), Actual: strconv.FormatFloat(f, 'f', -1, 64)})
		}
		if rule.MaxValue != nil && f > *rule.MaxValue {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "field above maximum", Field: rule.Name, Expected: strconv.FormatFloat(*rule.MaxValue, 'f', -1, 64), Actual: strconv.FormatFloat(f, 'f', -1, 64)})
		}
	case FieldBool:
		if _, ok := val.(bool); !ok {
			res.Errors = append(res.Errors, ValidationError{Code: ErrFieldConstraint, Message: "expected bool field", Field: rule.Name})
		}
	case FieldAny, "":
		// no type constraint
	}
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
