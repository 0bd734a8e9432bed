package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Key layout (bit-exact per spec §4.3):
//
//	events:<id>
//	index:chain_block:<chain>:<block>
//	index:chain_type:<chain>:<event_type>
//	index:chain_time:<chain>:<timestamp-hex-16>
//	latest_block:<chain>
//	latest_block_status:<status>:<chain>
//	block_status:<chain>:<block>
//	block:<chain>:<block>
//	va_libs:<chain:addr>
//	va_owner_idx:<owner>:<account_id>
//	va_lib_idx:<lib>:<account_id>

func keyEvent(id string) []byte {
	return []byte("events:" + id)
}

func keyIndexChainBlock(chain event.ChainID, block uint64) []byte {
	return []byte(fmt.Sprintf("index:chain_block:%s:%020d", chain, block))
}

func prefixIndexChainBlock(chain event.ChainID) []byte {
	return []byte(fmt.Sprintf("index:chain_block:%s:", chain))
}

func keyIndexChainType(chain event.ChainID, eventType string) []byte {
	return []byte(fmt.Sprintf("index:chain_type:%s:%s", chain, eventType))
}

func keyIndexChainTime(chain event.ChainID, unixSeconds int64) []byte {
	return []byte(fmt.Sprintf("index:chain_time:%s:%016x", chain, uint64(unixSeconds)))
}

func prefixIndexChainTime(chain event.ChainID) []byte {
	return []byte(fmt.Sprintf("index:chain_time:%s:", chain))
}

func keyLatestBlock(chain event.ChainID) []byte {
	return []byte("latest_block:" + string(chain))
}

func keyLatestBlockStatus(status event.BlockStatus, chain event.ChainID) []byte {
	return []byte(fmt.Sprintf("latest_block_status:%s:%s", status, chain))
}

func keyBlockStatus(chain event.ChainID, block uint64) []byte {
	return []byte(fmt.Sprintf("block_status:%s:%020d", chain, block))
}

func keyBlockHash(chain event.ChainID, block uint64) []byte {
	return []byte(fmt.Sprintf("block:%s:%020d", chain, block))
}

func keyValenceLibs(accountID string) []byte {
	return []byte("va_libs:" + accountID)
}

func keyValenceOwnerIdx(owner, accountID string) []byte {
	return []byte(fmt.Sprintf("va_owner_idx:%s:%s", owner, accountID))
}

func keyValenceLibIdx(lib, accountID string) []byte {
	return []byte(fmt.Sprintf("va_lib_idx:%s:%s", lib, accountID))
}

// encodeUint64 / decodeUint64 store block numbers as ASCII decimal, per §4.3's
// "ASCII decimal" requirement for latest_block values.
func encodeUint64(n uint64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func decodeUint64(b []byte) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(string(b), "%d", &n)
	return n, err
}

// bigEndianBlock is used only where a sortable binary suffix is more convenient than the
// zero-padded decimal string form above (kept available for future secondary indexes).
func bigEndianBlock(block uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, block)
	return b
}
