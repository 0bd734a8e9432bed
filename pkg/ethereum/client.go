// Package ethereum is Almanac's reference EVM chain client: the out-of-core collaborator
// §1/§6 describe as delivering events to Storage.StoreEvent one at a time. It is adapted
// from the teacher's pkg/ethereum/client.go (an ethclient.Client wrapper originally built
// for transaction submission) into a log-ingestion source, since the core's Non-goals
// explicitly exclude contract execution — the teacher's transactor/signer logic has no
// home in Almanac and is dropped (see DESIGN.md), while its ethclient.Dial wiring and
// address/hash conventions are kept.
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/timewave-computer/almanac/pkg/event"
)

// Client wraps an ethclient.Client for log retrieval and block metadata, the minimal
// surface an EVM ingestion source needs.
type Client struct {
	rpc     *ethclient.Client
	chainID event.ChainID
	url     string
}

// NewClient dials url and tags retrieved events with chainID (Almanac's ChainID, e.g.
// "ethereum" — not the EVM numeric chain id, which callers can still recover via
// rpc.ChainID when needed).
func NewClient(url string, chainID event.ChainID) (*Client, error) {
	rpc, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial %s: %w", url, err)
	}
	return &Client{rpc: rpc, chainID: chainID, url: url}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// LatestBlockNumber returns the chain head, used by the sync tracker's head_block input.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethereum: block number: %w", err)
	}
	return n, nil
}

// FetchEvents retrieves logs in [from, to] and normalizes them into Almanac's Event
// shape, grounded on the same ethereum.FilterQuery/FilterLogs idiom the pack's
// DanDo385-solidity-edu geth-10-filters/geth-17-indexer examples and the other_examples
// ethmonitor.go reference use.
func (c *Client) FetchEvents(ctx context.Context, from, to uint64) ([]event.Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ethereum: filter logs: %w", err)
	}

	out := make([]event.Event, 0, len(logs))
	for _, lg := range logs {
		e, err := c.normalize(ctx, lg)
		if err != nil {
			continue // a log that cannot be normalized is skipped and not returned
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) normalize(ctx context.Context, lg types.Log) (event.Event, error) {
	blockTime, err := c.blockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		blockTime = time.Now()
	}

	eventType := "Log"
	if len(lg.Topics) > 0 {
		eventType = lg.Topics[0].Hex()
	}

	raw := map[string]interface{}{
		"address": lg.Address.Hex(),
		"topics":  topicsHex(lg.Topics),
		"data":    common.Bytes2Hex(lg.Data),
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return event.Event{}, err
	}

	return event.Event{
		ID:          fmt.Sprintf("%s:%s:%d", c.chainID, lg.TxHash.Hex(), lg.Index),
		Chain:       c.chainID,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint32(lg.Index),
		Timestamp:   blockTime,
		EventType:   eventType,
		RawData:     payload,
	}, nil
}

func (c *Client) blockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0), nil
}

func topicsHex(topics []common.Hash) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Hex()
	}
	return out
}
