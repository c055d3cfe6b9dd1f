// Package chain holds the canonical block unit consumed by the indexing
// pipeline: a block number, its timestamp and the logs emitted in that block
// in emission order.
package chain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// Block is the unit of pipeline processing.
type Block struct {
	// Number is the block number.
	Number uint64

	// Time is the block timestamp in seconds since the Unix epoch.
	Time uint64

	// Logs are the logs emitted in this block, ordered by log index.
	Logs []types.Log
}

// Assemble groups fetched logs into per-block units using the given headers
// for timestamps. Blocks are returned in ascending number order, with logs
// sorted by log index. A log whose block has no header is an error.
func Assemble(logs []types.Log, headers []*types.Header) ([]*Block, error) {
	times := make(map[uint64]uint64, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		times[h.Number.Uint64()] = h.Time
	}

	byNumber := make(map[uint64]*Block)
	for _, l := range logs {
		blk, ok := byNumber[l.BlockNumber]
		if !ok {
			ts, haveHeader := times[l.BlockNumber]
			if !haveHeader {
				return nil, fmt.Errorf("missing header for block %d", l.BlockNumber)
			}
			blk = &Block{Number: l.BlockNumber, Time: ts}
			byNumber[l.BlockNumber] = blk
		}
		blk.Logs = append(blk.Logs, l)
	}

	blocks := make([]*Block, 0, len(byNumber))
	for _, blk := range byNumber {
		sort.Slice(blk.Logs, func(i, j int) bool {
			return blk.Logs[i].Index < blk.Logs[j].Index
		})
		blocks = append(blocks, blk)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Number < blocks[j].Number
	})

	return blocks, nil
}

// BlockNumbers returns the distinct block numbers of the given logs in
// ascending order.
func BlockNumbers(logs []types.Log) []uint64 {
	seen := make(map[uint64]struct{})
	var nums []uint64
	for _, l := range logs {
		if _, ok := seen[l.BlockNumber]; ok {
			continue
		}
		seen[l.BlockNumber] = struct{}{}
		nums = append(nums, l.BlockNumber)
	}

	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	return nums
}
