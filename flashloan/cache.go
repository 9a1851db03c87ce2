package flashloan

import (
	"encoding/binary"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// quoteKey identifies a ranked list. Any registry or ledger write changes the
// versions, so stale lists are never served.
type quoteKey struct {
	token    common.Address
	amount   string
	registry uint64
	state    uint64
	pooled   bool
}

func (k quoteKey) hash() uint64 {
	var buf [8]byte
	d := xxhash.New()
	_, _ = d.Write(k.token.Bytes())
	_, _ = d.WriteString(k.amount)
	binary.BigEndian.PutUint64(buf[:], k.registry)
	_, _ = d.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], k.state)
	_, _ = d.Write(buf[:])
	if k.pooled {
		_, _ = d.Write([]byte{1})
	}
	return d.Sum64()
}

type cachedQuote struct {
	key   quoteKey
	infos []FlashLoanInfo
}

type quoteCache struct {
	entries *lru.Cache
}

func newQuoteCache(size int) (*quoteCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &quoteCache{entries: entries}, nil
}

func (c *quoteCache) get(k quoteKey) ([]FlashLoanInfo, bool) {
	v, ok := c.entries.Get(k.hash())
	if !ok {
		return nil, false
	}
	cq := v.(cachedQuote)
	if cq.key != k {
		return nil, false
	}
	return cloneInfos(cq.infos), true
}

func (c *quoteCache) add(k quoteKey, infos []FlashLoanInfo) {
	c.entries.Add(k.hash(), cachedQuote{key: k, infos: cloneInfos(infos)})
}

// cloneInfos copies the list and its amounts so callers never share them
// with the cache.
func cloneInfos(infos []FlashLoanInfo) []FlashLoanInfo {
	out := make([]FlashLoanInfo, len(infos))
	for i, info := range infos {
		out[i] = FlashLoanInfo{
			Provider: info.Provider,
			MaxLoan:  cloneInt(info.MaxLoan),
			FeeAtMax: cloneInt(info.FeeAtMax),
			Rate:     cloneInt(info.Rate),
		}
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func (c *quoteCache) len() int {
	return c.entries.Len()
}
