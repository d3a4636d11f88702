package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"

	"segchain/crypto"
)

// GenesisPreviousHash links the genesis block to nothing.
const GenesisPreviousHash = "0"

// Block is the unit appended to the ledger. It is immutable once appended.
type Block struct {
	Index        int64  `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	Nonce        uint64 `json:"nonce"`
	Txs          Txs    `json:"txs"`
}

// MakeBlock builds a block on top of prevHash and fills its hash.
func MakeBlock(index int64, prevHash string, txs Txs, h crypto.Hasher) *Block {
	if txs == nil {
		txs = Txs{}
	}
	b := &Block{
		Index:        index,
		Timestamp:    time.Now().UnixNano(),
		PreviousHash: prevHash,
		Txs:          txs,
	}
	b.Hash = b.ComputeHash(h)
	return b
}

func MakeGenesisBlock(genesisTime time.Time, h crypto.Hasher) *Block {
	b := &Block{
		Index:        0,
		Timestamp:    genesisTime.UnixNano(),
		PreviousHash: GenesisPreviousHash,
		Txs:          Txs{},
	}
	b.Hash = b.ComputeHash(h)
	return b
}

// ComputeHash hashes index, timestamp, previous hash, every tx hash and the nonce.
func (b *Block) ComputeHash(h crypto.Hasher) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(b.Index, 10))
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	sb.WriteString(b.PreviousHash)
	for _, tx := range b.Txs {
		sb.WriteString(tx.Hash)
	}
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	return h.Hash([]byte(sb.String()))
}

// Mine increments the nonce until the hash carries difficulty leading zeros.
func (b *Block) Mine(h crypto.Hasher, difficulty int) {
	b.Hash = b.ComputeHash(h)
	for !b.MeetsDifficulty(difficulty) {
		b.Nonce++
		b.Hash = b.ComputeHash(h)
	}
}

func (b *Block) MeetsDifficulty(difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty))
}

// ValidateBasic checks that the stored hash is re-derivable and every tx is well formed.
func (b *Block) ValidateBasic(h crypto.Hasher) error {
	if b == nil {
		return errors.Wrap(ErrStructural, "nil block")
	}
	if b.Index < 0 {
		return errors.Wrapf(ErrStructural, "negative index %d", b.Index)
	}
	if b.Hash == "" || b.Hash != b.ComputeHash(h) {
		return errors.Wrapf(ErrStructural, "block %d hash mismatch", b.Index)
	}
	seen := make(map[string]struct{}, len(b.Txs))
	for i, tx := range b.Txs {
		if err := tx.ValidateBasic(h); err != nil {
			return errors.Wrapf(err, "tx #%d", i)
		}
		if _, ok := seen[tx.Hash]; ok {
			return errors.Wrapf(ErrStructural, "duplicate tx %s", tx.Hash)
		}
		seen[tx.Hash] = struct{}{}
	}
	return nil
}

// TxsRoot is the merkle root over the tx hashes.
func (b *Block) TxsRoot() tmbytes.HexBytes {
	leaves := make([][]byte, len(b.Txs))
	for i, tx := range b.Txs {
		leaves[i] = []byte(tx.Hash)
	}
	return merkle.HashFromByteSlices(leaves)
}

func (b *Block) IsGenesis() bool {
	return b.Index == 0 && b.PreviousHash == GenesisPreviousHash
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{#%d %s prev:%s txs:%d}", b.Index, shortHash(b.Hash), shortHash(b.PreviousHash), len(b.Txs))
}
