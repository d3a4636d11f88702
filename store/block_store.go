package store

import (
	"bytes"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"

	"segchain/types"
)

const (
	tableBlock = "block:"
	tableHash  = "hash:"
	tableMeta  = "meta:"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	keyHeight = []byte("height")

	ErrBlockNotFound = errors.New("block not found")
)

// BlockMeta is the lightweight summary stored next to every block.
type BlockMeta struct {
	Index   int64  `json:"index"`
	Hash    string `json:"hash"`
	TxsRoot string `json:"txs_root"`
	NumTxs  int    `json:"num_txs"`
}

// BlockStore persists the ledger's blocks in a tm-db database.
//
// keys:
//   block:{index} -> JSON block
//   hash:{hash}   -> index
//   meta:{index}  -> JSON BlockMeta
//   height        -> latest stored index
type BlockStore struct {
	mtx sync.RWMutex
	db  tmdb.DB

	height int64

	logger log.Logger
}

// NewBlockStore opens name under dir with the given backend (goleveldb or memdb).
func NewBlockStore(name, backend, dir string, logger log.Logger) (*BlockStore, error) {
	var db tmdb.DB
	switch backend {
	case "goleveldb":
		levelDB, err := leveldb.NewDB(name, dir)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s db", backend)
		}
		db = levelDB
	case "memdb":
		db = memdb.NewDB()
	default:
		return nil, errors.Errorf("unsupported db backend %q", backend)
	}
	return NewBlockStoreWithDB(db, logger)
}

func NewBlockStoreWithDB(db tmdb.DB, logger log.Logger) (*BlockStore, error) {
	bs := &BlockStore{db: db, height: -1, logger: logger}

	bz, err := db.Get(keyHeight)
	if err != nil {
		return nil, err
	}
	if len(bz) > 0 {
		h, err := strconv.ParseInt(string(bz), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "corrupted height")
		}
		bs.height = h
	}
	return bs, nil
}

func (bs *BlockStore) SetLogger(logger log.Logger) {
	bs.logger = logger
}

// Height returns the index of the last stored block, or -1 when empty.
func (bs *BlockStore) Height() int64 {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return bs.height
}

// SaveBlock stores block, which must directly follow the current height.
func (bs *BlockStore) SaveBlock(block *types.Block) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if block.Index != bs.height+1 {
		return errors.Errorf("can't save block %d on top of height %d", block.Index, bs.height)
	}

	batch := bs.db.NewBatch()
	defer batch.Close()

	if err := bs.writeBlock(batch, block); err != nil {
		return err
	}
	if err := batch.Set(keyHeight, int2byte(block.Index)); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	bs.height = block.Index
	return nil
}

// ReplaceBlocks swaps the stored chain for blocks (index 0 upwards) in a single batch.
func (bs *BlockStore) ReplaceBlocks(blocks []*types.Block) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	batch := bs.db.NewBatch()
	defer batch.Close()

	for i := int64(0); i <= bs.height; i++ {
		old, err := bs.loadBlock(i)
		if err != nil {
			return err
		}
		for _, key := range [][]byte{genKey(tableHash, old.Hash), genKey(tableBlock, i), genKey(tableMeta, i)} {
			if err := batch.Delete(key); err != nil {
				return err
			}
		}
	}
	for i, b := range blocks {
		if b.Index != int64(i) {
			return errors.Errorf("replacement block #%d has index %d", i, b.Index)
		}
		if err := bs.writeBlock(batch, b); err != nil {
			return err
		}
	}
	height := int64(len(blocks)) - 1
	if err := batch.Set(keyHeight, int2byte(height)); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	bs.height = height
	bs.logger.Info("replaced stored chain", "height", height)
	return nil
}

func (bs *BlockStore) LoadBlock(index int64) (*types.Block, error) {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return bs.loadBlock(index)
}

func (bs *BlockStore) LoadBlockByHash(hash string) (*types.Block, error) {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	bz, err := bs.db.Get(genKey(tableHash, hash))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrBlockNotFound
	}
	return bs.loadBlock(byte2int(bz))
}

func (bs *BlockStore) LoadBlockMeta(index int64) (*BlockMeta, error) {
	bz, err := bs.db.Get(genKey(tableMeta, index))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrBlockNotFound
	}
	meta := new(BlockMeta)
	if err := json.Unmarshal(bz, meta); err != nil {
		return nil, errors.Wrap(err, "decode block meta")
	}
	return meta, nil
}

// LoadBlocks returns every stored block in index order.
func (bs *BlockStore) LoadBlocks() ([]*types.Block, error) {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	blocks := make([]*types.Block, 0, bs.height+1)
	for i := int64(0); i <= bs.height; i++ {
		b, err := bs.loadBlock(i)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (bs *BlockStore) Close() error {
	return bs.db.Close()
}

func (bs *BlockStore) loadBlock(index int64) (*types.Block, error) {
	bz, err := bs.db.Get(genKey(tableBlock, index))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrBlockNotFound
	}
	block := new(types.Block)
	if err := json.Unmarshal(bz, block); err != nil {
		return nil, errors.Wrapf(err, "decode block %d", index)
	}
	return block, nil
}

func (bs *BlockStore) writeBlock(batch tmdb.Batch, block *types.Block) error {
	bz, err := json.Marshal(block)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(BlockMeta{
		Index:   block.Index,
		Hash:    block.Hash,
		TxsRoot: block.TxsRoot().String(),
		NumTxs:  len(block.Txs),
	})
	if err != nil {
		return err
	}
	if err := batch.Set(genKey(tableBlock, block.Index), bz); err != nil {
		return err
	}
	if err := batch.Set(genKey(tableMeta, block.Index), meta); err != nil {
		return err
	}
	return batch.Set(genKey(tableHash, block.Hash), int2byte(block.Index))
}

func genKey(table string, primaryKey interface{}) []byte {
	buffer := new(bytes.Buffer)
	buffer.WriteString(table)
	switch k := primaryKey.(type) {
	case int64:
		// zero padded so iteration follows index order
		buffer.WriteString(padIndex(k))
	case string:
		buffer.WriteString(k)
	case []byte:
		buffer.Write(k)
	default:
		panic(errors.Errorf("unsupported key type %T", primaryKey))
	}
	return buffer.Bytes()
}

func padIndex(i int64) string {
	s := strconv.FormatInt(i, 10)
	const width = 20
	if len(s) >= width {
		return s
	}
	return string(bytes.Repeat([]byte{'0'}, width-len(s))) + s
}

func byte2int(src []byte) int64 {
	v, _ := strconv.ParseInt(string(src), 10, 64)
	return v
}

func int2byte(src int64) []byte {
	return []byte(strconv.FormatInt(src, 10))
}
