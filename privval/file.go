package privval

import (
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"

	"segchain/crypto"
	"segchain/types"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the key pair of a node. The same key signs transactions,
// p2p messages and votes.
type FilePVKey struct {
	Address string `json:"address"`
	PubKey  []byte `json:"pub_key"`
	PrivKey []byte `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FilePV is a key pair persisted to disk.
// NOTE: the directory containing pv.Key.filePath must already exist.
type FilePV struct {
	Key FilePVKey

	crypto crypto.Provider
}

// NewFilePV wraps an existing private key.
func NewFilePV(p crypto.Provider, privKey []byte, keyFilePath string) (*FilePV, error) {
	pubKey, err := p.PubKey(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "derive public key")
	}
	return &FilePV{
		Key: FilePVKey{
			Address:  p.DeriveAddress(pubKey),
			PubKey:   pubKey,
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
		crypto: p,
	}, nil
}

// GenFilePV generates a new key pair and sets the filePath, but does not call Save().
func GenFilePV(p crypto.Provider, keyFilePath string) (*FilePV, error) {
	priv, _, err := p.GenKeyPair()
	if err != nil {
		return nil, err
	}
	return NewFilePV(p, priv, keyFilePath)
}

// LoadFilePV loads a FilePV from keyFilePath. The public key and address
// are rederived from the private key.
func LoadFilePV(p crypto.Provider, keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	if err := tmjson.Unmarshal(keyJSONBytes, &pvKey); err != nil {
		return nil, errors.Wrapf(err, "error reading PrivValidator key from %v", keyFilePath)
	}
	return NewFilePV(p, pvKey.PrivKey, keyFilePath)
}

// LoadOrGenFilePV loads a FilePV from keyFilePath or else generates a new
// one and saves it there.
func LoadOrGenFilePV(p crypto.Provider, keyFilePath string) (*FilePV, error) {
	if tmos.FileExists(keyFilePath) {
		return LoadFilePV(p, keyFilePath)
	}
	pv, err := GenFilePV(p, keyFilePath)
	if err != nil {
		return nil, err
	}
	pv.Save()
	return pv, nil
}

func (pv *FilePV) GetAddress() string {
	return pv.Key.Address
}

func (pv *FilePV) GetPubKey() []byte {
	return pv.Key.PubKey
}

// SignTx fills the hash and signature of tx. The tx sender must be this key.
func (pv *FilePV) SignTx(tx *types.Tx) error {
	if tx.Sender != pv.Key.Address {
		return errors.Wrapf(types.ErrSignature, "tx sender %s is not %s", tx.Sender, pv.Key.Address)
	}
	return tx.Sign(pv.crypto, pv.Key.PrivKey)
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf("PrivValidator{%v}", pv.GetAddress())
}
