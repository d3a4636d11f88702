package crypto

import (
	"crypto/sha256"

	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/encrypt/ecies"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
)

var _ Provider = (*KyberProvider)(nil)

// KyberProvider implements Provider over the Ed25519 group: Schnorr
// signatures and ECIES encryption.
type KyberProvider struct {
	sha256Hasher

	suite *edwards25519.SuiteEd25519
}

func NewKyberProvider() *KyberProvider {
	return &KyberProvider{suite: edwards25519.NewBlakeSHA256Ed25519()}
}

func (kp *KyberProvider) GenKeyPair() ([]byte, []byte, error) {
	pair := key.NewKeyPair(kp.suite)
	priv, err := pair.Private.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	pub, err := pair.Public.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func (kp *KyberProvider) PubKey(priv []byte) ([]byte, error) {
	scalar, err := kp.scalar(priv)
	if err != nil {
		return nil, err
	}
	return kp.suite.Point().Mul(scalar, nil).MarshalBinary()
}

func (kp *KyberProvider) Sign(priv []byte, msg []byte) ([]byte, error) {
	scalar, err := kp.scalar(priv)
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(kp.suite, scalar, msg)
}

func (kp *KyberProvider) Verify(pub []byte, msg []byte, sig []byte) bool {
	point, err := kp.point(pub)
	if err != nil {
		return false
	}
	return schnorr.Verify(kp.suite, point, msg, sig) == nil
}

func (kp *KyberProvider) Encrypt(pub []byte, msg []byte) ([]byte, error) {
	point, err := kp.point(pub)
	if err != nil {
		return nil, err
	}
	return ecies.Encrypt(kp.suite, point, msg, sha256.New)
}

func (kp *KyberProvider) Decrypt(priv []byte, ciphertext []byte) ([]byte, error) {
	scalar, err := kp.scalar(priv)
	if err != nil {
		return nil, err
	}
	return ecies.Decrypt(kp.suite, scalar, ciphertext, sha256.New)
}

func (kp *KyberProvider) scalar(b []byte) (kyber.Scalar, error) {
	s := kp.suite.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return s, nil
}

func (kp *KyberProvider) point(b []byte) (kyber.Point, error) {
	p := kp.suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, errors.Wrap(err, "invalid public key")
	}
	return p, nil
}
