// services/pass_signer.go
package services

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/pkcs12"

	"salon-referral-system/config"
)

// PassSigner produces the detached PKCS#7 signature over manifest.json.
type PassSigner struct {
	Cert *x509.Certificate
	Key  crypto.PrivateKey
	WWDR *x509.Certificate
}

// LoadPassSigner reads PEM certificate + key, or a legacy PKCS#12 bundle,
// all base64 encoded. It returns ErrWalletNotConfigured when neither is set.
func LoadPassSigner(cfg config.WalletConfig) (*PassSigner, error) {
	var (
		signer PassSigner
		err    error
	)
	switch {
	case cfg.CertPEMBase64 != "" && cfg.KeyPEMBase64 != "":
		if signer.Cert, err = certFromBase64PEM(cfg.CertPEMBase64); err != nil {
			return nil, fmt.Errorf("pass certificate: %w", err)
		}
		if signer.Key, err = keyFromBase64PEM(cfg.KeyPEMBase64); err != nil {
			return nil, fmt.Errorf("pass key: %w", err)
		}
	case cfg.CertP12Base64 != "":
		raw, err := decodeBase64(cfg.CertP12Base64)
		if err != nil {
			return nil, fmt.Errorf("pass p12: %w", err)
		}
		key, cert, err := pkcs12.Decode(raw, cfg.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("decode pass p12: %w", err)
		}
		signer.Cert, signer.Key = cert, key
	default:
		return nil, ErrWalletNotConfigured
	}

	if cfg.WWDRPEMBase64 != "" {
		if signer.WWDR, err = certFromBase64PEM(cfg.WWDRPEMBase64); err != nil {
			return nil, fmt.Errorf("wwdr certificate: %w", err)
		}
	}
	return &signer, nil
}

// Sign returns a DER encoded detached signature using SHA-256.
func (s *PassSigner) Sign(manifest []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, fmt.Errorf("pkcs7 init: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(s.Cert, s.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("pkcs7 add signer: %w", err)
	}
	if s.WWDR != nil {
		sd.AddCertificate(s.WWDR)
	}
	sd.Detach()
	return sd.Finish()
}

// TLSCertificate reuses the pass certificate as the APNs client identity.
func (s *PassSigner) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{s.Cert.Raw},
		PrivateKey:  s.Key,
		Leaf:        s.Cert,
	}
}

func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if out, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return out, nil
	}
	return base64.RawStdEncoding.DecodeString(raw)
}

func pemBlock(b64 string) (*pem.Block, error) {
	raw, err := decodeBase64(b64)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return block, nil
}

func certFromBase64PEM(b64 string) (*x509.Certificate, error) {
	block, err := pemBlock(b64)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(block.Bytes)
}

func keyFromBase64PEM(b64 string) (crypto.PrivateKey, error) {
	block, err := pemBlock(b64)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key: %w", err)
	}
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key type %T", key)
}
