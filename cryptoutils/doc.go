// Package cryptoutils holds the certificate and symmetric crypto helpers used
// by the payment gateway client.
//
// # Merchant certificates
//
// ParseCertificateBundle turns a merchant bundle into CertificateMaterial.
// Two encodings are accepted:
//   - PKCS#12 (apiclient_cert.p12), decrypted with the certificate secret
//   - PEM with a CERTIFICATE block followed by an unencrypted private key
//
// The private key must match the certificate's public key. The serial number
// is rendered as upper-case hex, the same form the gateway expects in the
// Authorization header.
//
// # Platform certificates
//
// The gateway distributes its own signing certificates encrypted with the
// merchant APIv3 key using AEAD_AES_256_GCM. DecryptAES256GCM opens those
// payloads; ParseCertificatesPEM parses the result.
//
// # Fingerprints
//
// CertificateFingerprint returns the lower-case hex SHA-256 over the DER
// certificate. Pinned TLS policies compare against this value.
package cryptoutils
