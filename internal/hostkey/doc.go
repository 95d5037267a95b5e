// Package hostkey manages the server's long-lived SSH host keys.
//
// Features:
//   - A closed set of host key algorithms (ECDSA P-256 and Ed25519), each with
//     its SSH wire identifier and a file-safe canonical name
//   - Key generation to PKCS#8 DER and decoding back into a signing key
//   - Persistence as one PEM file per algorithm, ssh_<name>_key.pem
//   - A read-only Store shared by every connection handler
//   - Typed errors separating I/O, crypto, key rejection and PEM failures
//
// Usage:
//  1. Call Load with the key directory and SystemRandom() at startup
//  2. Hand the returned Store to the server
//  3. Look up a key with Store.Get and sign with HostKey.Sign
package hostkey
