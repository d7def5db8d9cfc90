// Package envelope provides authenticated encryption of session payloads.
//
// # Overview
//
// Sessions are serialized to JSON and sealed into an Envelope before they
// leave the process, whether bound for a cookie or a store record. Two
// interchangeable backends implement the Sealer interface:
//
//   - LocalSealer: AES-256-GCM under a fixed provisioned key, fresh random
//     nonce per call. The envelope carries base64 ciphertext, nonce, and tag.
//   - KMSSealer: AWS KMS Encrypt/Decrypt with an encryption context of
//     {service, purpose, session_hash_prefix}, so a ciphertext lifted from
//     one session record cannot be replayed under another.
//
// # Failure Semantics
//
// Open never reveals why decryption failed: tampered bytes, a truncated
// envelope, and a wrong encryption context all return the single opaque
// ErrIntegrity. Remote backend faults return ErrUpstream and are fatal to
// the operation in progress.
package envelope
