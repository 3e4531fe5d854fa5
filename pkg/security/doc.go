/*
Package security protects the sensitive data handled by the daemon.

Values of sec objects are sealed with AES-256-GCM before they reach the node
store. The key is derived from the cluster secret with SHA-256, so every node
of a cluster can open the values sealed by any other node:

	sm, err := security.NewSecretsManagerFromPassword(cfg.Cluster.Secret)
	sealed, err := sm.SealData(map[string]string{"password": "s3cret"})
	// sealed["password"] == "sealed:<base64 nonce+ciphertext>"
	opened, err := sm.OpenData(sealed)

Sealed values carry the "sealed:" prefix. SealData leaves already sealed and
empty values untouched, so re-saving an object never double-encrypts.

TokenEqual compares bearer tokens in constant time. The API gateway uses it to
authenticate users and peers.
*/
package security
