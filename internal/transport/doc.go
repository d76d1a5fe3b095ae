// Package transport is the network front-end of the switch: it terminates
// TCP and Unix sockets, performs the _hand handshake (optionally upgrading
// the connection to AEAD-sealed frames), and adapts each accepted socket to
// a switch stream obtained via switchcore.Manager.Connect.
//
// Wire frame format: a 4-byte big-endian length L (inclusive of itself)
// followed by L-4 body bytes — the encoded message in plaintext mode, or
// ciphertext plus a 16-byte tag in AEAD mode. Frames larger than 64 MiB
// cause the connection to be dropped.
package transport
