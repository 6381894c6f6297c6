package websocket

// Config holds the tunables spec.md §6 lists for a running server: the
// listen port, the synopsebinary encryption key, which envelope codecs
// are enabled, the two callback dispatcher timeouts, and whether
// synopsebinary compresses its payloads.
type Config struct {
	// Port is the TCP port the HTTP server listening for upgrade
	// requests binds to.
	Port int

	// EncryptionKey, when non-empty, enables synopsebinary's AES-CFB
	// payload encryption (spec.md §4.3). Empty disables it.
	EncryptionKey string

	// EncryptionIV is the companion nonce material for EncryptionKey.
	// Both must be non-empty for encryption to take effect.
	EncryptionIV string

	// EnableJSON registers the synopsejson sub-protocol. Disabling it
	// is only useful when a deployment wants to restrict itself to
	// synopsebinary.
	EnableJSON bool

	// CallbackAcquireTimeoutMS bounds how long Server.Callback waits to
	// acquire a connection before failing with ErrAcquireTimeout.
	CallbackAcquireTimeoutMS int

	// CallbackAnswerTimeoutMS bounds how long Server.Callback waits for
	// the client's answer frame before failing with ErrAnswerTimeout.
	CallbackAnswerTimeoutMS int

	// Compressed enables synopsebinary's compression stage.
	Compressed bool
}

// DefaultConfig returns the configuration spec.md §6 lists as defaults:
// a 5s acquire timeout, a 1s answer timeout, and compression on.
func DefaultConfig() Config {
	return Config{
		Port:                     8080,
		EnableJSON:               true,
		CallbackAcquireTimeoutMS: 5000,
		CallbackAnswerTimeoutMS:  1000,
		Compressed:               true,
	}
}
