package statestore

// Canonical namespace/key pairs for the per-user documents. Centralized
// here so every caller (reranker weights/accumulator, session metadata,
// message buffer) addresses the same location for a given userId.

// WeightsLocation returns the (namespace, key) pair for a user's reranker
// weights document.
func WeightsLocation(userID string) ([]string, string) {
	return []string{"rmm", userID, "weights"}, "reranker"
}

// AccumulatorLocation returns the (namespace, key) pair for a user's
// gradient accumulator document.
func AccumulatorLocation(userID string) ([]string, string) {
	return []string{"rmm", userID, "accumulator"}, "gradient"
}

// MetadataLocation returns the (namespace, key) pair for a user's session
// metadata document.
func MetadataLocation(userID string) ([]string, string) {
	return []string{"rmm", userID, "metadata"}, "session"
}

// BufferLocation returns the (namespace, key) pair for a user's message
// buffer document.
func BufferLocation(userID string) ([]string, string) {
	return []string{"rmm", userID, "buffer"}, "message-buffer"
}
