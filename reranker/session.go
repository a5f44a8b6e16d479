package reranker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/memory"
	"github.com/goblincore/rmm/statestore"
)

// BufferedMessage is one message appended to a user's durable buffer by
// AfterAgent. The buffer is append-only; nothing flips its state based on
// turn count.
type BufferedMessage struct {
	Role    string
	Content string
}

// Metadata is the per-user session metadata document used to detect
// incompatible reuse of a previously persisted store.
type Metadata struct {
	ConfigHash   string
	SessionCount int
	LastUpdated  time.Time
}

// UserState is the rehydrated, per-user durable state a turn operates
// against: weights, accumulator, message buffer, and metadata. Built by
// BeforeAgent and the only thing afterModel/afterAgent mutate.
type UserState struct {
	UserID             string
	Weights            Weights
	Accumulator        Accumulator
	Buffer             []BufferedMessage
	Metadata           Metadata
	DimensionValidated bool
	TurnCount          int
}

type metadataDoc struct {
	Version      int       `json:"version"`
	ConfigHash   string    `json:"configHash"`
	SessionCount int       `json:"sessionCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

const metadataSchemaVersion = 1

func loadMetadata(ctx context.Context, sessions corekit.SessionStore, userID string) Metadata {
	ns, key := statestore.MetadataLocation(userID)
	sv, err := sessions.Get(ctx, ns, key)
	if err != nil || sv == nil {
		return Metadata{}
	}
	var doc metadataDoc
	if err := json.Unmarshal(sv.Data, &doc); err != nil {
		return Metadata{}
	}
	if doc.SessionCount < 0 {
		return Metadata{}
	}
	return Metadata{ConfigHash: doc.ConfigHash, SessionCount: doc.SessionCount, LastUpdated: doc.LastUpdated}
}

func saveMetadata(ctx context.Context, sessions corekit.SessionStore, userID string, m Metadata) bool {
	data, err := json.Marshal(metadataDoc{Version: metadataSchemaVersion, ConfigHash: m.ConfigHash, SessionCount: m.SessionCount, LastUpdated: m.LastUpdated})
	if err != nil {
		return false
	}
	ns, key := statestore.MetadataLocation(userID)
	ok, err := sessions.Put(ctx, ns, key, corekit.StoredValue{Version: metadataSchemaVersion, Data: data})
	return err == nil && ok
}

type bufferDoc struct {
	Version  int               `json:"version"`
	Messages []BufferedMessage `json:"messages"`
}

func loadBuffer(ctx context.Context, sessions corekit.SessionStore, userID string) []BufferedMessage {
	ns, key := statestore.BufferLocation(userID)
	sv, err := sessions.Get(ctx, ns, key)
	if err != nil || sv == nil {
		return nil
	}
	var doc bufferDoc
	if err := json.Unmarshal(sv.Data, &doc); err != nil {
		return nil
	}
	return doc.Messages
}

func saveBuffer(ctx context.Context, sessions corekit.SessionStore, userID string, messages []BufferedMessage) bool {
	data, err := json.Marshal(bufferDoc{Version: 1, Messages: messages})
	if err != nil {
		return false
	}
	ns, key := statestore.BufferLocation(userID)
	ok, err := sessions.Put(ctx, ns, key, corekit.StoredValue{Version: 1, Data: data})
	return err == nil && ok
}

// turnsFromBuffer renders the message buffer as dialogue turns for the
// write pipeline, SPEAKER_1 for the user and SPEAKER_2 for the assistant.
func turnsFromBuffer(buffer []BufferedMessage) []memory.Turn {
	turns := make([]memory.Turn, len(buffer))
	for i, m := range buffer {
		speaker := "SPEAKER_2"
		if m.Role == "user" {
			speaker = "SPEAKER_1"
		}
		turns[i] = memory.Turn{Index: i, Speaker: speaker, Text: m.Content}
	}
	return turns
}
