// Package rmm is the Reflective Memory Management core: middleware that
// gives a conversational agent a long-term memory continuously improved
// by online reinforcement learning from the agent's own citation
// behavior. It composes two subsystems over one shared data plane — the
// content-addressed vector store (package store), the per-user reranker
// weights and gradient accumulator (package reranker), and the
// memory-write pipeline (package memory) — behind five lifecycle hooks a
// host agent framework calls once per turn.
//
// Construct a Middleware with New, then call its five hook methods in
// order around each turn: BeforeAgent, BeforeModel, WrapModelCall,
// AfterModel, AfterAgent.
package rmm
