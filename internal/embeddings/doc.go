// Package embeddings turns text into vectors through interchangeable
// providers: a local Ollama server, the OpenAI API, or in-process ONNX
// models via fastembed-go.
//
// Every provider reports a ModelIdentity, which names the collection its
// vectors belong in. Vectors from different identities are never mixed.
package embeddings
