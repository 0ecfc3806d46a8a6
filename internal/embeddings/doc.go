// Package embeddings turns evidence text into vectors for retrieval.
//
// Two providers are available: FastEmbed runs BGE-family models locally
// over ONNX, and an OpenAI-compatible client covers remote APIs. The
// factory picks one at runtime and infers the vector dimension for
// known models.
package embeddings
