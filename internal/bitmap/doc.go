// Package bitmap is the in-memory image model of the loader. An Image keeps
// every decoded frame (animated GIFs keep their frame delays and the raw
// bytes they came from), its logical scale, and the format it was decoded
// from. The package also provides the pluggable Processor and Serializer
// hooks the cache and downloader apply to raw bytes.
package bitmap
