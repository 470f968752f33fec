// Package kingfisher holds the identity and vocabulary types shared by the
// image cache, the downloader and the manager: Resource (download URL plus
// cache key), CacheType (which tier satisfied a retrieval), the error codes
// surfaced to callers, and the per-request Options that flow through every
// layer. The package has no behavior of its own beyond small helpers, so it
// sits at the bottom of the import graph.
package kingfisher
