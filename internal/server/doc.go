// Package server hosts the Fiber HTTP surface in front of the image manager.
// Bootstrap builds the process-wide registry (host, cache, downloader,
// validator store, manager) from config; NewApp attaches the request-ID and
// recover middlewares and the /image endpoint. Diagnostics live under /-/ and
// are registered by the routes subpackage.
package server
