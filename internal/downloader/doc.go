// Package downloader fetches image bytes over HTTP and collapses concurrent
// requests for the same URL into one transfer. Every caller attaches its
// progress and completion callbacks to a shared in-flight record; cancelling
// one caller only detaches it, and the transfer itself is aborted once the
// last caller is gone. Completed bytes are decoded once per distinct
// processor and fanned out to every attached caller.
package downloader
