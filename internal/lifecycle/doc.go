// Package lifecycle implements the cache generation lifecycle: precaching a
// versioned manifest (Install), reaping obsolete cache groups and announcing
// the running version to clients (Activate), and choosing a strategy for
// every intercepted request (Route), including byte-range synthesis from
// fully cached media.
//
// The hosting process calls the methods in order: Install must complete
// before Activate, and Activate before requests are routed. Route is safe
// for concurrent use.
package lifecycle
