// Package server hosts the Fiber HTTP service that fronts the offline content
// cache. It attaches recover and request-id middleware, gates requests by Host
// (content domain or an allow-listed font origin) and hands matched requests
// to a RequestHandler. It also owns the shared upstream http.Client and the
// hop-by-hop header filter reused by the fetch layer.
package server
