// Package server hosts the Fiber HTTP surface of the request cache sidecar:
// request-ID and recover middleware, the FetcherRegistry built once from
// config, the POST /v1/:upstream fetch endpoint, and the /-/ diagnostics
// routes. Keep exports narrow and accept explicit dependencies so tests can
// inject fake fetchers.
package server
