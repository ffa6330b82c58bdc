/*
Package evhttp provides an event-driven, non-blocking HTTP/1.x server for Go.

A single goroutine runs an edge-triggered readiness loop (epoll on Linux,
kqueue on macOS) over raw sockets. Each connection carries an incremental
request parser and a response buffer that survives short writes, and
connections that ask for keep-alive are recycled for the next request.

Features

  - Single-threaded reactor: no locks on the request path
  - Incremental parsing: requests may arrive in any number of chunks
  - Partial write recovery: unsent bytes are retried on the next writable event
  - Keep-alive: explicit "Connection: keep-alive" reuses the connection
  - Static routing: exact paths with 404 and 405 (with Allow) handling
  - Protocol errors: 400 for malformed and 413 for oversized requests
  - Optional idle eviction and a stats route (JSON or protobuf)

Quick Start

Basic usage example:

package main

import (
    "github.com/searchktools/evhttp/app"
    "github.com/searchktools/evhttp/config"
    "github.com/searchktools/evhttp/core/http"
)

func main() {
    cfg := config.New()
    application := app.New(cfg)

    application.RegisterHandler("/echo", func(req *http.Request, resp *http.Response) {
        resp.JSON(http.StatusOK, map[string]string{
            "name": req.QueryValue("name"),
        })
    })

    if err := application.Run(); err != nil {
        application.Logger().Fatal().Err(err).Msg("server failed")
    }
}

Handlers run on the reactor goroutine and must never block.

Modules

The server is organized into several modules:

  - app: Application lifecycle, logging and signal handling
  - config: Configuration from defaults, JSON file, environment and flags
  - core: Reactor engine and the protocol handler interface
  - core/poller: Readiness notification (epoll/kqueue)
  - core/http: Request parser, response writer and route dispatch
  - core/router: Exact-match route table
  - core/middleware: Filters run ahead of route handlers
  - core/pools: Tiered byte buffer pool
  - core/stats: Server counters and their encodings
*/
package evhttp
