// Package server implements the HTTP surface of the feedback service: the
// public submit endpoint, the Basic-auth admin API and pages, and the
// middleware stack around them (request ids, logging, metrics, security
// headers, CORS, gzip and per-client rate limiting).
package server
