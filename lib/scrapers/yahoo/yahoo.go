// Package yahoo extracts equity listings out of Yahoo Finance screener
// pages.
//
// The screener embeds its application state as JSON somewhere in the page,
// but the embedding convention, the location of the quote list inside the
// state, and the shape of the individual records all change between page
// variants. Everything in this package is therefore a best-effort structural
// search: locate a state tree, find the list inside it that looks most like
// quote records, and normalize whatever shape the records have.
package yahoo

import (
	"equity-crawler/lib/telemetry"
	"errors"
)

var tracer = telemetry.Tracer("equitycrawler.scrapers.yahoo")

const (
	// ScreenerPageURL is the browser-facing screener page. The region code
	// is appended as a query parameter.
	ScreenerPageURL = "https://finance.yahoo.com/research-hub/screener/equity/"
)

var (
	// ErrStateNotFound means no embedding convention produced a state tree.
	ErrStateNotFound = errors.New("embedded state not found")
	// ErrMalformedState means a convention's marker was present but its
	// payload was empty or failed to parse. The marker implies the page
	// intended that convention to be authoritative, so this is never
	// silently skipped.
	ErrMalformedState = errors.New("malformed embedded state")
	// ErrQuotesNotFound means a state tree was located but no list in it
	// looked like quote records.
	ErrQuotesNotFound = errors.New("quote list not found in state")
)
