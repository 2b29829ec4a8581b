package services

import "errors"

var (
	ErrBookNotFound        = errors.New("book not found")
	ErrAlreadyProcessing   = errors.New("book is already being processed")
	ErrAlreadyReady        = errors.New("book is already processed; delete it to reprocess")
	ErrSourceMissing       = errors.New("source file not uploaded")
	ErrUpstreamUnavailable = errors.New("answer provider unavailable")
)
