package main

import "errors"

var (
	errInitFailed     = errors.New("paywallctl: store connection could not be initialized")
	errUnknownOutcome = errors.New("paywallctl: outcome must be one of success, cancel, fail, manual")
	errUnknownPlan    = errors.New("paywallctl: no such plan in the catalog")
)
