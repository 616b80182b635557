package model

import "github.com/aristath/claude-pilot/internal/corerr"

func errValidation(msg string) error {
	return corerr.New(corerr.Validation, msg)
}

func errNotFound(msg string) error {
	return corerr.New(corerr.NotFound, msg)
}
