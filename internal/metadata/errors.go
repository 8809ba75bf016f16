package metadata

import "fmt"

// ParseError reports metadata text that is not well-formed XML
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse metadata XML: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// EntityNotFoundError reports a requested entity set missing from the metadata
type EntityNotFoundError struct {
	Requested string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity set not found: %s", e.Requested)
}
