package docker

import "errors"

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrMalformedSample indicates the daemon returned a stats payload that could
// not be decoded.
var ErrMalformedSample = errors.New("docker: malformed stats sample")
