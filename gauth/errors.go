package gauth

import "errors"

// ErrKeyNotFound is returned from [Store.Key] when the key was never stored.
var ErrKeyNotFound = errors.New("authorized key not found")
