package transmit

import "errors"

// ErrDuplicateStream is returned by CreateStream when the uid already has a
// live stream. The existing stream is unaffected.
var ErrDuplicateStream = errors.New("transmit: stream already registered for uid")

// ErrStreamClosed is returned by writes against a stream that has been
// removed from the registry.
var ErrStreamClosed = errors.New("transmit: stream closed")
